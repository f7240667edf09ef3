// Package config loads the small, env-driven configuration surface this
// system actually needs: orchestrator budgets/depth, REPL pool sizing, and
// memory-gate tier policy, plus the ambient logging/otel/database fields.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// OrchestratorConfig mirrors the original Rust OrchestratorConfig exactly in
// field meaning and defaults (see original_source/rlm-core/src/orchestrator.rs).
type OrchestratorConfig struct {
	MaxDepth          uint32
	DefaultSpawnRepl  bool
	ReplTimeout       time.Duration
	MaxTokensPerCall  uint64
	TotalTokenBudget  uint64
	CostBudgetUSD     float64
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxDepth:         3,
		DefaultSpawnRepl: true,
		ReplTimeout:      30 * time.Second,
		MaxTokensPerCall: 4096,
		TotalTokenBudget: 100_000,
		CostBudgetUSD:    1.0,
	}
}

// ReplPoolConfig sizes and bounds the REPL subprocess pool (spec.md §4.2/§6).
type ReplPoolConfig struct {
	Interpreter    string
	MaxHandles     int
	SpawnTimeout   time.Duration
	ExecuteTimeout time.Duration
	IdleTTL        time.Duration
	// WarmStart is reserved for Open Question (a); always false today.
	WarmStart bool
}

func DefaultReplPoolConfig() ReplPoolConfig {
	return ReplPoolConfig{
		Interpreter:    "python3",
		MaxHandles:     4,
		SpawnTimeout:   5 * time.Second,
		ExecuteTimeout: 30 * time.Second,
		IdleTTL:        2 * time.Minute,
		WarmStart:      false,
	}
}

// TierPolicy holds the promotion/demotion thresholds resolved for Open
// Question (c): promote_threshold is a confidence*log2(1+access_count)
// score per tier transition, min_age gates how soon a node is eligible.
type TierPolicy struct {
	PromoteThreshold [3]float64
	MinAge           [3]time.Duration
}

func DefaultTierPolicy() TierPolicy {
	return TierPolicy{
		PromoteThreshold: [3]float64{2.0, 3.0, 4.0},
		MinAge:           [3]time.Duration{0, time.Hour, 24 * time.Hour},
	}
}

// MemoryGateConfig configures both the hypergraph store and the epistemic
// gate that screens candidates before they reach it (spec.md §6's
// MemoryGateConfig{n_samples, tau_reject, min_admit_tier}).
type MemoryGateConfig struct {
	DatabasePath string
	InMemory     bool
	Tier         TierPolicy
	// DefaultSpecificity is loaded from RLM_DEFAULT_SPECIFICITY. Neither the
	// gate nor the orchestrator reads it: a claim without a specificity is
	// evaluated at 0, which the gate clamps to its minimum.
	DefaultSpecificity float64
	// NSamples is how many confirmation samples the gate draws per context
	// variant (spec.md §4.4 step 2).
	NSamples int
	// TauReject is the KL-gap threshold above which a claim is rejected
	// outright rather than admitted at attenuated confidence (spec.md §4.4
	// step 6).
	TauReject float64
	// MinAdmitTier is the lowest memory.Tier value a gate-accepted claim may
	// be written at (spec.md §6); kept as a plain int here rather than
	// importing internal/memory's Tier type, since config has no other
	// reason to depend on the memory package. orchestrator.handleMemoryWrite
	// always admits at memory.TierTask (0), which satisfies any
	// MinAdmitTier <= 0.
	MinAdmitTier int
}

func DefaultMemoryGateConfig() MemoryGateConfig {
	return MemoryGateConfig{
		DatabasePath:       "rlm.db",
		InMemory:           false,
		Tier:               DefaultTierPolicy(),
		DefaultSpecificity: 0.8,
		NSamples:           5,
		TauReject:          2.0,
		MinAdmitTier:       0,
	}
}

// ObsConfig configures logging and OpenTelemetry export.
type ObsConfig struct {
	ServiceName  string
	Environment  string
	Version      string
	LogPath      string
	LogLevel     string
	OTLPEndpoint string
}

// Config is the fully assembled configuration surface for cmd/rlmd.
type Config struct {
	Orchestrator OrchestratorConfig
	ReplPool     ReplPoolConfig
	Memory       MemoryGateConfig
	Obs          ObsConfig
}

// Load reads .env (if present) via godotenv.Overload, then applies typed
// environment overrides on top of the defaults above, matching the
// teacher's env-then-defaults Load() shape.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Orchestrator: DefaultOrchestratorConfig(),
		ReplPool:     DefaultReplPoolConfig(),
		Memory:       DefaultMemoryGateConfig(),
		Obs: ObsConfig{
			ServiceName: "rlmd",
			Environment: "development",
			Version:     "dev",
			LogPath:     "",
			LogLevel:    "info",
		},
	}

	if v := os.Getenv("RLM_MAX_DEPTH"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Orchestrator.MaxDepth = uint32(n)
		}
	}
	if v := os.Getenv("RLM_DEFAULT_SPAWN_REPL"); v != "" {
		cfg.Orchestrator.DefaultSpawnRepl = parseBool(v, cfg.Orchestrator.DefaultSpawnRepl)
	}
	if v := os.Getenv("RLM_REPL_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Orchestrator.ReplTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("RLM_MAX_TOKENS_PER_CALL"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Orchestrator.MaxTokensPerCall = n
		}
	}
	if v := os.Getenv("RLM_TOTAL_TOKEN_BUDGET"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Orchestrator.TotalTokenBudget = n
		}
	}
	if v := os.Getenv("RLM_COST_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Orchestrator.CostBudgetUSD = f
		}
	}

	if v := os.Getenv("RLM_REPL_INTERPRETER"); v != "" {
		cfg.ReplPool.Interpreter = v
	}
	if v := os.Getenv("RLM_REPL_MAX_HANDLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReplPool.MaxHandles = n
		}
	}
	if v := os.Getenv("RLM_REPL_EXECUTE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ReplPool.ExecuteTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("RLM_REPL_IDLE_TTL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ReplPool.IdleTTL = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("RLM_DATABASE_PATH"); v != "" {
		cfg.Memory.DatabasePath = v
	}
	if v := os.Getenv("RLM_DATABASE_IN_MEMORY"); v != "" {
		cfg.Memory.InMemory = parseBool(v, cfg.Memory.InMemory)
	}
	if v := os.Getenv("RLM_GATE_N_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Memory.NSamples = n
		}
	}
	if v := os.Getenv("RLM_GATE_TAU_REJECT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Memory.TauReject = f
		}
	}
	if v := os.Getenv("RLM_DEFAULT_SPECIFICITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Memory.DefaultSpecificity = f
		}
	}

	if v := os.Getenv("RLM_SERVICE_NAME"); v != "" {
		cfg.Obs.ServiceName = v
	}
	if v := os.Getenv("RLM_ENVIRONMENT"); v != "" {
		cfg.Obs.Environment = v
	}
	if v := os.Getenv("RLM_LOG_PATH"); v != "" {
		cfg.Obs.LogPath = v
	}
	if v := os.Getenv("RLM_LOG_LEVEL"); v != "" {
		cfg.Obs.LogLevel = v
	}
	if v := os.Getenv("RLM_OTLP_ENDPOINT"); v != "" {
		cfg.Obs.OTLPEndpoint = v
	}

	return cfg, nil
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
