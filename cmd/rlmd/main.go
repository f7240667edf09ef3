// Command rlmd is a thin single-shot driver over the orchestrator: it runs
// one query from the command line and prints the final answer, matching the
// exit-code contract in spec.md §6 (0 final-answer, 2 budget exhaustion, 3
// timeout, 1 other errors). Grounded on the shape of
// intelligencedev-manifold/cmd/agentd/main.go's startup sequence (load .env,
// init logger, load config, best-effort otel init) adapted from an HTTP
// server to a one-shot CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rlm/internal/config"
	"rlm/internal/epistemic"
	"rlm/internal/llm"
	"rlm/internal/memory"
	"rlm/internal/observability"
	"rlm/internal/orchestrator"
	"rlm/internal/repl"
	"rlm/internal/rlmerr"
	"rlm/internal/trajectory"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("rlmd", flag.ContinueOnError)
	query := fs.String("query", "", "the query to run (alternatively, pass it as a trailing positional argument)")
	timeout := fs.Duration("timeout", 5*time.Minute, "overall wall-clock budget for the run; 0 disables it")
	verbose := fs.Bool("verbose", false, "log every trajectory event at debug level as it is published")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	q := *query
	if q == "" && fs.NArg() > 0 {
		q = fs.Arg(0)
	}
	if q == "" {
		fmt.Fprintln(os.Stderr, "usage: rlmd -query \"...\" (or: rlmd \"...\")")
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)
	logger := log.With().Str("component", "rlmd").Logger()

	ctx := context.Background()
	if cfg.Obs.OTLPEndpoint != "" {
		shutdown, err := observability.InitOTel(ctx, cfg.Obs)
		if err != nil {
			logger.Warn().Err(err).Msg("otel init failed, continuing without tracing")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	bus := trajectory.NewBus()
	if *verbose {
		if zerolog.GlobalLevel() > zerolog.DebugLevel {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		sub := bus.Subscribe()
		defer sub.Unsubscribe()
		go logTrajectory(sub, logger)
	}

	router := llm.NewRouter(stubModels(), llm.DefaultRoutes())

	pool := repl.New(cfg.ReplPool, bus)
	defer pool.Close()
	reapCtx, cancelReap := context.WithCancel(ctx)
	defer cancelReap()
	pool.StartReaper(reapCtx, 0)

	dbPath := cfg.Memory.DatabasePath
	if cfg.Memory.InMemory {
		dbPath = ":memory:"
	}
	db, err := memory.Open(dbPath)
	if err != nil {
		logger.Error().Err(err).Str("path", dbPath).Msg("open memory store")
		return 1
	}
	defer db.Close()
	store := memory.NewStore(db)

	provider := stubProvider{}
	gate := epistemic.NewGate(stubConfirmer{}, cfg.Memory.NSamples, cfg.Memory.TauReject)

	orch := orchestrator.New(cfg.Orchestrator, router, provider, pool, store, gate, bus)

	runCtx := ctx
	if *timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	result, err := orch.Run(runCtx, q, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || rlmerr.KindOf(err) == rlmerr.KindTimeout {
			logger.Error().Err(err).Msg("run timed out")
			return 3
		}
		if rlmerr.KindOf(err) == rlmerr.KindBudgetExhausted {
			logger.Error().Err(err).Msg("budget exhausted")
			return 2
		}
		logger.Error().Err(err).Msg("run failed")
		return 1
	}
	if result.Aborted {
		fmt.Fprintf(os.Stderr, "aborted: %s\n", result.AbortReason)
		return 2
	}

	fmt.Println(result.Content)
	return 0
}

// logTrajectory drains sub until its channel closes (on Unsubscribe),
// logging each event at debug level. Intended for -verbose runs where a
// human is watching the recursion unfold rather than just its final answer.
func logTrajectory(sub *trajectory.Subscription, logger zerolog.Logger) {
	for ev := range sub.Events() {
		logger.Debug().
			Str("event", string(ev.Type)).
			Uint32("depth", ev.Depth).
			Str("correlation_id", ev.CorrelationID).
			Interface("payload", ev.Payload).
			Msg("trajectory")
	}
}
