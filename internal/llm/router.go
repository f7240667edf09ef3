package llm

import (
	"regexp"
	"strings"
)

// Tier is a model cost/capability tier, matching spec.md §4.6's
// flagship/balanced/fast classification.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierFlagship Tier = "flagship"
)

// ModelEntry names a concrete model belonging to a tier, with an
// approximate blended cost used for budget-forced downgrade decisions.
type ModelEntry struct {
	ID        string
	Provider  string
	Tier      Tier
	CostPer1K float64
}

// Route classifies a query by keyword/regex into a query kind, the first
// step of spec.md §4.6's classification rule.
type Route struct {
	Name     string
	Contains []string
	Regex    []string
	Tier     Tier
}

// Router maps a query and recursion depth to a model tier, with a
// fallback cascade consulted when the preferred tier has no available
// models or the budget forces a downgrade (supplemented from
// original_source/rlm-core/src/llm/router.rs).
type Router struct {
	models   []ModelEntry
	routes   []Route
	provider string
}

func NewRouter(models []ModelEntry, routes []Route) *Router {
	return &Router{models: models, routes: routes}
}

// DefaultRoutes gives a reasonable keyword classification for the kinds of
// sub-queries an orchestrator run produces: code-shaped work routes to a
// REPL-capable tier, broad research questions route to the flagship tier,
// everything else defaults to balanced.
func DefaultRoutes() []Route {
	return []Route{
		{
			Name:     "code",
			Contains: []string{"```", "def ", "function ", "import ", "class "},
			Regex:    []string{`(?i)\b(compile|traceback|stack ?trace)\b`},
			Tier:     TierFast,
		},
		{
			Name:     "research",
			Contains: []string{"compare", "survey", "comprehensive", "analyze"},
			Regex:    []string{`(?i)\bwhy\b.*\bbecause\b`},
			Tier:     TierFlagship,
		},
	}
}

// SetProvider restricts ClassifyModel's candidates to a single provider.
// Pass "" to disable filtering.
func (r *Router) SetProvider(provider string) { r.provider = provider }

// ClassifyQuery returns the first route matching text and true, or a zero
// Route and false when nothing matches (the caller then falls back to
// TierBalanced).
func (r *Router) ClassifyQuery(text string) (Route, bool) {
	if text == "" {
		return Route{}, false
	}
	lc := strings.ToLower(text)
	for _, rt := range r.routes {
		for _, c := range rt.Contains {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" && strings.Contains(lc, c) {
				return rt, true
			}
		}
		for _, pat := range rt.Regex {
			pat = strings.TrimSpace(pat)
			if pat == "" {
				continue
			}
			re, err := regexp.Compile(pat)
			if err != nil {
				continue
			}
			if re.MatchString(text) {
				return rt, true
			}
		}
	}
	return Route{}, false
}

// TierForDepth downshifts the classified tier one step per unit of depth
// beyond 0, bottoming out at fast (spec.md §4.6: "down-shift one tier per
// unit of depth beyond 0, bottoming at fast").
func TierForDepth(tier Tier, depth uint32) Tier {
	for i := uint32(0); i < depth; i++ {
		switch tier {
		case TierFlagship:
			tier = TierBalanced
		case TierBalanced:
			tier = TierFast
		default:
			return TierFast
		}
	}
	return tier
}

// SelectModel resolves a tier (with budget-forced downgrade and fallback
// cascade) to a concrete model ID, grounded on
// aladin2907-overhuman/internal/brain/router.go's Select.
func (r *Router) SelectModel(tier Tier, budgetRemainingUSD float64) string {
	target := tier
	if budgetRemainingUSD < 0.10 {
		target = TierFast
	} else if budgetRemainingUSD < 1.0 && target == TierFlagship {
		target = TierBalanced
	}

	if id, ok := r.firstMatch(target); ok {
		return id
	}
	for _, t := range tierFallback(target) {
		if id, ok := r.firstMatch(t); ok {
			return id
		}
	}
	for _, m := range r.models {
		if r.matchesProvider(m) {
			return m.ID
		}
	}
	if len(r.models) > 0 {
		return r.models[0].ID
	}
	return ""
}

func (r *Router) firstMatch(tier Tier) (string, bool) {
	for _, m := range r.models {
		if r.matchesProvider(m) && m.Tier == tier {
			return m.ID, true
		}
	}
	return "", false
}

func (r *Router) matchesProvider(m ModelEntry) bool {
	return r.provider == "" || m.Provider == r.provider
}

func tierFallback(tier Tier) []Tier {
	switch tier {
	case TierFlagship:
		return []Tier{TierBalanced, TierFast}
	case TierBalanced:
		return []Tier{TierFast, TierFlagship}
	case TierFast:
		return []Tier{TierBalanced, TierFlagship}
	default:
		return []Tier{TierFast, TierBalanced, TierFlagship}
	}
}
