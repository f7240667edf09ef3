// Package budget implements the Budget Ledger (spec.md §4.6): atomic
// reservation/commit/release of a session's shared token and cost budget,
// with threshold alerts broadcast on the Trajectory Bus.
//
// Grounded on aladin2907-overhuman/internal/budget/tracker.go's single-mutex
// spend tracking, extended with the reserve/commit split spec.md's
// non-overcommit testable property requires: Record() alone cannot express
// "I intend to spend up to X, block others from double-spending the same
// X, then true up to the real amount."
package budget

import (
	"sync"
	"time"

	"rlm/internal/rlmerr"
	"rlm/internal/trajectory"

	"github.com/google/uuid"
)

// thresholds are the usage fractions at which an alert is broadcast,
// per spec.md §4.6.
var thresholds = []float64{0.50, 0.80, 0.95}

// State is a point-in-time snapshot of ledger usage (spec.md §3 BudgetState).
type State struct {
	TokensUsed    uint64
	CostUSDUsed   float64
	TokensBudget  uint64
	CostUSDBudget float64
	// PerDepthTokens tracks token usage attributed to each recursion depth.
	PerDepthTokens map[uint32]uint64
}

// ReservationToken identifies an outstanding reservation returned by Reserve.
type ReservationToken struct {
	id           string
	tokensHint   uint64
	costHint     float64
	depth        uint32
}

// Ledger tracks tokens and cost across a session. All state transitions are
// serialized on a single mutex, matching spec.md §5's "single mutex, short
// critical sections" discipline.
type Ledger struct {
	mu sync.Mutex

	tokensBudget  uint64
	costUSDBudget float64

	tokensReserved uint64
	costReserved   float64

	tokensUsed  uint64
	costUSDUsed float64

	perDepthTokens map[uint32]uint64

	alerted map[float64]bool

	bus *trajectory.Bus
}

func New(tokensBudget uint64, costUSDBudget float64, bus *trajectory.Bus) *Ledger {
	return &Ledger{
		tokensBudget:   tokensBudget,
		costUSDBudget:  costUSDBudget,
		perDepthTokens: make(map[uint32]uint64),
		alerted:        make(map[float64]bool),
		bus:            bus,
	}
}

// Reserve seeks to reserve tokensHint/costHint against the remaining budget.
// It returns rlmerr.ErrBudgetExhausted (wrapped) if the reservation would
// overcommit either budget dimension.
func (l *Ledger) Reserve(tokensHint uint64, costHint float64, depth uint32) (ReservationToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tokensUsed+l.tokensReserved+tokensHint > l.tokensBudget {
		return ReservationToken{}, rlmerr.New(rlmerr.KindBudgetExhausted, "budget.reserve", "token budget exhausted", nil)
	}
	if l.costUSDUsed+l.costReserved+costHint > l.costUSDBudget {
		return ReservationToken{}, rlmerr.New(rlmerr.KindBudgetExhausted, "budget.reserve", "cost budget exhausted", nil)
	}

	l.tokensReserved += tokensHint
	l.costReserved += costHint

	return ReservationToken{id: uuid.NewString(), tokensHint: tokensHint, costHint: costHint, depth: depth}, nil
}

// Commit finalizes a reservation with the actual usage observed, which may
// differ from the hint. Commit is additive and always succeeds. When actual
// usage is at or below the hint it only frees unused headroom; when it is
// above the hint, the full actual amount is still recorded without a budget
// check, so committed usage can then exceed the budget.
func (l *Ledger) Commit(tok ReservationToken, actualTokens uint64, actualCost float64) []AlertEvent {
	l.mu.Lock()

	l.tokensReserved -= tok.tokensHint
	l.costReserved -= tok.costHint

	l.tokensUsed += actualTokens
	l.costUSDUsed += actualCost
	l.perDepthTokens[tok.depth] += actualTokens

	alerts := l.checkThresholdsLocked()
	l.mu.Unlock()

	if l.bus != nil {
		for _, a := range alerts {
			l.bus.Publish(trajectory.Event{
				Type:      trajectory.EventBudgetAlert,
				Timestamp: time.Now(),
				Depth:     tok.depth,
				Payload:   a,
			})
		}
	}
	return alerts
}

// Release returns an unused reservation to the pool without recording any
// usage, used when a sub-call is cancelled or refused before running.
func (l *Ledger) Release(tok ReservationToken) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokensReserved -= tok.tokensHint
	l.costReserved -= tok.costHint
}

// AlertEvent is the payload of a budget-alert trajectory event.
type AlertEvent struct {
	Resource  string  `json:"resource"` // "tokens" | "cost"
	Threshold float64 `json:"threshold"`
	Fraction  float64 `json:"fraction"`
}

// checkThresholdsLocked must be called with mu held.
func (l *Ledger) checkThresholdsLocked() []AlertEvent {
	var alerts []AlertEvent

	if l.tokensBudget > 0 {
		frac := float64(l.tokensUsed) / float64(l.tokensBudget)
		for _, th := range thresholds {
			key := th + 1000 // disambiguate tokens vs cost in the alerted set
			if frac >= th && !l.alerted[key] {
				l.alerted[key] = true
				alerts = append(alerts, AlertEvent{Resource: "tokens", Threshold: th, Fraction: frac})
			}
		}
	}
	if l.costUSDBudget > 0 {
		frac := l.costUSDUsed / l.costUSDBudget
		for _, th := range thresholds {
			if frac >= th && !l.alerted[th] {
				l.alerted[th] = true
				alerts = append(alerts, AlertEvent{Resource: "cost", Threshold: th, Fraction: frac})
			}
		}
	}
	return alerts
}

// State returns a snapshot of current usage.
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	perDepth := make(map[uint32]uint64, len(l.perDepthTokens))
	for k, v := range l.perDepthTokens {
		perDepth[k] = v
	}
	return State{
		TokensUsed:     l.tokensUsed,
		CostUSDUsed:    l.costUSDUsed,
		TokensBudget:   l.tokensBudget,
		CostUSDBudget:  l.costUSDBudget,
		PerDepthTokens: perDepth,
	}
}

// Exhausted reports whether either budget dimension has been fully consumed
// by committed usage alone (ignoring outstanding reservations).
func (l *Ledger) Exhausted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokensUsed >= l.tokensBudget || l.costUSDUsed >= l.costUSDBudget
}

// RemainingCostUSD reports the committed-plus-reserved remaining cost
// budget, used by the router for tier downgrade decisions.
func (l *Ledger) RemainingCostUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.costUSDBudget - l.costUSDUsed - l.costReserved
	if r < 0 {
		return 0
	}
	return r
}
