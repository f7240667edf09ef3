package budget

import (
	"errors"
	"sync"
	"testing"

	"rlm/internal/rlmerr"
	"rlm/internal/trajectory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveCommitWithinBudget(t *testing.T) {
	bus := trajectory.NewBus()
	l := New(1000, 1.0, bus)

	tok, err := l.Reserve(500, 0.4, 0)
	require.NoError(t, err)

	l.Commit(tok, 480, 0.38)

	st := l.State()
	assert.EqualValues(t, 480, st.TokensUsed)
	assert.InDelta(t, 0.38, st.CostUSDUsed, 1e-9)
}

func TestReserveRejectsOvercommit(t *testing.T) {
	bus := trajectory.NewBus()
	l := New(100, 0.02, bus)

	_, err := l.Reserve(50, 0.015, 0)
	require.NoError(t, err)

	_, err = l.Reserve(0, 0.015, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rlmerr.ErrBudgetExhausted))
}

func TestNoOvercommitUnderConcurrency(t *testing.T) {
	bus := trajectory.NewBus()
	l := New(1_000_000, 1000, bus)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := l.Reserve(10_000, 0, 0)
			if err != nil {
				return
			}
			l.Commit(tok, 10_000, 0)
			mu.Lock()
			successes++
			mu.Unlock()
		}()
	}
	wg.Wait()

	st := l.State()
	assert.LessOrEqual(t, st.TokensUsed, uint64(1_000_000))
	assert.EqualValues(t, successes*10_000, st.TokensUsed)
}

func TestCommitEmitsThresholdAlertsOnce(t *testing.T) {
	bus := trajectory.NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	l := New(100, 1.0, bus)

	tok, err := l.Reserve(60, 0, 0)
	require.NoError(t, err)
	alerts := l.Commit(tok, 60, 0)
	require.Len(t, alerts, 1)
	assert.Equal(t, 0.50, alerts[0].Threshold)

	tok2, err := l.Reserve(0, 0, 0)
	require.NoError(t, err)
	alerts = l.Commit(tok2, 0, 0)
	assert.Empty(t, alerts)
}

func TestReleaseFreesReservationWithoutUsage(t *testing.T) {
	bus := trajectory.NewBus()
	l := New(100, 1.0, bus)

	tok, err := l.Reserve(100, 1.0, 0)
	require.NoError(t, err)

	l.Release(tok)

	tok2, err := l.Reserve(100, 1.0, 0)
	require.NoError(t, err)
	l.Commit(tok2, 100, 1.0)

	assert.True(t, l.Exhausted())
}
