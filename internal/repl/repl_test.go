package repl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlm/internal/config"
	"rlm/internal/signature"
	"rlm/internal/trajectory"
)

// writeFakeInterpreter writes a tiny shell "interpreter" that reads
// newline-delimited JSON frames and answers each one as behavior says (for
// submitBehavior: a stdout frame, then a submit frame carrying
// {"count": 3}); like a real REPL, the submit behaviors send no reply to a
// register_signature frame. This stands
// in for a real REPL subprocess so the pool/handle lifecycle can be
// exercised without a Python dependency.
func writeFakeInterpreter(t *testing.T, behavior string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake_interp.sh")
	script := "#!/bin/sh\n" + behavior
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const submitBehavior = `
while IFS= read -r line; do
  case "$line" in *'"register_signature"'*) continue ;; esac
  printf '{"kind":"stdout","correlation_id":"x","payload":"running\\n"}\n'
  printf '{"kind":"submit","correlation_id":"x","payload":{"count":3}}\n'
done
`

const multipleSubmitBehavior = `
while IFS= read -r line; do
  case "$line" in *'"register_signature"'*) continue ;; esac
  printf '{"kind":"submit","correlation_id":"x","payload":{"count":3}}\n'
  printf '{"kind":"submit","correlation_id":"x","payload":{"count":99}}\n'
done
`

const doneNoSubmitBehavior = `
while IFS= read -r line; do
  printf '{"kind":"done","correlation_id":"x"}\n'
done
`

const exitImmediatelyBehavior = `
exit 0
`

func testRegistration() signature.Registration {
	return signature.NewRegistration([]signature.FieldSpec{
		signature.NewField("count", signature.Integer()),
	})
}

func TestPoolCheckoutExecuteSubmit(t *testing.T) {
	interp := writeFakeInterpreter(t, submitBehavior)
	bus := trajectory.NewBus()
	pool := New(config.ReplPoolConfig{
		Interpreter:  interp,
		MaxHandles:   2,
		SpawnTimeout: 5 * time.Second,
	}, bus)
	defer pool.Close()

	ctx := context.Background()
	h, err := pool.Checkout(ctx)
	require.NoError(t, err)
	defer pool.Return(h)

	require.NoError(t, h.RegisterSignature(ctx, testRegistration()))

	outcome := h.Execute(ctx, 0, "corr-1", "print(1)", nil, 2*time.Second)
	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Result.IsSuccess())
	assert.Equal(t, float64(3), outcome.Result.Outputs["count"])
}

func TestExecuteSecondSubmitIsIgnoredAndDiagnosed(t *testing.T) {
	interp := writeFakeInterpreter(t, multipleSubmitBehavior)
	bus := trajectory.NewBus()
	pool := New(config.ReplPoolConfig{Interpreter: interp, MaxHandles: 1, SpawnTimeout: 5 * time.Second}, bus)
	defer pool.Close()

	ctx := context.Background()
	h, err := pool.Checkout(ctx)
	require.NoError(t, err)
	defer pool.Return(h)
	require.NoError(t, h.RegisterSignature(ctx, testRegistration()))

	outcome := h.Execute(ctx, 0, "corr-5", "print(1)", nil, 2*time.Second)
	require.NoError(t, outcome.Err)
	require.True(t, outcome.Result.IsSuccess())
	assert.Equal(t, float64(3), outcome.Result.Outputs["count"])

	var found bool
	for _, e := range outcome.Result.Errors {
		if e.Kind == signature.ErrMultipleSubmits {
			found = true
			assert.Equal(t, uint32(1), e.Count)
		}
	}
	assert.True(t, found, "expected a MultipleSubmits diagnostic")
}

func TestExecuteDoneWithoutSubmitYieldsNotSubmitted(t *testing.T) {
	interp := writeFakeInterpreter(t, doneNoSubmitBehavior)
	bus := trajectory.NewBus()
	pool := New(config.ReplPoolConfig{Interpreter: interp, MaxHandles: 1, SpawnTimeout: 5 * time.Second}, bus)
	defer pool.Close()

	ctx := context.Background()
	h, err := pool.Checkout(ctx)
	require.NoError(t, err)
	defer pool.Return(h)

	outcome := h.Execute(ctx, 0, "corr-2", "pass", nil, 2*time.Second)
	require.NoError(t, outcome.Err)
	assert.Equal(t, signature.StatusNotSubmitted, outcome.Result.Status)
}

func TestExecuteSubprocessExitsImmediately(t *testing.T) {
	interp := writeFakeInterpreter(t, exitImmediatelyBehavior)
	bus := trajectory.NewBus()
	pool := New(config.ReplPoolConfig{Interpreter: interp, MaxHandles: 1, SpawnTimeout: 5 * time.Second}, bus)
	defer pool.Close()

	ctx := context.Background()
	h, err := pool.Checkout(ctx)
	require.NoError(t, err)

	outcome := h.Execute(ctx, 0, "corr-3", "print(1)", nil, 2*time.Second)
	require.Error(t, outcome.Err)
	assert.False(t, h.Healthy())
	pool.Return(h) // unhealthy handle: pool kills it rather than reusing
}

func TestReplStdoutForwardedToTrajectoryBus(t *testing.T) {
	interp := writeFakeInterpreter(t, submitBehavior)
	bus := trajectory.NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	pool := New(config.ReplPoolConfig{Interpreter: interp, MaxHandles: 1, SpawnTimeout: 5 * time.Second}, bus)
	defer pool.Close()

	ctx := context.Background()
	h, err := pool.Checkout(ctx)
	require.NoError(t, err)
	defer pool.Return(h)
	require.NoError(t, h.RegisterSignature(ctx, testRegistration()))

	_ = h.Execute(ctx, 0, "corr-4", "print(1)", nil, 2*time.Second)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, trajectory.EventReplStdout, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a repl-stdout event")
	}
}

func TestSanitizeVariablesRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	_, err := sanitizeVariables(dir, map[string]any{"path": "../../etc/passwd"})
	assert.Error(t, err)
}

func TestSanitizeVariablesPassesPlainValues(t *testing.T) {
	out, err := sanitizeVariables("/tmp", map[string]any{"count": 3, "label": "hello"})
	require.NoError(t, err)
	assert.Equal(t, 3, out["count"])
	assert.Equal(t, "hello", out["label"])
}
