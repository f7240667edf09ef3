package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlm/internal/config"
	"rlm/internal/llm"
	"rlm/internal/trajectory"
)

// fakeProvider returns canned completions keyed by call order (1-indexed),
// letting each test script a short conversation without a real LLM.
type fakeProvider struct {
	calls   int32
	respond func(calls int32, req llm.CompletionRequest) (llm.CompletionResult, error)
}

func (f *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
	n := atomic.AddInt32(&f.calls, 1)
	return f.respond(n, req)
}

func plainRouter() *llm.Router {
	return llm.NewRouter([]llm.ModelEntry{
		{ID: "fast-model", Provider: "test", Tier: llm.TierFast, CostPer1K: 0.001},
		{ID: "balanced-model", Provider: "test", Tier: llm.TierBalanced, CostPer1K: 0.003},
		{ID: "flagship-model", Provider: "test", Tier: llm.TierFlagship, CostPer1K: 0.01},
	}, llm.DefaultRoutes())
}

func TestShouldActivateTrivialQuery(t *testing.T) {
	d := ShouldActivate("What is 2+2?", NewSessionContext())
	assert.False(t, d.Activate)
}

func TestShouldActivateStrongSignal(t *testing.T) {
	d := ShouldActivate("Can you debug why the auth module keeps throwing a traceback?", NewSessionContext())
	assert.True(t, d.Activate)
}

func TestSelectModeUserFastOverridesThoroughSignals(t *testing.T) {
	// Mirrors original_source's test_execution_mode_user_override: an
	// explicit "fast" request wins even when architecture-analysis and
	// exhaustive-search signals are also present.
	s := Signals{
		UserWantsFast:            true,
		ArchitectureAnalysis:     true,
		RequiresExhaustiveSearch: true,
		Score:                    9,
	}
	assert.Equal(t, ModeFast, SelectMode(s).Mode)
}

func TestSelectModeThoroughSignalWithoutFastOverride(t *testing.T) {
	s := Signals{ArchitectureAnalysis: true, Score: 3}
	assert.Equal(t, ModeThorough, SelectMode(s).Mode)
}

func TestSelectModeScoreBands(t *testing.T) {
	assert.Equal(t, ModeMicro, SelectMode(Signals{Score: 0}).Mode)
	assert.Equal(t, ModeFast, SelectMode(Signals{Score: 2}).Mode)
	assert.Equal(t, ModeBalanced, SelectMode(Signals{Score: 5}).Mode)
}

func TestRunPassThroughOnTrivialQuery(t *testing.T) {
	bus := trajectory.NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	provider := &fakeProvider{respond: func(n int32, req llm.CompletionRequest) (llm.CompletionResult, error) {
		return llm.CompletionResult{Message: llm.Message{Role: "assistant", Content: "4"}}, nil
	}}

	o := New(config.DefaultOrchestratorConfig(), plainRouter(), provider, nil, nil, nil, bus)
	result, err := o.Run(context.Background(), "What is 2+2?", nil)
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.Equal(t, "4", result.Content)
	assert.Equal(t, int32(1), provider.calls)
}

func TestRunAnswerDirective(t *testing.T) {
	bus := trajectory.NewBus()
	provider := &fakeProvider{respond: func(n int32, req llm.CompletionRequest) (llm.CompletionResult, error) {
		return llm.CompletionResult{
			Message:   llm.Message{Role: "assistant", Content: `{"action":"answer","answer":"the capital is Paris"}`},
			TokensIn:  10,
			TokensOut: 5,
			CostUSD:   0.001,
		}, nil
	}}

	o := New(config.DefaultOrchestratorConfig(), plainRouter(), provider, nil, nil, nil, bus)
	result, err := o.Run(context.Background(), "Debug the architecture of the auth module and tell me the capital of France", nil)
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.Equal(t, "the capital is Paris", result.Content)
}

func TestRunSubcallsSynthesizesChildren(t *testing.T) {
	bus := trajectory.NewBus()
	provider := &fakeProvider{respond: func(n int32, req llm.CompletionRequest) (llm.CompletionResult, error) {
		switch n {
		case 1:
			return llm.CompletionResult{Message: llm.Message{Role: "assistant", Content: `{"action":"subcalls","subcalls":[{"query":"sub one"},{"query":"sub two"}]}`}}, nil
		case 2:
			return llm.CompletionResult{Message: llm.Message{Role: "assistant", Content: `{"action":"answer","answer":"result one"}`}}, nil
		case 3:
			return llm.CompletionResult{Message: llm.Message{Role: "assistant", Content: `{"action":"answer","answer":"result two"}`}}, nil
		default:
			return llm.CompletionResult{Message: llm.Message{Role: "assistant", Content: "combined: result one, result two"}}, nil
		}
	}}

	o := New(config.DefaultOrchestratorConfig(), plainRouter(), provider, nil, nil, nil, bus)
	result, err := o.Run(context.Background(), "Audit the architecture across the whole codebase", nil)
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.Contains(t, result.Content, "combined")
	assert.GreaterOrEqual(t, provider.calls, int32(3))
}

func TestRunBudgetExhaustionAborts(t *testing.T) {
	bus := trajectory.NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	provider := &fakeProvider{respond: func(n int32, req llm.CompletionRequest) (llm.CompletionResult, error) {
		return llm.CompletionResult{Message: llm.Message{Role: "assistant", Content: `{"action":"answer","answer":"x"}`}}, nil
	}}

	cfg := config.DefaultOrchestratorConfig()
	cfg.CostBudgetUSD = 0 // every Reserve call fails immediately
	o := New(cfg, plainRouter(), provider, nil, nil, nil, bus)

	result, err := o.Run(context.Background(), "Please thoroughly audit the entire system architecture", nil)
	require.NoError(t, err)
	assert.True(t, result.Aborted)

	var sawAbort bool
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == trajectory.EventAborted {
				sawAbort = true
			}
		default:
			goto done
		}
	}
done:
	assert.True(t, sawAbort)
}

func TestSessionContextAppendOnlyAndMonotonicTimestamps(t *testing.T) {
	ctx := NewSessionContext()
	ctx.AddUserMessage("first")
	ctx.AddAssistantMessage("second")
	msgs := ctx.Messages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[1].Timestamp.Before(msgs[0].Timestamp))
}

func TestSessionContextFilesAndDirectories(t *testing.T) {
	ctx := NewSessionContext()
	ctx.CacheFile("/src/auth/login.go", "package auth")
	ctx.CacheFile("/src/db/conn.go", "package db")
	assert.True(t, ctx.SpansMultipleDirectories())
	assert.Equal(t, 2, ctx.FileCount())
}

func TestParseDirectiveFallsBackOnPlainText(t *testing.T) {
	_, ok := parseDirective("just a plain sentence, not JSON")
	assert.False(t, ok)
}

func TestParseDirectiveAcceptsFencedJSON(t *testing.T) {
	d, ok := parseDirective("```json\n{\"action\":\"answer\",\"answer\":\"ok\"}\n```")
	require.True(t, ok)
	assert.Equal(t, "ok", d.Answer)
}

func TestIsLargeThresholds(t *testing.T) {
	small := NewSessionContext()
	small.CacheFile("a.go", "tiny")
	assert.False(t, isLarge(small))

	large := NewSessionContext()
	large.CacheFile("big.go", fmt.Sprintf("%0*d", largeFileBytesThreshold+1, 0))
	assert.True(t, isLarge(large))
}
