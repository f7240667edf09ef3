package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"rlm/internal/budget"
	"rlm/internal/config"
	"rlm/internal/epistemic"
	"rlm/internal/llm"
	"rlm/internal/memory"
	"rlm/internal/repl"
	"rlm/internal/rlmerr"
	"rlm/internal/signature"
	"rlm/internal/trajectory"
)

// maxConcurrentSiblings bounds how many sub-calls a single "subcalls"
// directive dispatches at once, grounded on
// intelligencedev-manifold/internal/agent/engine.go's dispatchTools
// semaphore+WaitGroup fan-out (MaxToolParallelism there becomes this
// constant's role here).
const maxConcurrentSiblings = 4

// llmRetryBackoff is the single retry delay for a transport-class
// completion failure (spec.md §4.1 step 5 "retried at most once").
const llmRetryBackoff = 200 * time.Millisecond

// Orchestrator wires every subsystem this module implements into the
// recursive call tree described by spec.md §4.1: the LLM router, the REPL
// subprocess pool, the hypergraph memory store, and the epistemic gate.
type Orchestrator struct {
	Config     config.OrchestratorConfig
	Router     *llm.Router
	Provider   llm.Provider
	Pool       *repl.Pool
	ReplTimeout time.Duration
	Memory     *memory.Store
	Gate       *epistemic.Gate
	Bus        *trajectory.Bus
}

// New constructs an Orchestrator from its already-initialized dependencies.
// cmd/rlmd is responsible for building each of these first.
func New(cfg config.OrchestratorConfig, router *llm.Router, provider llm.Provider, pool *repl.Pool, mem *memory.Store, gate *epistemic.Gate, bus *trajectory.Bus) *Orchestrator {
	timeout := cfg.ReplTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Orchestrator{
		Config:      cfg,
		Router:      router,
		Provider:    provider,
		Pool:        pool,
		ReplTimeout: timeout,
		Memory:      mem,
		Gate:        gate,
		Bus:         bus,
	}
}

// run is the per-invocation state threaded through a call tree: one ledger,
// one depth bound, one cancellation scope (spec.md §9 "one ledger per
// session, not ambient").
type run struct {
	o        *Orchestrator
	ledger   *budget.Ledger
	maxDepth uint32
	mode     Mode
	sess     *SessionContext

	mu       sync.Mutex
	cancel   context.CancelFunc
	aborted  bool
	abortMsg string
}

// abort cancels every in-flight call in the tree and records why. Only the
// first caller's reason sticks (spec.md §9 "cancellation monotonicity": once
// aborted, no further subcall-start events should be published).
func (r *run) abort(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted {
		return
	}
	r.aborted = true
	r.abortMsg = reason
	r.cancel()
}

func (r *run) isAborted() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted, r.abortMsg
}

// Run implements spec.md §4.1's full algorithm: activation, mode selection,
// budget reservation, context externalization, the root call, recursive
// sub-call dispatch, REPL execution, synthesis, and termination.
func (o *Orchestrator) Run(ctx context.Context, query string, sess *SessionContext) (RunResult, error) {
	if sess == nil {
		sess = NewSessionContext()
	}
	sess.AddUserMessage(query)

	decision := ShouldActivate(query, sess)
	if !decision.Activate {
		return o.passThrough(ctx, query, sess)
	}

	signals := scanSignals(query, sess)
	profile := SelectMode(signals)

	maxDepth := profile.MaxDepth
	if o.Config.MaxDepth < maxDepth {
		maxDepth = o.Config.MaxDepth
	}
	costBudget := profile.TypicalCostBudgetUSD
	if o.Config.CostBudgetUSD < costBudget {
		costBudget = o.Config.CostBudgetUSD
	}
	tokenBudget := o.Config.TotalTokenBudget

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		o:        o,
		ledger:   budget.New(tokenBudget, costBudget, o.Bus),
		maxDepth: maxDepth,
		mode:     profile.Mode,
		sess:     sess,
		cancel:   cancel,
	}

	o.publish(trajectory.EventModeChange, 0, "", map[string]any{
		"mode":            string(profile.Mode),
		"max_depth":       maxDepth,
		"cost_budget_usd": costBudget,
		"score":           signals.Score,
	})

	spawnRepl := o.Config.DefaultSpawnRepl && isLarge(sess)

	root, err := r.recursiveCall(runCtx, query, "", 0, spawnRepl)
	if aborted, reason := r.isAborted(); aborted {
		o.publish(trajectory.EventAborted, 0, "", map[string]any{"reason": reason})
		return RunResult{Aborted: true, AbortReason: reason, Mode: profile.Mode, Budget: r.ledger.State()}, nil
	}
	if err != nil {
		if rlmerr.KindOf(err) == rlmerr.KindBudgetExhausted {
			o.publish(trajectory.EventAborted, 0, "", map[string]any{"reason": err.Error()})
			return RunResult{Aborted: true, AbortReason: err.Error(), Mode: profile.Mode, Budget: r.ledger.State()}, nil
		}
		return RunResult{}, err
	}

	sess.AddAssistantMessage(root.Content)
	o.publish(trajectory.EventFinalAnswer, 0, "", map[string]any{
		"content":     root.Content,
		"tokens_used": root.TokensUsed,
		"cost_usd":    root.CostUSD,
	})
	return RunResult{Content: root.Content, Mode: profile.Mode, Budget: r.ledger.State()}, nil
}

// passThrough handles the inactive-gate path (spec.md §4.1 scenario 1): a
// single plain completion with no budget ledger, no mode, no recursion.
func (o *Orchestrator) passThrough(ctx context.Context, query string, sess *SessionContext) (RunResult, error) {
	req := llm.CompletionRequest{
		Messages:  buildInlinePrompt(query, "", sess),
		Model:     o.Router.SelectModel(llm.TierFast, 1.0),
		MaxTokens: int(o.Config.MaxTokensPerCall),
	}
	result, err := o.Provider.Complete(ctx, req)
	if err != nil {
		return RunResult{}, rlmerr.Wrap(rlmerr.KindLlmAPI, "orchestrator.pass_through", err)
	}
	sess.AddAssistantMessage(result.Message.Content)
	o.publish(trajectory.EventFinalAnswer, 0, "", map[string]any{"content": result.Message.Content, "pass_through": true})
	return RunResult{Content: result.Message.Content}, nil
}

func (o *Orchestrator) publish(t trajectory.EventType, depth uint32, correlationID string, payload any) {
	if o.Bus == nil {
		return
	}
	o.Bus.Publish(trajectory.Event{
		Type:          t,
		Timestamp:     time.Now().UTC(),
		Depth:         depth,
		CorrelationID: correlationID,
		Payload:       payload,
	})
}

// recursiveCall is one node of the call tree: it issues a single
// directive-soliciting completion, then acts on whichever action the
// directive names (spec.md §4.1 steps 5-8), matching
// original_source/rlm-core/src/orchestrator.rs's recursive_call contract
// (RecursiveResult{content, depth, used_repl, tokens_used, cost_usd}).
func (r *run) recursiveCall(ctx context.Context, query, extraContext string, depth uint32, spawnRepl bool) (RecursiveResult, error) {
	if aborted, reason := r.isAborted(); aborted {
		return RecursiveResult{}, rlmerr.New(rlmerr.KindInternal, "orchestrator.recursive_call", "run aborted: "+reason, nil)
	}
	if ctx.Err() != nil {
		return RecursiveResult{}, ctx.Err()
	}

	correlationID := uuid.NewString()

	var handle *repl.Handle
	if spawnRepl && r.o.Pool != nil {
		h, err := r.o.Pool.Checkout(ctx)
		if err != nil {
			return RecursiveResult{}, err
		}
		handle = h
		defer func() {
			r.o.Pool.Return(handle)
		}()
	}

	var prompt []llm.Message
	if spawnRepl && depth == 0 && isLarge(r.sess) {
		prompt = buildExternalizedPrompt(query, extraContext, r.sess)
	} else {
		prompt = buildInlinePrompt(query, extraContext, r.sess)
	}
	prompt[len(prompt)-1].Content += "\n\n" + directiveInstructions(depth, r.maxDepth, handle != nil)

	route, _ := r.o.Router.ClassifyQuery(query)
	tier := llm.TierForDepth(route.Tier, depth)
	if tier == "" {
		tier = llm.TierForDepth(llm.TierBalanced, depth)
	}

	tokensHint := r.o.Config.MaxTokensPerCall
	if tokensHint == 0 {
		tokensHint = 4096
	}
	model := r.o.Router.SelectModel(tier, r.ledger.RemainingCostUSD())
	costHint := estimateCostHint(tokensHint)

	tok, err := r.ledger.Reserve(tokensHint, costHint, depth)
	if err != nil {
		r.abort(err.Error())
		return RecursiveResult{}, err
	}

	r.o.publish(trajectory.EventSubcallStart, depth, correlationID, map[string]any{"query": query, "model": model})

	completion, err := completeWithRetry(ctx, r.o.Provider, llm.CompletionRequest{
		Messages:  prompt,
		Model:     model,
		MaxTokens: int(tokensHint),
	})
	if err != nil {
		r.ledger.Release(tok)
		return RecursiveResult{}, rlmerr.Wrap(rlmerr.KindLlmAPI, "orchestrator.recursive_call", err)
	}

	alerts := r.ledger.Commit(tok, uint64(completion.TokensIn+completion.TokensOut), completion.CostUSD)
	for _, a := range alerts {
		if a.Fraction >= 0.95 {
			r.abort(fmt.Sprintf("%s budget reached %.0f%%", a.Resource, a.Fraction*100))
		}
	}

	r.o.publish(trajectory.EventSubcallEnd, depth, correlationID, map[string]any{
		"tokens_used": completion.TokensIn + completion.TokensOut,
		"cost_usd":    completion.CostUSD,
	})

	tokensUsed := uint64(completion.TokensIn + completion.TokensOut)
	costUSD := completion.CostUSD

	d, ok := parseDirective(completion.Message.Content)
	if !ok {
		return RecursiveResult{Content: completion.Message.Content, Depth: depth, TokensUsed: tokensUsed, CostUSD: costUSD}, nil
	}

	switch d.Action {
	case "answer":
		answer := d.Answer
		if answer == "" {
			answer = completion.Message.Content
		}
		return RecursiveResult{Content: answer, Depth: depth, TokensUsed: tokensUsed, CostUSD: costUSD}, nil

	case "repl":
		if handle == nil {
			return RecursiveResult{Content: "repl execution requested but no repl handle was available for this call", Depth: depth, TokensUsed: tokensUsed, CostUSD: costUSD}, nil
		}
		return r.runRepl(ctx, handle, d, depth, correlationID, tokensUsed, costUSD)

	case "memory_write":
		content := r.handleMemoryWrite(ctx, d, query, extraContext)
		return RecursiveResult{Content: content, Depth: depth, TokensUsed: tokensUsed, CostUSD: costUSD}, nil

	case "subcalls":
		return r.dispatchSubcalls(ctx, query, d, depth, tokensUsed, costUSD)

	default:
		return RecursiveResult{Content: completion.Message.Content, Depth: depth, TokensUsed: tokensUsed, CostUSD: costUSD}, nil
	}
}

// completeWithRetry retries exactly once after llmRetryBackoff, matching
// spec.md §4.1 step 5's "retried at most once... for transport-class
// failures". This module does not distinguish transport errors from
// application errors at the llm.Provider boundary, so the single retry
// applies uniformly; a provider that surfaces a non-retryable error (e.g. a
// malformed request) simply fails the same way twice.
func completeWithRetry(ctx context.Context, provider llm.Provider, req llm.CompletionRequest) (llm.CompletionResult, error) {
	result, err := provider.Complete(ctx, req)
	if err == nil {
		return result, nil
	}
	select {
	case <-ctx.Done():
		return llm.CompletionResult{}, ctx.Err()
	case <-time.After(llmRetryBackoff):
	}
	return provider.Complete(ctx, req)
}

// estimateCostHint reserves a conservative flat per-1k-token rate against
// the cost budget; Commit always trues up to the provider's actual CostUSD
// once the call completes, so an overestimate here only costs headroom,
// never correctness.
func estimateCostHint(tokensHint uint64) float64 {
	return float64(tokensHint) / 1000.0 * 0.03
}

// runRepl registers the directive's declared signature and executes its
// code against the checked-out handle, mapping the three-way SubmitResult
// onto a RecursiveResult content string (spec.md §4.2, §4.5).
func (r *run) runRepl(ctx context.Context, handle *repl.Handle, d directive, depth uint32, correlationID string, tokensUsed uint64, costUSD float64) (RecursiveResult, error) {
	if len(d.Signature) > 0 {
		reg := toRegistration(d.Signature)
		if err := handle.RegisterSignature(ctx, reg); err != nil {
			return RecursiveResult{}, err
		}
	}

	vars := d.ReplVariables
	if depth == 0 {
		merged := externalizedVariables(r.sess)
		for k, v := range vars {
			merged[k] = v
		}
		vars = merged
	}

	outcome := handle.Execute(ctx, depth, correlationID, d.ReplCode, vars, r.o.ReplTimeout)
	if outcome.Err != nil {
		return RecursiveResult{}, outcome.Err
	}

	switch outcome.Result.Status {
	case signature.StatusSuccess:
		content := fmt.Sprintf("%v", outcome.Result.Outputs)
		for _, e := range outcome.Result.Errors {
			if e.Kind == signature.ErrMultipleSubmits {
				content += " (" + e.ToUserMessage() + ")"
			}
		}
		return RecursiveResult{
			Content:    content,
			Depth:      depth,
			UsedRepl:   true,
			TokensUsed: tokensUsed,
			CostUSD:    costUSD,
		}, nil
	case signature.StatusValidationError:
		var msgs []string
		for _, e := range outcome.Result.Errors {
			msgs = append(msgs, e.ToUserMessage())
		}
		return RecursiveResult{
			Content:    "repl submission failed validation: " + joinErrors(msgs),
			Depth:      depth,
			UsedRepl:   true,
			TokensUsed: tokensUsed,
			CostUSD:    costUSD,
		}, nil
	default: // StatusNotSubmitted
		return RecursiveResult{
			Content:    "repl execution finished without a submission: " + outcome.Result.Reason,
			Depth:      depth,
			UsedRepl:   true,
			TokensUsed: tokensUsed,
			CostUSD:    costUSD,
		}, nil
	}
}

func joinErrors(msgs []string) string {
	out := ""
	for i, m := range msgs {
		if i > 0 {
			out += "; "
		}
		out += m
	}
	return out
}

// handleMemoryWrite runs the candidate through the epistemic gate and
// writes an accepted claim at task tier, or logs the rejection, per
// spec.md §4.4 step 6/7.
func (r *run) handleMemoryWrite(ctx context.Context, d directive, query, extraContext string) string {
	if d.Memory == nil || r.o.Gate == nil {
		return "no memory candidate supplied"
	}
	claim := epistemic.Claim{
		Text:        d.Memory.Text,
		Specificity: d.Memory.Specificity,
		Category:    d.Memory.Category,
		Evidence:    d.Memory.Evidence,
	}
	contextText := extraContext + "\n" + query

	result, err := r.o.Gate.Evaluate(ctx, claim, contextText)
	if err != nil {
		return "memory gate evaluation failed: " + err.Error()
	}

	if result.Verdict == epistemic.VerdictUngrounded {
		r.o.publish(trajectory.EventMemoryRejected, 0, "", map[string]any{"claim": claim.Text, "gap": result.Gap})
		return fmt.Sprintf("claim rejected by epistemic gate (gap=%.3f bits)", result.Gap)
	}

	confidence := result.Confidence
	if r.o.Memory == nil {
		return "claim accepted but no memory store is configured"
	}
	node, err := r.o.Memory.AddNode(ctx, memory.Node{
		NodeType:   memory.NodeFact,
		Content:    claim.Text,
		Tier:       memory.TierTask,
		Confidence: confidence,
		Provenance: memory.Provenance{Source: "orchestrator", Context: query},
	})
	if err != nil {
		return "memory write failed: " + err.Error()
	}
	r.o.publish(trajectory.EventMemoryWrite, 0, "", map[string]any{"node_id": node.ID, "verdict": string(result.Verdict)})
	return fmt.Sprintf("claim recorded as node %s (verdict=%s, confidence=%.2f)", node.ID, result.Verdict, confidence)
}

// dispatchSubcalls fans the directive's sub-call requests out concurrently,
// bounded by a semaphore, preserving result order with an indexed slice
// (grounded on intelligencedev-manifold/internal/agent/engine.go's
// dispatchTools). Requests that would exceed maxDepth are refused locally
// without spending a call, then folded into the synthesis step as a
// degraded child result (spec.md §4.1 step 6).
func (r *run) dispatchSubcalls(ctx context.Context, query string, d directive, depth uint32, rootTokens uint64, rootCost float64) (RecursiveResult, error) {
	n := len(d.SubCalls)
	if n == 0 {
		return RecursiveResult{Content: "no sub-calls were specified", Depth: depth, TokensUsed: rootTokens, CostUSD: rootCost}, nil
	}

	results := make([]RecursiveResult, n)
	sem := make(chan struct{}, maxConcurrentSiblings)
	var wg sync.WaitGroup

	for i, sc := range d.SubCalls {
		if aborted, _ := r.isAborted(); aborted {
			break
		}
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(i int, sc subCallSpec) {
			defer wg.Done()
			defer func() { <-sem }()

			if depth+1 > r.maxDepth {
				results[i] = RecursiveResult{
					Content: fmt.Sprintf("sub-call %q refused: max recursion depth %d exceeded", sc.Query, r.maxDepth),
					Depth:   depth + 1,
				}
				return
			}
			child, err := r.recursiveCall(ctx, sc.Query, sc.ExtraContext, depth+1, sc.SpawnRepl)
			if err != nil {
				results[i] = RecursiveResult{
					Content: fmt.Sprintf("sub-call %q failed: %s", sc.Query, err.Error()),
					Depth:   depth + 1,
				}
				return
			}
			results[i] = child
		}(i, sc)
	}
	wg.Wait()

	var totalTokens uint64 = rootTokens
	var totalCost float64 = rootCost
	for _, c := range results {
		totalTokens += c.TokensUsed
		totalCost += c.CostUSD
	}

	content, err := r.synthesize(ctx, query, results)
	if err != nil {
		return RecursiveResult{}, err
	}
	return RecursiveResult{Content: content, Depth: depth, UsedRepl: anyUsedRepl(results), TokensUsed: totalTokens, CostUSD: totalCost}, nil
}

func anyUsedRepl(results []RecursiveResult) bool {
	for _, r := range results {
		if r.UsedRepl {
			return true
		}
	}
	return false
}

// synthesize issues the final combination completion for a node that
// dispatched sub-calls, folding their (possibly degraded) contents into a
// single answer (spec.md §4.1 step 8).
func (r *run) synthesize(ctx context.Context, query string, children []RecursiveResult) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	model := r.o.Router.SelectModel(llm.TierBalanced, r.ledger.RemainingCostUSD())
	result, err := completeWithRetry(ctx, r.o.Provider, llm.CompletionRequest{
		Messages:  synthesisPrompt(query, children),
		Model:     model,
		MaxTokens: int(r.o.Config.MaxTokensPerCall),
	})
	if err != nil {
		return "", rlmerr.Wrap(rlmerr.KindLlmAPI, "orchestrator.synthesize", err)
	}
	return result.Message.Content, nil
}
