package llm

import "context"

// Message is a single turn in a completion request.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// CompletionRequest is the narrow request shape every provider adapter must
// accept, independent of the concrete vendor API behind it.
type CompletionRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// CompletionResult carries the text and the accounting the budget ledger
// and router need: tokens actually consumed and the resulting spend.
type CompletionResult struct {
	Message    Message
	TokensIn   int
	TokensOut  int
	CostUSD    float64
}

// Provider is the small capability set a model adapter exposes to the
// orchestrator: complete is mandatory, embed/stream are optional
// capabilities an adapter may additionally implement.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// Embedder is an optional capability: a Provider may also implement this to
// support memory-store similarity search.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// StreamHandler receives incremental output from a StreamingProvider.
type StreamHandler interface {
	OnDelta(content string)
}

// StreamingProvider is an optional capability for providers that can stream
// partial completions instead of returning only a final result.
type StreamingProvider interface {
	CompleteStream(ctx context.Context, req CompletionRequest, h StreamHandler) (CompletionResult, error)
}
