// Package orchestrator implements the Orchestrator Core (spec.md §4.1): the
// activation decision, execution-mode selection, budget-bounded recursive
// call tree, REPL-backed execution, and epistemic-gated memory writes that
// tie every other package in this module together.
package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"rlm/internal/llm"
)

// Role discriminates the speaker of a Message, mirroring
// original_source/rlm-core/src/pybind/context.rs's Role enum.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one turn accumulated in a SessionContext.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

func userMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func assistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }
func systemMessage(content string) Message    { return Message{Role: RoleSystem, Content: content} }

// ToolOutput records the result of one tool or REPL invocation surfaced back
// into the session (original_source's ToolOutput).
type ToolOutput struct {
	ToolName  string
	Content   string
	ExitCode  *int
	Timestamp time.Time
}

// IsSuccess reports whether the tool exited cleanly. A nil ExitCode (e.g. a
// tool with no process semantics) counts as success.
func (o ToolOutput) IsSuccess() bool { return o.ExitCode == nil || *o.ExitCode == 0 }

// SessionContext accumulates the conversation, cached files, and tool
// outputs a run draws on, per spec.md §3's SessionContext data model.
// Append-only: messages, files, and tool outputs are never removed, only
// added to or (for files by path, and working memory by key) overwritten.
type SessionContext struct {
	mu            sync.Mutex
	messages      []Message
	fileOrder     []string
	files         map[string]string
	toolOutputs   []ToolOutput
	workingMemory map[string]any
}

// NewSessionContext returns an empty session.
func NewSessionContext() *SessionContext {
	return &SessionContext{
		files:         make(map[string]string),
		workingMemory: make(map[string]any),
	}
}

// AddMessage appends m, stamping Timestamp with the current time if unset
// and clamping it forward to the previous message's timestamp if it would
// otherwise move backward, so Messages() is always timestamp-monotonic
// (spec.md §3 "append-only, timestamps monotonically non-decreasing").
func (c *SessionContext) AddMessage(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	if n := len(c.messages); n > 0 && m.Timestamp.Before(c.messages[n-1].Timestamp) {
		m.Timestamp = c.messages[n-1].Timestamp
	}
	c.messages = append(c.messages, m)
}

func (c *SessionContext) AddUserMessage(content string)      { c.AddMessage(userMessage(content)) }
func (c *SessionContext) AddAssistantMessage(content string) { c.AddMessage(assistantMessage(content)) }
func (c *SessionContext) AddSystemMessage(content string)    { c.AddMessage(systemMessage(content)) }

// CacheFile records (or overwrites) the content of path. Overwriting an
// existing path does not change its position in Files()'s insertion order.
func (c *SessionContext) CacheFile(path, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.files[path]; !exists {
		c.fileOrder = append(c.fileOrder, path)
	}
	c.files[path] = content
}

// AddToolOutput appends o, stamping Timestamp if unset.
func (c *SessionContext) AddToolOutput(o ToolOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}
	c.toolOutputs = append(c.toolOutputs, o)
}

// SetMemory overwrites the working-memory slot key with value. Unlike
// messages and files, working memory is mutable scratch space, not an
// append-only log.
func (c *SessionContext) SetMemory(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workingMemory[key] = value
}

// GetMemory returns the value stored at key and whether it was present.
func (c *SessionContext) GetMemory(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.workingMemory[key]
	return v, ok
}

// Messages returns a copy of the accumulated conversation in append order.
func (c *SessionContext) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// LastMessages returns the final n messages (or all of them if fewer than n
// exist), oldest first.
func (c *SessionContext) LastMessages(n int) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n >= len(c.messages) {
		out := make([]Message, len(c.messages))
		copy(out, c.messages)
		return out
	}
	out := make([]Message, n)
	copy(out, c.messages[len(c.messages)-n:])
	return out
}

// Files returns a copy of the cached-file map.
func (c *SessionContext) Files() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.files))
	for k, v := range c.files {
		out[k] = v
	}
	return out
}

// GetFile returns the cached content of path and whether it is present.
func (c *SessionContext) GetFile(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.files[path]
	return v, ok
}

// ToolOutputs returns a copy of the accumulated tool-output log.
func (c *SessionContext) ToolOutputs() []ToolOutput {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolOutput, len(c.toolOutputs))
	copy(out, c.toolOutputs)
	return out
}

func (c *SessionContext) MessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func (c *SessionContext) FileCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files)
}

// SpansMultipleDirectories reports whether the cached files touch more than
// one directory, one of the activation signals in spec.md §4.1 step 1
// ("architecture-analysis" style queries tend to touch many directories).
func (c *SessionContext) SpansMultipleDirectories() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	dirs := make(map[string]struct{})
	for path := range c.files {
		dirs[dirOf(path)] = struct{}{}
		if len(dirs) > 1 {
			return true
		}
	}
	return false
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// TotalMessageTokens estimates the token cost of the accumulated
// conversation via the same heuristic the LLM package uses for budgeting.
func (c *SessionContext) TotalMessageTokens() int {
	c.mu.Lock()
	msgs := make([]llm.Message, len(c.messages))
	for i, m := range c.messages {
		msgs[i] = llm.Message{Role: string(m.Role), Content: m.Content}
	}
	c.mu.Unlock()
	return llm.EstimateTokensForMessages(msgs)
}

// TotalFileBytes sums the byte length of every cached file, the other half
// of spec.md §4.1 step 4's externalization-threshold check.
func (c *SessionContext) TotalFileBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, content := range c.files {
		total += int64(len(content))
	}
	return total
}

// sortedFilePaths returns cached-file paths in insertion order, used when
// building deterministic externalized-context summaries.
func (c *SessionContext) sortedFilePaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.fileOrder))
	copy(out, c.fileOrder)
	return out
}

// summary renders the short, human-readable description of context size
// original_source's ExternalizedContext::root_prompt embeds instead of the
// raw content, one line per part, e.g. "conversation: 3 messages (~40
// tokens)", "files: 2 files across 2 directories", "tool_outputs: 1 outputs".
func (c *SessionContext) summary() string {
	dirSet := make(map[string]struct{})
	files := c.Files()
	for path := range files {
		dirSet[dirOf(path)] = struct{}{}
	}
	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return fmt.Sprintf(
		"conversation: %d messages (~%d tokens)\nfiles: %d files across %d directories\ntool_outputs: %d outputs",
		c.MessageCount(), c.TotalMessageTokens(), c.FileCount(), len(dirs), len(c.ToolOutputs()),
	)
}
