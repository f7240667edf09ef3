package orchestrator

import (
	"fmt"
	"strings"

	"rlm/internal/llm"
)

// Externalization thresholds (spec.md §4.1 step 4): a session whose cached
// files or conversation exceed either bound is large enough that inlining
// it into a prompt wastes context window, so it is instead checked into a
// REPL's variables and only summarized in the prompt.
const (
	largeFileBytesThreshold    = 50_000
	largeMessageTokensThreshold = 8_000
)

func isLarge(sess *SessionContext) bool {
	if sess == nil {
		return false
	}
	return sess.TotalFileBytes() > largeFileBytesThreshold || sess.TotalMessageTokens() > largeMessageTokensThreshold
}

// directiveInstructions is appended to every directive-soliciting call,
// describing the JSON envelope this module expects back (directive.go).
func directiveInstructions(depth, maxDepth uint32, allowRepl bool) string {
	var b strings.Builder
	b.WriteString("Respond with a single JSON object (no prose outside it) using one of these shapes:\n")
	b.WriteString(`- {"action":"answer","answer":"..."} to answer directly.` + "\n")
	if depth < maxDepth {
		b.WriteString(`- {"action":"subcalls","subcalls":[{"query":"...","extra_context":"...","spawn_repl":false}, ...]} to delegate to independent sub-calls.` + "\n")
	}
	if allowRepl {
		b.WriteString(`- {"action":"repl","repl_code":"...","signature":[{"name":"...","type":"string|integer|float|boolean|list|object|enum|custom","required":true}]} to run Python against the injected variables and SUBMIT a result matching signature.` + "\n")
	}
	b.WriteString(`- {"action":"memory_write","memory_candidate":{"text":"...","specificity":0.0,"evidence":["..."]}} to record a durable claim.` + "\n")
	b.WriteString("If none of the structured actions apply, answer in plain text instead of JSON.\n")
	return b.String()
}

// buildInlinePrompt renders the session's conversation, cached files, and
// tool outputs directly into the prompt text (the non-externalized path).
func buildInlinePrompt(query, extraContext string, sess *SessionContext) []llm.Message {
	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(query)
	b.WriteString("\n")
	if extraContext != "" {
		b.WriteString("\nContext from parent call:\n")
		b.WriteString(extraContext)
		b.WriteString("\n")
	}
	if sess != nil {
		if msgs := sess.LastMessages(20); len(msgs) > 0 {
			b.WriteString("\nConversation:\n")
			for _, m := range msgs {
				fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
			}
		}
		if files := sess.Files(); len(files) > 0 {
			b.WriteString("\nFiles:\n")
			for _, path := range sess.sortedFilePaths() {
				fmt.Fprintf(&b, "--- %s ---\n%s\n", path, files[path])
			}
		}
		if outs := sess.ToolOutputs(); len(outs) > 0 {
			b.WriteString("\nTool outputs:\n")
			for _, o := range outs {
				fmt.Fprintf(&b, "[%s] %s\n", o.ToolName, o.Content)
			}
		}
	}
	return []llm.Message{{Role: "user", Content: b.String()}}
}

// buildExternalizedPrompt renders the short summary original_source's
// ExternalizedContext::root_prompt produces when the session has already
// been checked into a REPL's variables, instead of inlining it.
func buildExternalizedPrompt(query, extraContext string, sess *SessionContext) []llm.Message {
	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(query)
	b.WriteString("\n")
	if extraContext != "" {
		b.WriteString("\nContext from parent call:\n")
		b.WriteString(extraContext)
		b.WriteString("\n")
	}
	b.WriteString("\nAvailable context variables (injected into your REPL session, not inlined here):\n")
	if sess != nil {
		b.WriteString(sess.summary())
		b.WriteString("\n")
	}
	return []llm.Message{{Role: "user", Content: b.String()}}
}

// externalizedVariables converts sess into the variable map a REPL handle
// is given, the other half of the externalization in spec.md §4.1 step 4.
func externalizedVariables(sess *SessionContext) map[string]any {
	if sess == nil {
		return nil
	}
	msgs := sess.Messages()
	conversation := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		conversation[i] = map[string]any{"role": string(m.Role), "content": m.Content}
	}
	outs := sess.ToolOutputs()
	toolOutputs := make([]map[string]any, len(outs))
	for i, o := range outs {
		toolOutputs[i] = map[string]any{"tool_name": o.ToolName, "content": o.Content, "success": o.IsSuccess()}
	}
	return map[string]any{
		"conversation": conversation,
		"files":        sess.Files(),
		"tool_outputs": toolOutputs,
	}
}

// synthesisPrompt builds the final-combination prompt for an action ==
// "subcalls" node, folding each child RecursiveResult (including any
// max-depth refusals) back in (spec.md §4.1 step 8).
func synthesisPrompt(query string, children []RecursiveResult) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Original query: %s\n\nSub-call results:\n", query)
	for i, c := range children {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Content)
	}
	b.WriteString("\nSynthesize these into a single final answer to the original query. Respond in plain text.")
	return []llm.Message{{Role: "user", Content: b.String()}}
}
