// Package trajectory implements the Trajectory Bus (spec.md §2, §5, §6): a
// multi-producer broadcast of typed events describing an orchestrator run.
package trajectory

import "time"

// EventType enumerates the kinds of observable events a run emits.
type EventType string

const (
	EventModeChange     EventType = "mode-change"
	EventSubcallStart   EventType = "subcall-start"
	EventSubcallEnd     EventType = "subcall-end"
	EventReplStdout     EventType = "repl-stdout"
	EventReplSubmit     EventType = "repl-submit"
	EventBudgetAlert    EventType = "budget-alert"
	EventMemoryWrite    EventType = "memory-write"
	EventMemoryRejected EventType = "memory-rejected"
	EventFinalAnswer    EventType = "final-answer"
	EventAborted        EventType = "aborted"
)

// Event is an immutable trajectory record. Events are totally ordered per
// session by (Timestamp, Seq); Seq is a monotonic counter assigned by the
// Bus at publish time, breaking ties when two events share a timestamp.
type Event struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	Depth         uint32    `json:"depth"`
	CorrelationID string    `json:"correlation_id"`
	Seq           uint64    `json:"seq"`
	Payload       any       `json:"payload"`
}
