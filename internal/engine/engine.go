// Package engine is the transport boundary to the external agent engine.
// It opens one streaming request per turn and yields the engine's raw event
// stream as discrete, normalized event values in arrival order. Everything
// past this boundary (models, tools, sandboxing) belongs to the engine.
package engine

import "context"

// EventType identifies the kind of a turn event.
type EventType string

const (
	// EventInit is the first event of a turn and carries the engine's
	// session correlation id.
	EventInit EventType = "init"
	// EventText is an incremental assistant text fragment.
	EventText EventType = "text"
	// EventToolCall announces a tool invocation.
	EventToolCall EventType = "tool_call"
	// EventToolResult carries the payload of a finished tool invocation.
	EventToolResult EventType = "tool_result"
	// EventDone terminates a successful turn.
	EventDone EventType = "done"
	// EventError terminates a failed turn.
	EventError EventType = "error"
	// EventAborted acknowledges a consumer-requested abort.
	EventAborted EventType = "aborted"
)

// Event is one normalized turn event. Exactly one of the payload fields is
// meaningful, selected by Type.
type Event struct {
	Type EventType

	// AgentSessionID is set on init events.
	AgentSessionID string
	// Text is the fragment carried by text events.
	Text string
	// Call is set on tool_call events.
	Call *ToolCall
	// Result is set on tool_result events.
	Result *ToolResult
	// Summary is the final summary carried by done events.
	Summary string
	// Message is the description carried by error events.
	Message string
}

// ToolCall is a tool invocation announced by the engine.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult pairs a finished invocation with its extracted output text.
type ToolResult struct {
	CallID string
	Text   string
}

// TurnRequest describes one turn to the engine.
type TurnRequest struct {
	Prompt string
	// ResumeID asks the engine to continue an earlier engine session.
	ResumeID string
	ModelID  string
	// Effort is an optional reasoning-effort budget (engine-defined values).
	Effort string
	// Plan requests planning mode: the engine analyzes without mutating.
	Plan bool
	Cwd  string
}

// Engine opens turn streams. Implemented over HTTP by Client; tests supply
// scripted fakes.
type Engine interface {
	Open(ctx context.Context, req TurnRequest) (Stream, error)
}

// Stream is one in-flight turn's event sequence.
//
// Events delivers events in the exact order the engine produced them and is
// closed after a terminal event (done, error or aborted). The sequence must
// be treated as open-ended until that terminal event: consumers must not
// assume a maximum length.
//
// Abort stops further generation. It is not an instantaneous teardown:
// events already buffered are still delivered, followed by an aborted event,
// and only then does the channel close.
type Stream interface {
	Events() <-chan Event
	Abort()
	Close() error
}
