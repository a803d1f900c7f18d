package types

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
	RoleTask      = "task"
)

// Message is one entry in a session transcript. The role decides which of
// the optional sections is populated: Tool for tool-call messages, Task for
// sub-agent delegations, Attachments for user messages.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Streaming bool        `json:"streaming"`
	Time      MessageTime `json:"time"`

	Attachments []Attachment `json:"attachments,omitempty"`
	Tool        *ToolInfo    `json:"tool,omitempty"`
	Task        *TaskInfo    `json:"task,omitempty"`
}

// MessageTime contains timestamps for a message, in Unix milliseconds.
// Completed is set exactly once, when the message reaches its final state.
type MessageTime struct {
	Created   int64  `json:"created"`
	Completed *int64 `json:"completed,omitempty"`
}

// ToolInfo describes a tool invocation on a tool-role message. Result stays
// nil until the matching tool result arrives and is written at most once.
type ToolInfo struct {
	CallID string         `json:"callID,omitempty"`
	Name   string         `json:"name"`
	Input  map[string]any `json:"input,omitempty"`
	Result *string        `json:"result,omitempty"`
}

// Resolved reports whether the tool call has received its result.
func (t *ToolInfo) Resolved() bool { return t.Result != nil }

// TaskInfo describes a sub-agent delegation on a task-role message.
// Loading transitions from true to false exactly once; End and Result are
// fixed at that point.
type TaskInfo struct {
	CallID      string   `json:"callID,omitempty"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Prompt      string   `json:"prompt,omitempty"`
	ToolCount   int      `json:"toolCount"`
	Loading     bool     `json:"loading"`
	Result      string   `json:"result,omitempty"`
	Time        TaskTime `json:"time"`
}

// TaskTime contains task timing, in Unix milliseconds.
type TaskTime struct {
	Start int64  `json:"start"`
	End   *int64 `json:"end,omitempty"`
}
