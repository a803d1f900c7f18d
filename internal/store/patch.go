package store

import "github.com/agentdeck/agentdeck/pkg/types"

// MessagePatch is a partial message update. Nil fields are left untouched.
// apply is where the one-way transcript invariants live:
//
//   - content writes are dropped once a message has a completion timestamp,
//     which is what discards late events racing an abort;
//   - Streaming only ever goes from true to false;
//   - Completed is set at most once;
//   - a tool result is set at most once;
//   - a task's Loading flag only goes from true to false, and End/Result are
//     fixed at that transition.
type MessagePatch struct {
	// Content replaces the message content.
	Content *string
	// AppendContent appends a fragment to the message content.
	AppendContent *string

	Streaming *bool
	Completed *int64

	// ToolResult resolves a tool message's result.
	ToolResult *string

	TaskToolCount *int
	TaskLoading   *bool
	TaskEnd       *int64
	TaskResult    *string
}

// apply merges the patch into msg and returns the appended text fragment,
// if any, for delta events.
func (p MessagePatch) apply(msg *types.Message) string {
	var delta string

	finalized := msg.Time.Completed != nil

	if !finalized {
		if p.Content != nil {
			msg.Content = *p.Content
		}
		if p.AppendContent != nil && *p.AppendContent != "" {
			msg.Content += *p.AppendContent
			delta = *p.AppendContent
		}
	}

	if p.Streaming != nil && !*p.Streaming {
		msg.Streaming = false
	}
	if p.Completed != nil && msg.Time.Completed == nil {
		c := *p.Completed
		msg.Time.Completed = &c
	}

	if p.ToolResult != nil && msg.Tool != nil && !msg.Tool.Resolved() {
		r := *p.ToolResult
		msg.Tool.Result = &r
	}

	if msg.Task != nil {
		if p.TaskToolCount != nil && msg.Task.Loading {
			msg.Task.ToolCount = *p.TaskToolCount
		}
		if p.TaskLoading != nil && !*p.TaskLoading && msg.Task.Loading {
			msg.Task.Loading = false
			if p.TaskEnd != nil && msg.Task.Time.End == nil {
				e := *p.TaskEnd
				msg.Task.Time.End = &e
			}
			if p.TaskResult != nil && msg.Task.Result == "" {
				msg.Task.Result = *p.TaskResult
			}
		}
	}

	return delta
}
