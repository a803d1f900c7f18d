// Package turn runs agent turns: the controller owns the per-session turn
// lifecycle (busy gating, queueing, abort) and the reconciler folds the
// engine's event stream into store mutations.
package turn

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentdeck/agentdeck/internal/engine"
	"github.com/agentdeck/agentdeck/internal/logging"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/pkg/types"
)

// TaskToolName is the engine tool that spawns a sub-agent. Calls with this
// name open a task message instead of a plain tool message.
const TaskToolName = "Task"

// Reconciler folds one turn's event stream into transcript mutations for a
// single session. It is stateful across the turn: it tracks the streaming
// assistant placeholder, the at-most-one active task and whether a terminal
// event has already been applied. Methods are safe for concurrent use; Apply
// is called from the stream reader while Abort may finalize from another
// goroutine.
type Reconciler struct {
	store *store.Store
	log   zerolog.Logger

	sessionID   string
	assistantID string

	mu           sync.Mutex
	active       *activeTask
	appendedText bool
	finalized    bool
	orphans      int
	uncorrelated int
}

// activeTask is the currently loading task message, if any.
type activeTask struct {
	messageID string
	callID    string
	toolCount int
}

// NewReconciler creates a reconciler for one turn. assistantID is the id of
// the streaming assistant placeholder appended before the turn opened.
func NewReconciler(st *store.Store, sessionID, assistantID string) *Reconciler {
	return &Reconciler{
		store:       st,
		log:         logging.For("reconciler").With().Str("sessionID", sessionID).Logger(),
		sessionID:   sessionID,
		assistantID: assistantID,
	}
}

// Apply folds one engine event into the store. Events arriving after a
// terminal event has been applied are discarded, which makes terminal
// handling idempotent and blocks content writes racing an abort.
func (r *Reconciler) Apply(ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		r.log.Debug().Str("type", string(ev.Type)).Msg("dropping event after terminal")
		return
	}

	switch ev.Type {
	case engine.EventInit:
		r.store.SetAgentSessionID(r.sessionID, ev.AgentSessionID)

	case engine.EventToolCall:
		if ev.Call == nil {
			return
		}
		if ev.Call.Name == TaskToolName {
			r.openTask(ev.Call)
		} else {
			r.recordToolCall(ev.Call)
		}

	case engine.EventToolResult:
		if ev.Result == nil {
			return
		}
		r.applyToolResult(ev.Result)

	case engine.EventText:
		// Text after a task means the task produced no result of its own.
		r.closeActiveTask("")
		r.store.UpdateMessage(r.sessionID, r.assistantID, store.MessagePatch{
			AppendContent: &ev.Text,
		})
		if ev.Text != "" {
			r.appendedText = true
		}

	case engine.EventDone:
		r.closeActiveTask("")
		r.finalizeAssistant(ev.Summary)

	case engine.EventAborted:
		// When nothing streamed before the abort, the fill keeps the
		// finalized placeholder from reading as an empty reply.
		r.closeActiveTask("")
		r.finalizeAssistant("Aborted.")

	case engine.EventError:
		r.closeActiveTask("")
		msg := ev.Message
		if msg == "" {
			msg = "the agent reported an unknown error"
		}
		r.finalizeAssistantError(msg)

	default:
		r.log.Debug().Str("type", string(ev.Type)).Msg("ignoring unknown event type")
	}
}

// Finalized reports whether a terminal event has been applied.
func (r *Reconciler) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

// Orphans returns how many tool results could not be attributed to any tool
// message this turn.
func (r *Reconciler) Orphans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orphans
}

// UncorrelatedTasks returns how many task-spawning calls arrived without a
// correlation id this turn.
func (r *Reconciler) UncorrelatedTasks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uncorrelated
}

// FinalizeActiveTask closes the active task without a result. The controller
// calls this on user abort so the UI never shows a task stuck loading.
func (r *Reconciler) FinalizeActiveTask() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeActiveTask("")
}

// openTask finalizes any previous task and appends a fresh loading task
// message. The engine never nests tasks, so a new task opening means the
// previous one ended without a visible result.
func (r *Reconciler) openTask(call *engine.ToolCall) {
	r.closeActiveTask("")

	if call.ID == "" {
		r.uncorrelated++
		r.log.Error().Str("kind", inputString(call.Input, "subagentType")).
			Msg("task call arrived without a correlation id; its result cannot be matched")
	}

	msg := types.Message{
		Role: types.RoleTask,
		Task: &types.TaskInfo{
			CallID:      call.ID,
			Kind:        inputString(call.Input, "subagentType"),
			Description: inputString(call.Input, "description"),
			Prompt:      inputString(call.Input, "prompt"),
			Loading:     true,
			Time:        types.TaskTime{Start: time.Now().UnixMilli()},
		},
	}

	id := r.store.AppendMessage(r.sessionID, msg)
	r.active = &activeTask{messageID: id, callID: call.ID}
}

// recordToolCall appends a tool message. While a task is loading the call is
// also counted against it, since the engine interleaves a running task's tool
// activity into the same stream.
func (r *Reconciler) recordToolCall(call *engine.ToolCall) {
	if r.active != nil {
		r.active.toolCount++
		r.store.UpdateMessage(r.sessionID, r.active.messageID, store.MessagePatch{
			TaskToolCount: &r.active.toolCount,
		})
	}

	r.store.AppendMessage(r.sessionID, types.Message{
		Role: types.RoleTool,
		Tool: &types.ToolInfo{
			CallID: call.ID,
			Name:   call.Name,
			Input:  call.Input,
		},
	})
}

// applyToolResult attributes a result. A result correlated with the active
// task finalizes the task; anything else resolves a pending tool message,
// correlation id first, newest unresolved as fallback.
func (r *Reconciler) applyToolResult(res *engine.ToolResult) {
	if r.active != nil && res.CallID != "" && res.CallID == r.active.callID {
		r.closeActiveTask(res.Text)
		return
	}

	if _, ok := r.store.ResolveToolResult(r.sessionID, res.CallID, res.Text); !ok {
		r.orphans++
		r.log.Warn().Str("callID", res.CallID).Msg("dropping orphan tool result")
	}
}

// closeActiveTask finalizes the active task, with a result only when one
// arrived. Must be called with r.mu held.
func (r *Reconciler) closeActiveTask(result string) {
	if r.active == nil {
		return
	}

	now := time.Now().UnixMilli()
	loading := false
	patch := store.MessagePatch{
		TaskLoading:   &loading,
		TaskEnd:       &now,
		TaskToolCount: &r.active.toolCount,
	}
	if result != "" {
		patch.TaskResult = &result
	}

	r.store.UpdateMessage(r.sessionID, r.active.messageID, patch)
	r.active = nil
}

// finalizeAssistant marks the placeholder complete. When the turn streamed
// no text, the terminal summary fills the content so the transcript never
// shows an empty completed reply.
func (r *Reconciler) finalizeAssistant(summary string) {
	now := time.Now().UnixMilli()
	streaming := false
	patch := store.MessagePatch{
		Streaming: &streaming,
		Completed: &now,
	}
	if !r.appendedText && summary != "" {
		patch.Content = &summary
	}

	r.store.UpdateMessage(r.sessionID, r.assistantID, patch)
	r.finalized = true
}

// finalizeAssistantError replaces the placeholder content with the error
// description and marks it complete.
func (r *Reconciler) finalizeAssistantError(msg string) {
	now := time.Now().UnixMilli()
	streaming := false
	r.store.UpdateMessage(r.sessionID, r.assistantID, store.MessagePatch{
		Content:   &msg,
		Streaming: &streaming,
		Completed: &now,
	})
	r.finalized = true
}

func inputString(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	if s, ok := input[key].(string); ok {
		return s
	}
	return ""
}
