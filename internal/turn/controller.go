package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentdeck/agentdeck/internal/attach"
	"github.com/agentdeck/agentdeck/internal/engine"
	"github.com/agentdeck/agentdeck/internal/event"
	"github.com/agentdeck/agentdeck/internal/logging"
	"github.com/agentdeck/agentdeck/internal/queue"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/pkg/types"
)

// ErrEmptyRequest is returned when a submission carries neither a prompt nor
// files.
var ErrEmptyRequest = errors.New("request has no prompt and no files")

// Uploader stores files attached to a submission.
type Uploader interface {
	Upload(files []attach.File) ([]types.Attachment, error)
}

// Options configures turn dispatch.
type Options struct {
	// Cwd is the workspace directory handed to the engine.
	Cwd string
	// DefaultModelID is used when a request names no model.
	DefaultModelID string
	// DefaultEffort is used when a request names no effort.
	DefaultEffort string
}

// Controller owns turn execution for all sessions. At most one turn runs per
// session; submissions during a turn are queued FIFO and dispatched when the
// turn ends. The controller is the only writer of the busy flag and the only
// holder of live stream handles, so abort always has something to act on.
type Controller struct {
	store  *store.Store
	queue  *queue.Queue
	engine engine.Engine
	files  Uploader
	bus    *event.Bus
	log    zerolog.Logger
	opts   Options

	mu    sync.Mutex
	turns map[string]*activeTurn
}

// activeTurn is the live handle for one in-flight turn. The stream and
// reconciler are filled in once the engine connection is up; aborting before
// that just marks the handle so the stream is torn down on arrival.
type activeTurn struct {
	mu      sync.Mutex
	stream  engine.Stream
	rec     *Reconciler
	aborted bool
}

// NewController creates a controller. bus and files may be nil in tests.
func NewController(st *store.Store, q *queue.Queue, eng engine.Engine, files Uploader, bus *event.Bus, opts Options) *Controller {
	return &Controller{
		store:  st,
		queue:  q,
		engine: eng,
		files:  files,
		bus:    bus,
		log:    logging.For("turn"),
		opts:   opts,
		turns:  make(map[string]*activeTurn),
	}
}

// Submit starts a turn for the request, or queues it when the session is
// already busy. Returns queued=true in the latter case. The caller gets
// control back immediately either way; the turn runs in the background.
func (c *Controller) Submit(sessionID string, req *queue.Request) (queued bool, err error) {
	if req == nil || (req.Prompt == "" && len(req.Files) == 0) {
		return false, ErrEmptyRequest
	}
	if _, err := c.store.Get(sessionID); err != nil {
		return false, err
	}

	c.mu.Lock()
	if c.store.IsBusy(sessionID) {
		c.queue.Enqueue(sessionID, req)
		length := c.queue.Len(sessionID)
		c.mu.Unlock()

		c.publishQueue(sessionID, length)
		return true, nil
	}

	c.store.SetBusy(sessionID, true)
	t := &activeTurn{}
	c.turns[sessionID] = t
	c.mu.Unlock()

	go c.runTurn(sessionID, req, t)
	return false, nil
}

// Abort stops the session's in-flight turn, if any, and discards every
// queued submission. The turn itself winds down through its stream: the
// engine acknowledges the abort, the reconciler finalizes the placeholder
// and the busy flag clears when the stream closes.
func (c *Controller) Abort(sessionID string) error {
	if _, err := c.store.Get(sessionID); err != nil {
		return err
	}

	c.mu.Lock()
	t := c.turns[sessionID]
	c.queue.Clear(sessionID)
	c.mu.Unlock()

	c.publishQueue(sessionID, 0)

	if t == nil {
		return nil
	}

	t.mu.Lock()
	t.aborted = true
	stream, rec := t.stream, t.rec
	t.mu.Unlock()

	if rec != nil {
		// Close the task now rather than waiting for the ack, so the UI
		// never shows a task loading after the user aborted.
		rec.FinalizeActiveTask()
	}
	if stream != nil {
		stream.Abort()
	}
	return nil
}

// QueueLength returns the number of pending submissions for a session.
func (c *Controller) QueueLength(sessionID string) int {
	return c.queue.Len(sessionID)
}

// runTurn executes one turn end to end: attachments, transcript setup,
// engine stream, reconciliation, then queue drain.
func (c *Controller) runTurn(sessionID string, req *queue.Request, t *activeTurn) {
	defer c.finishTurn(sessionID)

	now := time.Now().UnixMilli()

	attachments, err := c.uploadFiles(req.Files)
	if err != nil {
		// All-or-nothing: the turn never starts on a partial upload.
		c.log.Error().Err(err).Str("sessionID", sessionID).Msg("attachment upload failed")
		c.store.AppendMessage(sessionID, types.Message{
			Role:    types.RoleSystem,
			Content: fmt.Sprintf("Attachment upload failed: %v", err),
			Time:    types.MessageTime{Completed: &now},
		})
		return
	}

	c.store.AppendMessage(sessionID, types.Message{
		Role:        types.RoleUser,
		Content:     req.Prompt,
		Attachments: attachments,
		Time:        types.MessageTime{Completed: &now},
	})
	placeholderID := c.store.AppendMessage(sessionID, types.Message{
		Role:      types.RoleAssistant,
		Streaming: true,
	})

	rec := NewReconciler(c.store, sessionID, placeholderID)

	modelID := req.ModelID
	if modelID == "" {
		modelID = c.opts.DefaultModelID
	}
	effort := req.Effort
	if effort == "" {
		effort = c.opts.DefaultEffort
	}

	stream, err := c.engine.Open(context.Background(), engine.TurnRequest{
		Prompt:   req.Prompt,
		ResumeID: c.store.AgentSessionID(sessionID),
		ModelID:  modelID,
		Effort:   effort,
		Plan:     req.Plan,
		Cwd:      c.opts.Cwd,
	})
	if err != nil {
		rec.Apply(engine.Event{
			Type:    engine.EventError,
			Message: fmt.Sprintf("failed to reach the agent: %v", err),
		})
		return
	}
	defer stream.Close()

	t.mu.Lock()
	t.stream = stream
	t.rec = rec
	aborted := t.aborted
	t.mu.Unlock()
	if aborted {
		// Abort raced the connection; tear the stream down now. The
		// acknowledgment still flows through the loop below.
		stream.Abort()
	}

	for ev := range stream.Events() {
		c.applyEvent(rec, ev)
	}

	if !rec.Finalized() {
		// The transcript must never end on a streaming message, even if the
		// stream closed without a terminal event.
		rec.Apply(engine.Event{Type: engine.EventError, Message: "the turn ended without completing"})
	}
}

// applyEvent reconciles one event, isolating panics so a single bad event
// cannot kill the turn goroutine.
func (c *Controller) applyEvent(rec *Reconciler, ev engine.Event) {
	defer func() {
		if p := recover(); p != nil {
			c.log.Error().Interface("panic", p).Str("type", string(ev.Type)).
				Msg("event application panicked; event skipped")
		}
	}()
	rec.Apply(ev)
}

// finishTurn releases the session and dispatches the next queued submission,
// if any. Each drained entry runs on a fresh goroutine, so the drain is
// iterative no matter how deep the queue got.
func (c *Controller) finishTurn(sessionID string) {
	c.mu.Lock()
	delete(c.turns, sessionID)

	next := c.queue.Dequeue(sessionID)
	if next == nil {
		// Busy must clear under the same lock as the dequeue: a submission
		// landing between the two would enqueue against a session no turn
		// will ever drain.
		c.store.SetBusy(sessionID, false)
		c.mu.Unlock()
		return
	}

	// Chain straight into the queued turn; busy stays set so no outside
	// submission can slip in between.
	t := &activeTurn{}
	c.turns[sessionID] = t
	length := c.queue.Len(sessionID)
	c.mu.Unlock()

	c.publishQueue(sessionID, length)
	go c.runTurn(sessionID, next, t)
}

func (c *Controller) uploadFiles(files []attach.File) ([]types.Attachment, error) {
	if len(files) == 0 || c.files == nil {
		return nil, nil
	}
	return c.files.Upload(files)
}

func (c *Controller) publishQueue(sessionID string, length int) {
	if c.bus != nil {
		c.bus.Publish(event.Event{
			Type: event.QueueUpdated,
			Data: event.QueueUpdatedData{SessionID: sessionID, Length: length},
		})
	}
}
