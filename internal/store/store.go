// Package store holds the authoritative in-memory conversation state: the
// sessions, their ordered message lists, the per-session busy flag and the
// agent correlation id. All mutation goes through the narrow API here so the
// transcript invariants (set-once tool results, one-way task finalization,
// no writes after completion) are enforced in one place rather than by
// convention in callers.
package store

import (
	crand "crypto/rand"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/agentdeck/agentdeck/internal/event"
	"github.com/agentdeck/agentdeck/internal/logging"
	"github.com/agentdeck/agentdeck/pkg/types"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Ids are monotonic within a millisecond so lexicographic id order always
// matches creation order.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(crand.Reader, 0)
)

func newID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// Store is the in-memory session store. Safe for concurrent use; entries for
// different sessions never contend beyond the map lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record

	bus *event.Bus
	log zerolog.Logger
}

type record struct {
	session  types.Session
	messages []*types.Message
}

// New creates an empty store publishing change events on bus.
func New(bus *event.Bus) *Store {
	return &Store{
		sessions: make(map[string]*record),
		bus:      bus,
		log:      logging.For("store"),
	}
}

// Create adds a new session. Always succeeds.
func (s *Store) Create(title string) *types.Session {
	if title == "" {
		title = "New Session"
	}

	now := time.Now().UnixMilli()
	session := types.Session{
		ID:    newID(),
		Title: title,
		Time: types.SessionTime{
			Created: now,
			Updated: now,
		},
	}

	s.mu.Lock()
	s.sessions[session.ID] = &record{session: session}
	s.mu.Unlock()

	out := session
	s.publish(event.SessionCreated, event.SessionCreatedData{Info: &out})
	return &out
}

// Get returns a copy of the session, or ErrNotFound.
func (s *Store) Get(sessionID string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec.session
	return &out, nil
}

// List returns all sessions ordered by creation time.
func (s *Store) List() []*types.Session {
	s.mu.RLock()
	out := make([]*types.Session, 0, len(s.sessions))
	for _, rec := range s.sessions {
		sess := rec.session
		out = append(out, &sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Created != out[j].Time.Created {
			return out[i].Time.Created < out[j].Time.Created
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Rename sets a session's display title.
func (s *Store) Rename(sessionID, title string) error {
	s.mu.Lock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	rec.session.Title = title
	rec.session.Time.Updated = time.Now().UnixMilli()
	out := rec.session
	s.mu.Unlock()

	s.publish(event.SessionUpdated, event.SessionUpdatedData{Info: &out})
	return nil
}

// Delete removes a session and its messages.
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	s.publish(event.SessionDeleted, event.SessionDeletedData{SessionID: sessionID})
	return nil
}

// Messages returns a snapshot copy of the session's transcript in order.
// Unknown sessions yield nil.
func (s *Store) Messages(sessionID string) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}

	out := make([]types.Message, len(rec.messages))
	for i, m := range rec.messages {
		out[i] = cloneMessage(m)
	}
	return out
}

// AppendMessage assigns an id and creation timestamp, appends the message to
// the end of the session's transcript and returns the new id. Unknown
// sessions are a silent no-op returning the empty string; callers are
// expected to already hold a valid session id.
func (s *Store) AppendMessage(sessionID string, msg types.Message) string {
	s.mu.Lock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ""
	}

	msg.ID = newID()
	msg.SessionID = sessionID
	msg.Time.Created = time.Now().UnixMilli()

	stored := msg
	rec.messages = append(rec.messages, &stored)
	snapshot := cloneMessage(&stored)
	s.mu.Unlock()

	s.publish(event.MessageCreated, event.MessageCreatedData{Info: &snapshot})
	return msg.ID
}

// UpdateMessage merges the patch into an existing message in place,
// preserving its position. Unknown session or message ids are a no-op.
func (s *Store) UpdateMessage(sessionID, messageID string, patch MessagePatch) {
	s.mu.Lock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}

	var target *types.Message
	for _, m := range rec.messages {
		if m.ID == messageID {
			target = m
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return
	}

	delta := patch.apply(target)
	snapshot := cloneMessage(target)
	s.mu.Unlock()

	s.publish(event.MessageUpdated, event.MessageUpdatedData{Info: &snapshot, Delta: delta})
}

// SetBusy sets the in-flight-turn flag for a session.
func (s *Store) SetBusy(sessionID string, busy bool) {
	s.mu.Lock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.session.Busy = busy
	rec.session.Time.Updated = time.Now().UnixMilli()
	out := rec.session
	s.mu.Unlock()

	s.publish(event.SessionUpdated, event.SessionUpdatedData{Info: &out})
}

// IsBusy reports whether a session has a turn in flight. Unknown sessions
// are never busy.
func (s *Store) IsBusy(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	return ok && rec.session.Busy
}

// SetAgentSessionID records the engine's correlation id. It is written once,
// on the first turn's init event; later calls are ignored so a reconnecting
// turn can never re-point an established session.
func (s *Store) SetAgentSessionID(sessionID, agentSessionID string) {
	if agentSessionID == "" {
		return
	}

	s.mu.Lock()
	rec, ok := s.sessions[sessionID]
	if !ok || rec.session.AgentSessionID != "" {
		s.mu.Unlock()
		return
	}
	rec.session.AgentSessionID = agentSessionID
	rec.session.Time.Updated = time.Now().UnixMilli()
	out := rec.session
	s.mu.Unlock()

	s.publish(event.SessionUpdated, event.SessionUpdatedData{Info: &out})
}

// AgentSessionID returns the engine correlation id, empty if none yet.
func (s *Store) AgentSessionID(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.sessions[sessionID]; ok {
		return rec.session.AgentSessionID
	}
	return ""
}

// ResolveToolResult attributes a tool result to a tool message and sets its
// result exactly once. The matching policy, in order:
//
//  1. newest-to-oldest scan for an unresolved tool message whose CallID
//     equals callID (when callID is non-empty);
//  2. fallback: the most recently appended tool message with no result yet,
//     regardless of CallID.
//
// Returns the message id that received the result, or ok=false when nothing
// matched (the caller treats that as an orphan result).
func (s *Store) ResolveToolResult(sessionID, callID, result string) (string, bool) {
	s.mu.Lock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return "", false
	}

	target := findUnresolvedTool(rec.messages, callID)
	if target == nil {
		target = findUnresolvedTool(rec.messages, "")
	}
	if target == nil {
		s.mu.Unlock()
		return "", false
	}

	target.Tool.Result = &result
	snapshot := cloneMessage(target)
	s.mu.Unlock()

	s.publish(event.MessageUpdated, event.MessageUpdatedData{Info: &snapshot})
	return snapshot.ID, true
}

// findUnresolvedTool scans newest to oldest for an unresolved tool message.
// With a non-empty callID only exact correlation matches count; with an
// empty callID any unresolved tool message matches.
func findUnresolvedTool(messages []*types.Message, callID string) *types.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != types.RoleTool || m.Tool == nil || m.Tool.Resolved() {
			continue
		}
		if callID == "" || m.Tool.CallID == callID {
			return m
		}
	}
	return nil
}

func (s *Store) publish(t event.Type, data any) {
	if s.bus != nil {
		s.bus.Publish(event.Event{Type: t, Data: data})
	}
}

// cloneMessage deep-copies a message so snapshots handed to callers and the
// bus never alias store-owned state.
func cloneMessage(m *types.Message) types.Message {
	out := *m

	if m.Attachments != nil {
		out.Attachments = append([]types.Attachment(nil), m.Attachments...)
	}
	if m.Tool != nil {
		tool := *m.Tool
		if m.Tool.Input != nil {
			tool.Input = make(map[string]any, len(m.Tool.Input))
			for k, v := range m.Tool.Input {
				tool.Input[k] = v
			}
		}
		if m.Tool.Result != nil {
			r := *m.Tool.Result
			tool.Result = &r
		}
		out.Tool = &tool
	}
	if m.Task != nil {
		task := *m.Task
		if m.Task.Time.End != nil {
			e := *m.Task.Time.End
			task.Time.End = &e
		}
		out.Task = &task
	}
	if m.Time.Completed != nil {
		c := *m.Time.Completed
		out.Time.Completed = &c
	}
	return out
}
