// Package queue holds turn requests submitted while a session already has a
// turn in flight. Strict FIFO per session; sessions never interact.
package queue

import (
	"sync"

	"github.com/agentdeck/agentdeck/internal/attach"
)

// Request is one pending turn submission.
type Request struct {
	Prompt  string
	ModelID string
	Effort  string
	Plan    bool
	Files   []attach.File
}

// Queue is a set of independent per-session FIFO queues.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]*Request
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{pending: make(map[string][]*Request)}
}

// Enqueue appends a request to the tail of the session's queue.
func (q *Queue) Enqueue(sessionID string, req *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[sessionID] = append(q.pending[sessionID], req)
}

// Dequeue pops the head of the session's queue, or returns nil when empty.
func (q *Queue) Dequeue(sessionID string) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.pending[sessionID]
	if len(entries) == 0 {
		return nil
	}

	head := entries[0]
	if len(entries) == 1 {
		delete(q.pending, sessionID)
	} else {
		q.pending[sessionID] = entries[1:]
	}
	return head
}

// Clear empties the session's queue. Used on user-initiated abort, which
// discards queued follow-ups wholesale.
func (q *Queue) Clear(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, sessionID)
}

// Len returns the session's queue length.
func (q *Queue) Len(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[sessionID])
}
