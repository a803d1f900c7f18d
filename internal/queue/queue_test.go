package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New()

	q.Enqueue("s1", &Request{Prompt: "first"})
	q.Enqueue("s1", &Request{Prompt: "second"})
	q.Enqueue("s1", &Request{Prompt: "third"})
	assert.Equal(t, 3, q.Len("s1"))

	for _, want := range []string{"first", "second", "third"} {
		req := q.Dequeue("s1")
		require.NotNil(t, req)
		assert.Equal(t, want, req.Prompt)
	}

	assert.Nil(t, q.Dequeue("s1"))
	assert.Equal(t, 0, q.Len("s1"))
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := New()
	assert.Nil(t, q.Dequeue("never-seen"))
}

func TestQueue_Clear(t *testing.T) {
	q := New()

	q.Enqueue("s1", &Request{Prompt: "a"})
	q.Enqueue("s1", &Request{Prompt: "b"})
	q.Clear("s1")

	assert.Equal(t, 0, q.Len("s1"))
	assert.Nil(t, q.Dequeue("s1"))
}

func TestQueue_SessionsIndependent(t *testing.T) {
	q := New()

	q.Enqueue("s1", &Request{Prompt: "one"})
	q.Enqueue("s2", &Request{Prompt: "two"})

	q.Clear("s1")

	assert.Equal(t, 0, q.Len("s1"))
	require.Equal(t, 1, q.Len("s2"))
	assert.Equal(t, "two", q.Dequeue("s2").Prompt)
}
