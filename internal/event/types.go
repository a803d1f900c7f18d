package event

import "github.com/agentdeck/agentdeck/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info *types.Session `json:"info"`
}

// SessionUpdatedData is the data for session.updated events. Covers title
// changes, busy transitions and agent correlation id assignment.
type SessionUpdatedData struct {
	Info *types.Session `json:"info"`
}

// SessionDeletedData is the data for session.deleted events.
type SessionDeletedData struct {
	SessionID string `json:"sessionID"`
}

// MessageCreatedData is the data for message.created events.
type MessageCreatedData struct {
	Info *types.Message `json:"info"`
}

// MessageUpdatedData is the data for message.updated events. Delta carries
// the appended text fragment when the update was a streaming append, so SSE
// clients can extend their copy without re-diffing the whole content.
type MessageUpdatedData struct {
	Info  *types.Message `json:"info"`
	Delta string         `json:"delta,omitempty"`
}

// QueueUpdatedData is the data for queue.updated events.
type QueueUpdatedData struct {
	SessionID string `json:"sessionID"`
	Length    int    `json:"length"`
}

// FileEditedData is the data for file.edited events published by the
// workspace watcher. Diff is a unified diff against the previously observed
// content, empty when no prior content was cached.
type FileEditedData struct {
	Path string `json:"path"`
	Diff string `json:"diff,omitempty"`
}
