// Package types defines the wire types shared between the agentdeck server
// and its browser clients.
package types

// Session is one conversation with the agent engine.
type Session struct {
	ID    string      `json:"id"`
	Title string      `json:"title"`
	Busy  bool        `json:"busy"`
	Time  SessionTime `json:"time"`

	// AgentSessionID is the correlation id assigned by the agent engine on
	// the first turn. Later turns send it back to resume the same engine
	// session. Empty until the first init event arrives.
	AgentSessionID string `json:"agentSessionID,omitempty"`
}

// SessionTime contains timestamps for a session, in Unix milliseconds.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}
