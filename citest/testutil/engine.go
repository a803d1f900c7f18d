package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// TurnRequest mirrors the engine's turn request wire shape.
type TurnRequest struct {
	Prompt   string `json:"prompt"`
	ResumeID string `json:"resumeID"`
	ModelID  string `json:"modelID"`
	Effort   string `json:"effort"`
	Plan     bool   `json:"plan"`
	Cwd      string `json:"cwd"`
}

// Script produces the NDJSON lines the fake engine streams for one turn.
type Script func(req TurnRequest) []string

// EchoScript is the default: acknowledge, echo the prompt, finish.
func EchoScript(req TurnRequest) []string {
	text, _ := json.Marshal("echo: " + req.Prompt)
	return []string{
		`{"type":"init","sessionID":"agent-fake"}`,
		fmt.Sprintf(`{"type":"text","content":%s}`, text),
		`{"type":"done"}`,
	}
}

// FakeEngine is an HTTP server speaking the engine's NDJSON turn protocol.
type FakeEngine struct {
	server *httptest.Server

	mu       sync.Mutex
	script   Script
	requests []TurnRequest
}

// NewFakeEngine starts a fake engine with the given script (nil means
// EchoScript).
func NewFakeEngine(script Script) *FakeEngine {
	e := &FakeEngine{script: script}
	if e.script == nil {
		e.script = EchoScript
	}

	e.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		e.mu.Lock()
		e.requests = append(e.requests, req)
		script := e.script
		e.mu.Unlock()

		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, line := range script(req) {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
	return e
}

// URL returns the engine base URL.
func (e *FakeEngine) URL() string { return e.server.URL }

// SetScript swaps the script for subsequent turns.
func (e *FakeEngine) SetScript(script Script) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script = script
}

// Requests returns every turn request received so far.
func (e *FakeEngine) Requests() []TurnRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]TurnRequest(nil), e.requests...)
}

// Close shuts the fake engine down.
func (e *FakeEngine) Close() { e.server.Close() }
