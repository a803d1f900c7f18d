package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/agentdeck/agentdeck/internal/logging"
)

const (
	// connectMaxRetries bounds connection attempts per turn.
	connectMaxRetries = 3
	// connectInitialInterval is the first retry delay.
	connectInitialInterval = 500 * time.Millisecond
	// maxLineBytes caps one NDJSON line. Tool results can be large.
	maxLineBytes = 4 << 20
	// streamBuffer is the event channel depth. Small, to keep delivery
	// low-latency while absorbing short consumer stalls.
	streamBuffer = 32
)

// Client talks to the agent engine over HTTP. One POST per turn; the
// response body is an NDJSON stream of turn events.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a client for the engine at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		// No overall timeout: turns are long-lived streams. Cancellation
		// comes from the request context.
		http: &http.Client{},
		log:  logging.For("engine"),
	}
}

// turnRequestWire is the JSON body of a turn request.
type turnRequestWire struct {
	Prompt   string `json:"prompt"`
	ResumeID string `json:"resumeID,omitempty"`
	ModelID  string `json:"modelID,omitempty"`
	Effort   string `json:"effort,omitempty"`
	Plan     bool   `json:"plan,omitempty"`
	Cwd      string `json:"cwd,omitempty"`
}

// eventWire is one NDJSON line from the engine.
type eventWire struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionID,omitempty"`
	CallID    string          `json:"callID,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Open starts one turn. Connection establishment is retried with
// exponential backoff and jitter. Once the stream is open there are no
// retries; mid-stream failures surface as a terminal error event so the
// consumer can finalize state consistently.
func (c *Client) Open(ctx context.Context, req TurnRequest) (Stream, error) {
	body, err := json.Marshal(turnRequestWire{
		Prompt:   req.Prompt,
		ResumeID: req.ResumeID,
		ModelID:  req.ModelID,
		Effort:   req.Effort,
		Plan:     req.Plan,
		Cwd:      req.Cwd,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode turn request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)

	resp, err := c.connect(streamCtx, body)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &httpStream{
		events: make(chan Event, streamBuffer),
		cancel: cancel,
		body:   resp.Body,
		log:    c.log,
	}
	go s.read()

	return s, nil
}

// connect posts the turn request, retrying transient failures.
func (c *Client) connect(ctx context.Context, body []byte) (*http.Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = connectInitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, connectMaxRetries), ctx)

	var resp *http.Response
	op := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/turn", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/x-ndjson")

		r, err := c.http.Do(httpReq)
		if err != nil {
			return err
		}
		if r.StatusCode != http.StatusOK {
			r.Body.Close()
			err := fmt.Errorf("engine returned status %d", r.StatusCode)
			if r.StatusCode >= 400 && r.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("failed to open turn stream: %w", err)
	}
	return resp, nil
}

// httpStream is one in-flight NDJSON turn stream.
type httpStream struct {
	events  chan Event
	cancel  context.CancelFunc
	body    io.ReadCloser
	aborted atomic.Bool
	log     zerolog.Logger
}

func (s *httpStream) Events() <-chan Event { return s.events }

// Abort stops generation. The reader keeps delivering whatever is already
// buffered, appends an aborted acknowledgment and closes the channel.
func (s *httpStream) Abort() {
	s.aborted.Store(true)
	s.cancel()
}

func (s *httpStream) Close() error {
	s.cancel()
	return s.body.Close()
}

// read parses NDJSON lines into events until a terminal event, a transport
// failure or an abort. It guarantees the channel ends with exactly one
// terminal event and is then closed.
func (s *httpStream) read() {
	defer close(s.events)
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		ev, ok := parseEvent(line)
		if !ok {
			// Malformed or unrecognized lines are skipped, never fatal.
			s.log.Debug().Str("line", truncate(string(line), 200)).Msg("skipping unparseable engine event")
			continue
		}

		s.events <- ev
		if isTerminal(ev.Type) {
			return
		}
	}

	// The stream ended without a terminal event: synthesize one so the
	// consumer always reaches a finalized state.
	if s.aborted.Load() {
		s.events <- Event{Type: EventAborted}
		return
	}
	if err := scanner.Err(); err != nil {
		s.events <- Event{Type: EventError, Message: fmt.Sprintf("stream read failed: %v", err)}
		return
	}
	s.events <- Event{Type: EventError, Message: "stream ended unexpectedly"}
}

func isTerminal(t EventType) bool {
	return t == EventDone || t == EventError || t == EventAborted
}

// parseEvent decodes one wire line. ok=false means the line should be
// ignored (bad JSON or an event kind this version does not know).
func parseEvent(line []byte) (Event, bool) {
	var wire eventWire
	if err := json.Unmarshal(line, &wire); err != nil {
		return Event{}, false
	}

	switch EventType(wire.Type) {
	case EventInit:
		return Event{Type: EventInit, AgentSessionID: wire.SessionID}, true
	case EventText:
		var p Payload
		if len(wire.Content) > 0 {
			_ = p.UnmarshalJSON(wire.Content)
		}
		return Event{Type: EventText, Text: p.Text}, true
	case EventToolCall:
		return Event{Type: EventToolCall, Call: &ToolCall{
			ID:    wire.CallID,
			Name:  wire.Name,
			Input: wire.Input,
		}}, true
	case EventToolResult:
		var p Payload
		if len(wire.Content) > 0 {
			_ = p.UnmarshalJSON(wire.Content)
		}
		return Event{Type: EventToolResult, Result: &ToolResult{
			CallID: wire.CallID,
			Text:   p.Text,
		}}, true
	case EventDone:
		return Event{Type: EventDone, Summary: wire.Summary}, true
	case EventError:
		return Event{Type: EventError, Message: wire.Message}, true
	case EventAborted:
		return Event{Type: EventAborted}, true
	default:
		return Event{}, false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
