package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SSEEvent is one decoded frame off the event stream. The server wraps
// every event in a {"type": ..., "properties": ...} envelope; Type is
// taken from that envelope, not from the SSE "event:" field.
type SSEEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// SSEClient provides SSE client utilities for testing.
type SSEClient struct {
	BaseURL    string
	HTTPClient *http.Client

	mu       sync.Mutex
	events   []SSEEvent
	eventsCh chan SSEEvent
	errCh    chan error
	cancel   context.CancelFunc
	body     io.ReadCloser
}

// NewSSEClient creates a new SSE test client.
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 0, // No timeout for SSE
		},
		eventsCh: make(chan SSEEvent, 100),
		errCh:    make(chan error, 1),
	}
}

// Connect starts the SSE connection.
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/event-stream") {
		resp.Body.Close()
		return fmt.Errorf("unexpected content type: %s", contentType)
	}

	c.body = resp.Body

	go c.readEvents(resp.Body)

	return nil
}

// readEvents reads SSE frames from the connection.
func (c *SSEClient) readEvents(body io.Reader) {
	defer func() {
		close(c.eventsCh)
		close(c.errCh)
	}()

	reader := bufio.NewReader(body)
	var data strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && err != context.Canceled {
				c.errCh <- err
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")

		// Empty line = frame complete
		if line == "" {
			if data.Len() > 0 {
				var evt SSEEvent
				if jsonErr := json.Unmarshal([]byte(data.String()), &evt); jsonErr == nil {
					c.record(evt)
				}
			}
			data.Reset()
			continue
		}

		// Comment (heartbeat)
		if strings.HasPrefix(line, ":") {
			c.record(SSEEvent{Type: "heartbeat"})
			continue
		}

		if strings.HasPrefix(line, "data:") {
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func (c *SSEClient) record(evt SSEEvent) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()

	select {
	case c.eventsCh <- evt:
	default:
		// Channel full, drop event
	}
}

// Events returns the event channel.
func (c *SSEClient) Events() <-chan SSEEvent {
	return c.eventsCh
}

// WaitForEvent waits for a specific event type with timeout.
func (c *SSEClient) WaitForEvent(eventType string, timeout time.Duration) (*SSEEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.eventsCh:
			if !ok {
				return nil, fmt.Errorf("connection closed")
			}
			if evt.Type == eventType {
				return &evt, nil
			}
		case err := <-c.errCh:
			return nil, err
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event: %s", eventType)
		}
	}
}

// CollectEvents collects events for a duration.
func (c *SSEClient) CollectEvents(duration time.Duration) []SSEEvent {
	var collected []SSEEvent
	deadline := time.After(duration)
	for {
		select {
		case evt, ok := <-c.eventsCh:
			if !ok {
				return collected
			}
			collected = append(collected, evt)
		case <-deadline:
			return collected
		}
	}
}

// GetAllEvents returns all received events.
func (c *SSEClient) GetAllEvents() []SSEEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]SSEEvent, len(c.events))
	copy(result, c.events)
	return result
}

// HasEventType checks if an event type was received.
func (c *SSEClient) HasEventType(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, evt := range c.events {
		if evt.Type == eventType {
			return true
		}
	}
	return false
}

// CountEventType counts events of a specific type.
func (c *SSEClient) CountEventType(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, evt := range c.events {
		if evt.Type == eventType {
			count++
		}
	}
	return count
}

// Close closes the SSE connection.
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.body != nil {
		c.body.Close()
	}
}

// ---- Event property helpers ----

// SessionProps is the "info" payload of session.* events.
type SessionProps struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Busy  bool   `json:"busy"`
}

// MessageProps is the "info" payload of message.* events.
type MessageProps struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Streaming bool   `json:"streaming"`
}

// ParseSessionEvent decodes the session info from a session.* event.
func (evt *SSEEvent) ParseSessionEvent() (*SessionProps, error) {
	var wrapper struct {
		Info SessionProps `json:"info"`
	}
	if err := json.Unmarshal(evt.Properties, &wrapper); err != nil {
		return nil, err
	}
	return &wrapper.Info, nil
}

// ParseMessageEvent decodes the message info from a message.* event.
func (evt *SSEEvent) ParseMessageEvent() (*MessageProps, error) {
	var wrapper struct {
		Info MessageProps `json:"info"`
	}
	if err := json.Unmarshal(evt.Properties, &wrapper); err != nil {
		return nil, err
	}
	return &wrapper.Info, nil
}
