package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentdeck/agentdeck/pkg/types"
)

// TestClient provides HTTP client utilities for testing.
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client.
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Response wraps an HTTP response with helpers.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns the response body as a string.
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs an HTTP GET request.
func (c *TestClient) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs an HTTP POST request with a JSON body.
func (c *TestClient) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Patch performs an HTTP PATCH request with a JSON body.
func (c *TestClient) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

// Delete performs an HTTP DELETE request.
func (c *TestClient) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *TestClient) do(ctx context.Context, method, path string, body any) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// ---- Session helpers ----

// CreateSession creates a new session.
func (c *TestClient) CreateSession(ctx context.Context, title string) (*types.Session, error) {
	resp, err := c.Post(ctx, "/session", map[string]string{"title": title})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to create session: %d - %s", resp.StatusCode, resp.String())
	}

	var session types.Session
	if err := resp.JSON(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession retrieves a session by id.
func (c *TestClient) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	resp, err := c.Get(ctx, "/session/"+sessionID)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to get session: %d - %s", resp.StatusCode, resp.String())
	}

	var session types.Session
	if err := resp.JSON(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// SendMessageAck is the submission acknowledgment.
type SendMessageAck struct {
	Queued bool `json:"queued"`
}

// SendMessage submits a prompt. The turn runs in the background.
func (c *TestClient) SendMessage(ctx context.Context, sessionID, prompt string) (*SendMessageAck, error) {
	resp, err := c.Post(ctx, "/session/"+sessionID+"/message", map[string]string{"prompt": prompt})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("failed to send message: %d - %s", resp.StatusCode, resp.String())
	}

	var ack SendMessageAck
	if err := resp.JSON(&ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// GetMessages retrieves the session transcript.
func (c *TestClient) GetMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	resp, err := c.Get(ctx, "/session/"+sessionID+"/message")
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to get messages: %d - %s", resp.StatusCode, resp.String())
	}

	var messages []types.Message
	if err := resp.JSON(&messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// WaitIdle polls until the session's busy flag clears.
func (c *TestClient) WaitIdle(ctx context.Context, sessionID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		session, err := c.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !session.Busy {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("session %s still busy after %v", sessionID, timeout)
}
