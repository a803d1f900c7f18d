// Package testutil provides helpers for HTTP-level tests: a fully wired
// test server backed by a fake NDJSON engine, an HTTP client and an SSE
// client.
package testutil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/agentdeck/agentdeck/internal/attach"
	"github.com/agentdeck/agentdeck/internal/engine"
	"github.com/agentdeck/agentdeck/internal/event"
	"github.com/agentdeck/agentdeck/internal/queue"
	"github.com/agentdeck/agentdeck/internal/server"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/terminal"
	"github.com/agentdeck/agentdeck/internal/turn"
	"github.com/agentdeck/agentdeck/internal/workspace"
)

// TestServer wraps a fully wired server instance for testing.
type TestServer struct {
	Server  *server.Server
	BaseURL string
	Store   *store.Store
	Bus     *event.Bus
	Engine  *FakeEngine
	WorkDir string
	tempDir string
}

// TestServerOption configures TestServer.
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	workDir string
	script  Script
}

// WithWorkDir sets the workspace directory.
func WithWorkDir(dir string) TestServerOption {
	return func(c *testServerConfig) {
		c.workDir = dir
	}
}

// WithScript sets the fake engine script.
func WithScript(script Script) TestServerOption {
	return func(c *testServerConfig) {
		c.script = script
	}
}

// StartTestServer creates and starts a test server backed by a fake engine.
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	tempDir, err := os.MkdirTemp("", "agentdeck-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	workDir := cfg.workDir
	if workDir == "" {
		workDir = filepath.Join(tempDir, "workspace")
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			os.RemoveAll(tempDir)
			return nil, fmt.Errorf("failed to create workspace dir: %w", err)
		}
	}

	port, err := findAvailablePort()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	fake := NewFakeEngine(cfg.script)

	bus := event.NewBus()
	st := store.New(bus)

	attachments, err := attach.NewStore(filepath.Join(tempDir, "attachments"))
	if err != nil {
		fake.Close()
		os.RemoveAll(tempDir)
		return nil, err
	}

	ws, err := workspace.New(workDir, nil)
	if err != nil {
		fake.Close()
		os.RemoveAll(tempDir)
		return nil, err
	}

	controller := turn.NewController(st, queue.New(), engine.NewClient(fake.URL()), attachments, bus, turn.Options{
		Cwd: workDir,
	})

	serverCfg := server.DefaultConfig()
	serverCfg.Port = port

	srv := server.New(serverCfg, server.Deps{
		Store:       st,
		Controller:  controller,
		Workspace:   ws,
		Attachments: attachments,
		Runner:      terminal.NewRunner(workDir, 10*time.Second),
		Bus:         bus,
	})

	go func() {
		_ = srv.Start()
	}()

	baseURL := fmt.Sprintf("http://localhost:%d", port)
	if err := waitForServer(baseURL, 10*time.Second); err != nil {
		srv.Shutdown(context.Background())
		fake.Close()
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return &TestServer{
		Server:  srv,
		BaseURL: baseURL,
		Store:   st,
		Bus:     bus,
		Engine:  fake,
		WorkDir: workDir,
		tempDir: tempDir,
	}, nil
}

// Stop shuts down the test server and cleans up.
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if ts.Server != nil {
		err = ts.Server.Shutdown(ctx)
	}
	if ts.Engine != nil {
		ts.Engine.Close()
	}
	if ts.Bus != nil {
		ts.Bus.Close()
	}
	if ts.tempDir != "" {
		os.RemoveAll(ts.tempDir)
	}
	return err
}

// Client returns a new test client for this server.
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server.
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// findAvailablePort finds an available TCP port.
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to accept requests.
func waitForServer(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/session")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}
