package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/attach"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/engine"
	"github.com/agentdeck/agentdeck/internal/event"
	"github.com/agentdeck/agentdeck/internal/logging"
	"github.com/agentdeck/agentdeck/internal/queue"
	"github.com/agentdeck/agentdeck/internal/server"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/terminal"
	"github.com/agentdeck/agentdeck/internal/turn"
	"github.com/agentdeck/agentdeck/internal/workspace"
)

var (
	servePort      int
	serveDir       string
	serveEngineURL string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentdeck server",
	Long: `Start the HTTP server that backs the agentdeck UI.

The server manages sessions, submits turns to the agent engine, streams
progress over SSE and serves the workspace file tree.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Workspace directory (defaults to cwd)")
	serveCmd.Flags().StringVar(&serveEngineURL, "engine-url", "", "Agent engine base URL (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logging.For("main")

	workDir := serveDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
	}

	if err := config.GetPaths().EnsurePaths(); err != nil {
		return fmt.Errorf("failed to create data directories: %w", err)
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveEngineURL != "" {
		cfg.EngineURL = serveEngineURL
	}

	log.Info().Str("version", Version).Str("directory", cfg.Directory).
		Str("engineURL", cfg.EngineURL).Msg("starting agentdeck")

	bus := event.NewBus()
	defer bus.Close()

	st := store.New(bus)

	attachments, err := attach.NewStore(cfg.AttachDir)
	if err != nil {
		return err
	}

	ws, err := workspace.New(cfg.Directory, cfg.Ignore)
	if err != nil {
		return err
	}

	watcher, err := workspace.NewWatcher(ws, bus)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Close()

	controller := turn.NewController(st, queue.New(), engine.NewClient(cfg.EngineURL), attachments, bus, turn.Options{
		Cwd:            cfg.Directory,
		DefaultModelID: cfg.Model,
		DefaultEffort:  cfg.Effort,
	})

	serverCfg := server.DefaultConfig()
	serverCfg.Port = cfg.Port

	srv := server.New(serverCfg, server.Deps{
		Store:       st,
		Controller:  controller,
		Workspace:   ws,
		Attachments: attachments,
		Runner:      terminal.NewRunner(cfg.Directory, cfg.ShellTimeoutDuration()),
		Bus:         bus,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}
