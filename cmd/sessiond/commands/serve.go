package commands

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessionkit/sessionkit/internal/config"
	"github.com/sessionkit/sessionkit/internal/history"
	"github.com/sessionkit/sessionkit/internal/logging"
	"github.com/sessionkit/sessionkit/internal/server"
	"github.com/sessionkit/sessionkit/internal/workflow"
)

var (
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session engine server",
	Long: `Start the session engine as an HTTP server.

Sessions are created and driven through the JSON API; live events
stream over SSE. Workflow documents in the configured workflow
directory are available by id, and terminal sessions persist their
transcripts to the history directory.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	appConfig, dir, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.Component("sessiond")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	var opts server.Options

	historyDir := appConfig.HistoryDir
	if historyDir == "" {
		historyDir = paths.HistoryPath()
	}
	opts.Store = history.NewStore(historyDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if appConfig.WorkflowDir != "" {
		library := workflow.NewLibrary(appConfig.WorkflowDir)
		if err := library.Load(); err != nil {
			log.Warn().Str("dir", appConfig.WorkflowDir).Err(err).Msg("loading workflow library")
		}
		go func() {
			if err := library.Watch(ctx); err != nil {
				log.Warn().Err(err).Msg("watching workflow directory")
			}
		}()
		opts.Library = library
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Port = appConfig.Server.Port
	if servePort != 0 {
		serverConfig.Port = servePort
	}
	serverConfig.EnableCORS = appConfig.Server.EnableCORS

	srv := server.New(serverConfig, appConfig, opts)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Info().
		Str("version", Version).
		Str("directory", dir).
		Int("port", serverConfig.Port).
		Msg("sessiond started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
	return nil
}
