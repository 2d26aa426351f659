package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dora/internal/config"
	"dora/internal/logger"
	"dora/internal/server"
)

// NewServeCmd creates the serve command for the dashboard API
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard data over a read-only JSON API",
		Long: `Start an HTTP server exposing scopes, clusters, groups and the dashboard
payload as JSON. The server only reads the database; run the pipeline
stages separately to refresh the data.

Endpoints:
  GET /health
  GET /api/scopes
  GET /api/scopes/{company}/{kind}/{dimensions}[/clusters|/groups|/dashboard]
  GET /api/clusters/{id}
  GET /api/dashboard?company=<name>

Examples:
  dora serve
  dora serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, host)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8787)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 127.0.0.1)")
	return cmd
}

func runServe(ctx context.Context, port int, host string) error {
	serverCfg := config.GetServer()
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	db, err := getDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	srv := server.New(db, serverCfg)

	serverErrors := make(chan error, 1)
	go func() {
		fmt.Printf("🚀 Dashboard API running at http://%s\n", serverCfg.Addr())
		fmt.Println("   Press Ctrl+C to stop the server")
		serverErrors <- srv.Start()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("server shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		fmt.Println("👋 Dashboard API stopped")
	}

	return nil
}
