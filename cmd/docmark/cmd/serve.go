package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docmark/internal/pipeline"
	"github.com/MeKo-Tech/docmark/internal/recognize"
	"github.com/MeKo-Tech/docmark/internal/render"
	"github.com/MeKo-Tech/docmark/internal/server"
	"github.com/MeKo-Tech/docmark/internal/task"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the asynchronous conversion HTTP server",
	Long: `Start an HTTP server that accepts PDF uploads and converts them to
markdown asynchronously.

The server provides the following endpoints:
  POST   /convert             - Upload a PDF and register a conversion task
  GET    /status/{id}         - Poll task status and queue position
  GET    /stats               - Aggregate task counters
  GET    /download/{id}/{kind} - Download a finished artifact
  DELETE /task/{id}           - Delete a task and its artifacts
  GET    /ws/tasks/{id}       - WebSocket status stream
  GET    /health              - Health check endpoint
  GET    /metrics             - Prometheus metrics

Examples:
  docmark serve
  docmark serve --port 8080 --max-concurrent 4
  docmark serve --host 0.0.0.0 --recognizer-endpoint http://gpu-box:9000`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	host := cfg.Server.Host
	if cmd.Flags().Changed("host") {
		host, _ = cmd.Flags().GetString("host")
	}
	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}
	maxUploadMB := cfg.Server.MaxUploadMB
	if cmd.Flags().Changed("max-upload-size") {
		maxUploadMB, _ = cmd.Flags().GetInt("max-upload-size")
	}
	timeout := cfg.Server.TimeoutSec
	if cmd.Flags().Changed("timeout") {
		timeout, _ = cmd.Flags().GetInt("timeout")
	}
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if cmd.Flags().Changed("shutdown-timeout") {
		shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
	}
	maxConcurrent := cfg.Tasks.MaxConcurrent
	if cmd.Flags().Changed("max-concurrent") {
		maxConcurrent, _ = cmd.Flags().GetInt("max-concurrent")
	}
	dataDir := cfg.Tasks.DataDir
	if cmd.Flags().Changed("data-dir") {
		dataDir, _ = cmd.Flags().GetString("data-dir")
	}
	endpoint := cfg.Recognizer.Endpoint
	if cmd.Flags().Changed("recognizer-endpoint") {
		endpoint, _ = cmd.Flags().GetString("recognizer-endpoint")
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recognizer, err := recognize.NewClient(recognize.ClientConfig{
		Endpoint: endpoint,
		Timeout:  time.Duration(cfg.Recognizer.TimeoutSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create recognition client: %w", err)
	}
	defer func() { _ = recognizer.Close() }()

	renderer := render.NewRenderer(render.Config{DPI: cfg.Pipeline.DPI})
	coordinator := pipeline.NewCoordinator(pipeline.Config{
		PrepWorkers:      cfg.Pipeline.PrepWorkers,
		SkipUnterminated: cfg.Pipeline.SkipUnterminated,
		Annotate:         cfg.Pipeline.Annotate,
	}, renderer, recognizer)

	manager, err := task.NewManager(task.Config{
		MaxConcurrent: maxConcurrent,
		DataDir:       dataDir,
	}, coordinator.Process)
	if err != nil {
		return fmt.Errorf("failed to initialize task manager: %w", err)
	}

	apiServer := server.NewServer(server.Config{
		Host:          host,
		Port:          port,
		CORSOrigin:    cfg.Server.CORSOrigin,
		MaxUploadMB:   int64(maxUploadMB),
		TimeoutSec:    timeout,
		MaxConcurrent: maxConcurrent,
	}, manager)

	mux := http.NewServeMux()
	apiServer.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(timeout) * time.Second,
	}

	go func() {
		slog.Info("Starting conversion server", "host", host, "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
	defer shutdownCancel()

	slog.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Let in-flight conversions finish within the shutdown budget.
	tasksDone := make(chan struct{})
	go func() {
		manager.Wait()
		close(tasksDone)
	}()
	select {
	case <-tasksDone:
		slog.Info("All tasks drained")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout reached with tasks still in flight")
	}

	slog.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8000, "server port")
	serveCmd.Flags().Int("max-upload-size", 100, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 60, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("max-concurrent", 8, "maximum conversions running at once")
	serveCmd.Flags().String("data-dir", "", "root directory for per-task working directories")
	serveCmd.Flags().String("recognizer-endpoint", "", "base URL of the recognition model server")
}
