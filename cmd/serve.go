package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/detector"
	"github.com/kozaktomas/pagefinder/internal/initializer"
	"github.com/kozaktomas/pagefinder/internal/matching"
	"github.com/kozaktomas/pagefinder/internal/web"
	"github.com/kozaktomas/pagefinder/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve <catalog>",
	Short: "Start the HTTP matching server",
	Long: `Start an HTTP server that matches detector output against a catalog.

Clients POST the features detected in a frame to /api/v1/frames and read the
outcome from /api/v1/result. Only one frame is matched at a time; frames
submitted while a match is running are rejected with 409. The catalog can be
replaced with PUT /api/v1/catalog while the matcher is idle.

Host and port default to the server section of the configuration
(WEB_HOST, WEB_PORT) and can be overridden with flags.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (defaults to config)")
	serveCmd.Flags().String("host", "", "Host to bind to (defaults to config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Server.Host = host
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c, err := catalog.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	format, err := matching.ParsePixelFormat(cfg.Server.FrameFormat)
	if err != nil {
		return err
	}
	spec := worker.FrameSpec{Width: cfg.Server.FrameWidth, Height: cfg.Server.FrameHeight, Format: format}
	size, err := spec.Size()
	if err != nil {
		return err
	}

	replay := detector.NewReplay()
	in, err := initializer.New(c, replay, spec, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create initializer: %w", err)
	}
	defer in.Close()

	server := web.NewServer(in, replay, size, cfg.Server, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	fmt.Printf("Serving %s (%d pages) on http://%s\n", args[0], c.NumPages(), server.Addr())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
