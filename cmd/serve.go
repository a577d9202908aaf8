package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"unfurl/internal/config"
	"unfurl/internal/server"
)

var (
	flagListen   string
	flagMediaDir string
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  serveRun,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Listen address (default :8000)")
	serveCmd.Flags().StringVar(&flagMediaDir, "media-dir", "", "Directory for downloaded post media")
}

func applyServeFlags(cfg *config.Config) {
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagMediaDir != "" {
		cfg.MediaDir = flagMediaDir
	}
}

func serveRun(cmd *cobra.Command, args []string) error {
	svc, store, err := newService(cfg)
	if err != nil {
		return err
	}
	tempDir, err := config.ExpandDir(cfg.TempDir)
	if err != nil {
		return fmt.Errorf("temp directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := server.Server(&server.ServerConfig{
		Resolver:    svc,
		MediaDir:    store.Dir(),
		TempDir:     tempDir,
		CORSOrigins: splitList(cfg.CORSOrigins),
		IndexFile:   cfg.IndexFile,
		BaseContext: ctx,
	})

	errc := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"listen": cfg.Listen,
			"media":  store.Dir(),
			"temp":   tempDir,
		}).Info("Starting server")
		errc <- app.Listen(cfg.Listen)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}

	stats := store.Stats()
	log.WithFields(log.Fields{
		"downloaded": stats.Downloaded,
		"reused":     stats.Reused,
		"failed":     stats.Failed,
	}).Info("Server stopped")
	return nil
}
