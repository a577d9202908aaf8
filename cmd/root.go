// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"unfurl/internal/classify"
	"unfurl/internal/config"
	"unfurl/internal/download"
	"unfurl/internal/extract"
	"unfurl/internal/httputil"
	"unfurl/internal/resolve"
	"unfurl/internal/social"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Global flags
var (
	flagConfig string
	flagDebug  bool
)

// cfg holds the loaded configuration (merged: defaults < config file < flags).
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "unfurl",
	Short: "Resolve video and social post links into playable media",
	Long: `Unfurl turns a video link or a social post link into a normalized
descriptor: title, thumbnail, stream URL, and for posts the locally stored
media of the post and every post it quotes.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: $XDG_CONFIG_HOME/unfurl/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "x", false, "Debug logging to stderr")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and merges configuration: defaults < config file < CLI flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig, true)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file values
	if flagDebug {
		cfg.Debug = true
	}
	applyServeFlags(cfg)

	// Re-validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.SetOutput(os.Stderr)
	log.SetLevel(cfg.Level())
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	return nil
}

// newService wires the resolver stack from cfg.
func newService(cfg *config.Config) (*resolve.Service, *download.Materializer, error) {
	mediaDir, err := config.ExpandDir(cfg.MediaDir)
	if err != nil {
		return nil, nil, fmt.Errorf("media directory: %w", err)
	}
	tempDir, err := config.ExpandDir(cfg.TempDir)
	if err != nil {
		return nil, nil, fmt.Errorf("temp directory: %w", err)
	}

	store, err := download.New(mediaDir, httputil.NewClient(cfg.DownloadTimeout.Duration), cfg.MaxMediaBytes, cfg.DownloadTimeout.Duration)
	if err != nil {
		return nil, nil, err
	}

	videos := extract.New(
		extract.NewExecRunner(cfg.YtDlpPath, cfg.ExtractTimeout.Duration),
		extract.NewExecRunner(cfg.YtDlpPath, cfg.MergeTimeout.Duration),
		tempDir,
	)
	if cfg.MetadataFallback {
		videos.WithMetadataFallback(extract.NewOpenGraph(httputil.NewClient(cfg.ExtractTimeout.Duration)))
	}

	posts := social.NewClient(social.Options{
		HTTPClient: httputil.NewClient(cfg.APITimeout.Duration),
		Retries:    cfg.APIRetries,
	})

	svc := resolve.NewService(
		classify.New(cfg.HostAPatterns, cfg.HostBPatterns),
		videos, posts, store, cfg.MaxQuoteDepth,
	)
	return svc, store, nil
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(part string, _ int) string {
		return strings.TrimSpace(part)
	}))
}
