package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/lakesync/internal/config"
	"github.com/hyperengineering/lakesync/pkg/lakesync"
)

// Version information set at build time via ldflags:
//
//	-X main.Version=1.0.0
//	-X main.Commit=abc1234
//	-X main.Date=2026-01-30T12:00:00Z
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "lakesync-cli",
	Short: "LakeSync client daemon and operator tooling",
	Long:  "Runs the LakeSync background sync client, or inspect/drive it one-shot via subcommands.",
	RunE:  runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lakesync-cli %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides LAKESYNC_CONFIG_PATH and the default config/lakesync.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(queueCmd)
}

// loadConfig resolves configuration the same way for every subcommand:
// an explicit --config flag wins, otherwise config.Load()'s own
// LAKESYNC_CONFIG_PATH/default-path/env precedence applies.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// newClient builds a lakesync.Client from the resolved configuration,
// shared by every subcommand that needs one.
func newClient() (*lakesync.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c, err := lakesync.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("build client: %w", err)
	}
	return c, nil
}

// runDaemon is the root command's default action: start the background
// scheduler and block until signaled, the long-running counterpart to the
// one-shot status/sync/queue subcommands.
func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "client_id", cfg.Client.ID, "gateway_id", cfg.Gateway.ID)

	client, err := lakesync.New(cfg)
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}
	slog.Info("client initialized")

	client.Start(ctx)
	slog.Info("scheduler started", "interval", time.Duration(cfg.Sync.AutoSyncInterval))

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := client.Close(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
