package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"qbt_manager/internal/config"
)

var version = "dev"

type globalFlags struct {
	configPath string
	dryRun     bool
}

func main() {
	var flags globalFlags

	var rootCmd = &cobra.Command{
		Use:   "qbtmanager",
		Short: "Housekeeping agent for qBittorrent",
		Long: `Cleans up finished torrents according to per-tracker retention rules,
keeps their upload and share limits in line with the rules, and downloads
new items from RSS feeds.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, &flags)
		},
	}

	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "path to the settings file")
	rootCmd.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "log what would be changed without touching the client or the history")

	rootCmd.AddCommand(RunCommand(&flags))
	rootCmd.AddCommand(RunDaemonCommand(&flags))
	rootCmd.AddCommand(RunMigrateCommand(&flags))
	rootCmd.AddCommand(RunHistoryCommand(&flags))
	rootCmd.AddCommand(RunVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// RunVersionCommand prints the build version.
func RunVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "qbtmanager %s\n", version)
		},
	}
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "verbose", "trace":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if cfg.LogLocation != "" {
		if err := os.MkdirAll(cfg.LogLocation, 0o750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogLocation, "qbtmanager.log"),
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
		})
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
