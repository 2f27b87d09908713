package main

import (
	"database/sql"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"qbt_manager/internal/bot"
	"qbt_manager/internal/ledger"
	"qbt_manager/internal/scheduler"
	"qbt_manager/internal/storage"
	"qbt_manager/migrations"
)

// RunCommand performs a single run and exits.
func RunCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Clean up torrents and read the RSS feeds once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, flags)
		},
	}
}

func runOnce(cmd *cobra.Command, flags *globalFlags) error {
	cfg, log, err := loadConfig(flags)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := newService(ctx, cfg, flags.dryRun, log)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	sum, err := svc.runner.Run(ctx)
	if err != nil {
		return err
	}
	log.Info("run finished",
		"duration", sum.Duration(),
		"removed", len(sum.Cleanup.Removed),
		"added", sum.Intake.Submitted,
	)
	return sum.Err()
}

// RunDaemonCommand runs on a schedule until interrupted, with the Telegram
// bot when a token is configured.
func RunDaemonCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run on the configured schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			svc, err := newService(ctx, cfg, flags.dryRun, log)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			sched, err := scheduler.New(cfg.Schedule, svc.runner.Job, log)
			if err != nil {
				return err
			}

			log.Info("starting daemon", "schedule", cfg.Schedule, "dry_run", flags.dryRun)

			if svc.botAPI != nil {
				b := bot.New(svc.botAPI, svc.runner, svc.store, cfg, log.With("component", "bot"))
				go b.Run(ctx)
			}

			sched.Run(ctx)

			log.Info("daemon stopped")
			return nil
		},
	}
}

// RunMigrateCommand applies goose commands to the history database.
func RunMigrateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <" + strings.Join(migrations.Commands, "|") + ">",
		Short:     "Manage the history database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: migrations.Commands,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(flags)
			if err != nil {
				return err
			}

			db, err := sql.Open("sqlite", cfg.HistoryPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			return migrations.Exec(db, args[0])
		},
	}
}

// RunHistoryCommand groups the download history commands.
func RunHistoryCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage the download history",
	}
	cmd.AddCommand(runHistoryImportCommand(flags))
	return cmd
}

func runHistoryImportCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <downloadhistory.json>",
		Short: "Copy a JSON download history into the configured history store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}

			dst, err := openStore(cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer func() { _ = dst.Close() }()

			src := storage.NewJSONFile(args[0])
			defer func() { _ = src.Close() }()

			n, err := ledger.Import(cmd.Context(), src, dst)
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}
			log.Info("history imported", "source", args[0], "target", cfg.HistoryPath, "added", n)
			return nil
		},
	}
}
