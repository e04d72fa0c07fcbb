package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/StoicTurk182/resync/internal/config"
	"github.com/StoicTurk182/resync/internal/services/runner"
	"github.com/StoicTurk182/resync/internal/services/target"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [destination]",
	Short: "Execute one backup run",
	Long: `Execute one backup run:
1. Resolve and validate the destination mount point
2. Acquire the destination run lock
3. Advisory capacity check (with optional early cleanup)
4. Collect system state (packages, sources, config files)
5. rsync transfer (full, or incremental from the stored marker)
6. Post-process: stats, verify, compress, marker, retention, report

The optional positional argument is the destination path; without it the
resolver prompts (interactive mode) or falls back to the default device.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	// Load configuration; an empty --config runs from env vars and defaults.
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		exitCode = 1
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}
	if len(args) == 1 {
		cfg.Destination = args[0]
	}

	log.Info().
		Str("type", cfg.BackupType).
		Str("host", cfg.Hostname).
		Bool("compress", cfg.Compress).
		Bool("interactive", cfg.Interactive).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	var prompter target.Prompter = target.Unattended{}
	if cfg.Interactive {
		prompter = target.NewStdinPrompter()
	}

	runnerSvc := runner.New(log.Logger, logWriter, prompter)
	report, err := runnerSvc.Run(ctx, *cfg)
	if err != nil {
		exitCode = 1
		log.Error().Err(err).Msg("backup run aborted")
		return err
	}

	// The process exit code mirrors the transfer tool's raw exit code;
	// callers interpret it against the acceptable set {0, 23, 24}.
	exitCode = report.ExitCode
	return nil
}
