package main

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool

	// logWriter is the console destination behind the global logger; the
	// runner tees run-scoped records onto it together with the run log file.
	logWriter io.Writer = os.Stdout

	// exitCode mirrors the transfer tool's raw exit code once a run has
	// been attempted.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "resync",
	Short: "A full/incremental host backup orchestrator",
	Long: `resync backs up a Linux host's root filesystem onto an external
mount point. It sequences external tools and interprets their exit codes:
  - rsync for the transfer (with a fixed virtual/volatile exclusion set)
  - tar/pigz for optional parallel compression
  - dpkg/apt/snap for package inventories
  - mail for the optional run report

The process exit code of "run" equals rsync's raw exit code; 23 and 24
(partial transfer) are treated as acceptable outcomes.

Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (optional, env vars suffice)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		logWriter = os.Stdout
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		logWriter = output
	}
	log.Logger = zerolog.New(logWriter).With().Timestamp().Logger()

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil && exitCode == 0 {
		exitCode = 1
	}
	return exitCode
}
