package main

import (
	"fmt"
	"os"

	"github.com/StoicTurk182/resync/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the configuration (file and environment) without executing any backup operations.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Host: %s\n", cfg.Hostname)
	fmt.Printf("  Backup type: %s\n", cfg.BackupType)
	fmt.Printf("  Source root: %s\n", cfg.SourceRoot)
	if cfg.Destination != "" {
		fmt.Printf("  Destination: %s\n", cfg.Destination)
	} else {
		fmt.Printf("  Destination: (resolved at run time, default device %s)\n", cfg.DefaultDevice)
	}
	fmt.Println()
	fmt.Println("Retention:")
	fmt.Printf("  Backups: %d day(s)\n", cfg.RetentionDays)
	fmt.Printf("  Logs: %d day(s)\n", cfg.LogRetentionDays)
	fmt.Println()
	fmt.Println("Options:")
	fmt.Printf("  Compression: %v (threads: %d)\n", cfg.Compress, cfg.MaxParallel)
	fmt.Printf("  Verification: %v\n", cfg.Verify)
	fmt.Printf("  Interactive: %v\n", cfg.Interactive)
	if cfg.EmailReport != "" {
		fmt.Printf("  Email report: %s\n", cfg.EmailReport)
	} else {
		fmt.Printf("  Email report: disabled\n")
	}

	return nil
}
