// Package config provides configuration parsing from file and environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/StoicTurk182/resync/internal/models"
	"github.com/spf13/viper"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Parser handles configuration parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser. All behavior tuning is
// available through environment variables so unattended (cron) runs need no
// config file at all.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("default_device", "/dev/sdb1")
	v.SetDefault("backup_type", models.BackupFull)
	v.SetDefault("retention_days", 30)
	v.SetDefault("log_retention_days", 30)
	v.SetDefault("compress", true)
	v.SetDefault("verify", true)
	v.SetDefault("max_parallel", 4)
	v.SetDefault("interactive", true)
	v.SetDefault("source_root", "/")

	// Environment bindings; env always wins over file values.
	_ = v.BindEnv("default_device", "DEFAULT_DEVICE")
	_ = v.BindEnv("backup_type", "BACKUP_TYPE")
	_ = v.BindEnv("retention_days", "RETENTION_DAYS")
	_ = v.BindEnv("compress", "COMPRESS_BACKUP")
	_ = v.BindEnv("verify", "VERIFY_BACKUP")
	_ = v.BindEnv("max_parallel", "MAX_PARALLEL")
	_ = v.BindEnv("email_report", "EMAIL_REPORT")
	_ = v.BindEnv("interactive", "INTERACTIVE")

	return &Parser{v: v}
}

// LoadFile loads configuration from a file path. An empty path loads from
// defaults and environment only.
func (p *Parser) LoadFile(path string) (*models.RunConfig, error) {
	if path != "" {
		p.v.SetConfigFile(path)
		if err := p.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.RunConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

func (p *Parser) parse() (*models.RunConfig, error) {
	cfg := &models.RunConfig{
		Destination:      p.expandEnv(p.v.GetString("destination")),
		DefaultDevice:    p.expandEnv(p.v.GetString("default_device")),
		BackupType:       strings.ToLower(p.v.GetString("backup_type")),
		RetentionDays:    p.v.GetInt("retention_days"),
		LogRetentionDays: p.v.GetInt("log_retention_days"),
		Compress:         p.v.GetBool("compress"),
		Verify:           p.v.GetBool("verify"),
		MaxParallel:      p.v.GetInt("max_parallel"),
		EmailReport:      p.v.GetString("email_report"),
		Interactive:      p.v.GetBool("interactive"),
		Hostname:         p.v.GetString("hostname"),
		SourceRoot:       p.v.GetString("source_root"),
	}

	// Set default host if not specified.
	if cfg.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			cfg.Hostname = "unknown"
		} else {
			cfg.Hostname = hostname
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.RunConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.BackupType != models.BackupFull && cfg.BackupType != models.BackupIncremental {
		return fmt.Errorf("backup_type must be one of: full, incremental")
	}
	if cfg.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive")
	}
	if cfg.LogRetentionDays <= 0 {
		return fmt.Errorf("log_retention_days must be positive")
	}
	if cfg.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1")
	}
	if cfg.EmailReport != "" && !emailRegex.MatchString(cfg.EmailReport) {
		return fmt.Errorf("email_report is not a valid address: %s", cfg.EmailReport)
	}
	if cfg.SourceRoot == "" {
		return fmt.Errorf("source_root cannot be empty")
	}

	return nil
}
