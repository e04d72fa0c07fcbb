// Package models contains the data structures used throughout resync.
package models

// Backup type values accepted by RunConfig.BackupType.
const (
	BackupFull        = "full"
	BackupIncremental = "incremental"
)

// RunConfig holds the complete configuration for a backup run.
type RunConfig struct {
	Destination      string // destination mount point; empty until resolved
	DefaultDevice    string // fallback block device when no destination is given
	BackupType       string // "full" or "incremental"
	RetentionDays    int    // age threshold for backup artifacts, in days
	LogRetentionDays int    // age threshold for run logs, in days
	Compress         bool   // archive the staging directory after transfer
	Verify           bool   // spot-check canonical files after transfer
	MaxParallel      int    // compressor thread count
	EmailReport      string // recipient address; empty disables the email report
	Interactive      bool   // allow prompts; unattended runs decline everything
	Hostname         string
	SourceRoot       string // tree to back up, "/" in production
}
