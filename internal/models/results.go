package models

import "time"

// TransferResult holds the outcome of the rsync transfer.
type TransferResult struct {
	ExitCode   int
	Acceptable bool // exit code is in the acceptable set {0, 23, 24}
	Duration   time.Duration
	OutputTail string // last lines of rsync output, for the report
	Error      error
}

// StepResult records the outcome of a best-effort enrichment step.
// Skipped steps carry a reason instead of failing the run.
type StepResult struct {
	Name    string
	Skipped bool
	Reason  string
}

// DirStats holds the size and file count of a backup directory.
type DirStats struct {
	Bytes int64
	Files int
}

// CapacityReport holds the result of the pre-transfer space estimate.
type CapacityReport struct {
	AvailableBytes int64
	EstimatedBytes int64 // source size estimate, adjusted for compression
	RequiredBytes  int64 // estimate plus safety margin
	Sufficient     bool
}

// VerifyResult holds the result of the canonical-file spot check.
type VerifyResult struct {
	Checked int
	Missing []string
	Passed  bool
}

// ArchiveResult holds the outcome of the compression stage.
type ArchiveResult struct {
	ArchivePath     string
	OriginalBytes   int64
	CompressedBytes int64
	Ratio           float64 // compressed / original, 0 when unknown
	Parallel        bool    // true when the external parallel compressor was used
	Duration        time.Duration
	Error           error
}

// RetentionResult holds the outcome of the retention sweep.
type RetentionResult struct {
	BackupsRemoved int
	LogsRemoved    int
	BytesFreed     int64
	Error          error
}

// RunReport aggregates everything a single run produced. It feeds the final
// log lines and the email body.
type RunReport struct {
	Hostname     string
	BackupType   string
	Destination  string
	BackupDir    string // staging directory for this run
	ArtifactPath string // final artifact: archive if compressed, else BackupDir
	LogPath      string
	StartTime    time.Time
	Duration     time.Duration
	ExitCode     int
	Status       string // "SUCCESS", "PARTIAL" or "FAILED"
	Stats        DirStats
	Capacity     *CapacityReport
	Steps        []StepResult
	Verify       *VerifyResult
	Archive      *ArchiveResult
	Retention    *RetentionResult
}
