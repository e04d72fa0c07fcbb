// Package rsync drives the file-sync tool that does the actual transfer.
package rsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/StoicTurk182/resync/internal/executil"
	"github.com/StoicTurk182/resync/internal/marker"
	"github.com/StoicTurk182/resync/internal/models"
	"github.com/rs/zerolog"
)

// excludePatterns is the fixed set of virtual and volatile paths never
// transferred. The destination mount is appended per run.
var excludePatterns = []string{
	"/proc/*",
	"/sys/*",
	"/dev/*",
	"/tmp/*",
	"/run/*",
	"/mnt/*",
	"/media/*",
	"lost+found",
	"/var/cache/*",
	"/var/log/*",
	"/var/tmp/*",
	"/swapfile",
	"/swap.img",
	"/home/*/.cache/*",
	"/home/*/.local/share/Trash/*",
	"/root/.cache/*",
}

// Acceptable reports whether an rsync exit code counts as a non-fatal
// outcome: 0 is full success, 23 and 24 are partial transfers (some files
// vanished or could not be read).
func Acceptable(code int) bool {
	return code == 0 || code == 23 || code == 24
}

// StatusFor maps an rsync exit code to the report status line.
func StatusFor(code int) string {
	switch {
	case code == 0:
		return "SUCCESS"
	case Acceptable(code):
		return "PARTIAL"
	default:
		return "FAILED"
	}
}

// Service defines the interface for the transfer engine.
type Service interface {
	// Transfer syncs the source tree into <backupDir>/system/. A non-nil
	// since restricts the transfer to entries modified after it.
	Transfer(ctx context.Context, cfg models.RunConfig, destination, backupDir string, since *time.Time) (*models.TransferResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	executor executil.CommandExecutor
	logger   zerolog.Logger
	tempDir  string
}

// New creates a new transfer service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &executil.DefaultExecutor{},
		logger:   logger,
		tempDir:  os.TempDir(),
	}
}

// NewWithExecutor creates a transfer service with a custom executor (for
// testing).
func NewWithExecutor(logger zerolog.Logger, executor executil.CommandExecutor, tempDir string) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
		tempDir:  tempDir,
	}
}

// Transfer runs rsync and classifies its exit code. The error embedded in
// the result is set only for codes outside the acceptable set; the method
// itself fails only when the transfer could not be attempted at all.
func (s *Impl) Transfer(ctx context.Context, cfg models.RunConfig, destination, backupDir string, since *time.Time) (*models.TransferResult, error) {
	args := []string{"-aAXH", "--no-devices", "--no-specials", "--ignore-errors"}
	for _, pattern := range excludePatterns {
		args = append(args, "--exclude", pattern)
	}
	args = append(args, "--exclude", destination+"/*")

	mode := models.BackupFull
	if since != nil {
		listPath, err := s.buildFileList(ctx, cfg.SourceRoot, *since)
		if err != nil {
			s.logger.Warn().Err(err).Msg("could not build incremental file list, falling back to full transfer")
		} else {
			defer func() { _ = os.Remove(listPath) }()
			args = append(args, "--files-from="+listPath)
			mode = models.BackupIncremental
		}
	}

	target := filepath.Join(backupDir, "system") + string(os.PathSeparator)
	args = append(args, cfg.SourceRoot, target)

	s.logger.Info().
		Str("source", cfg.SourceRoot).
		Str("target", target).
		Str("mode", mode).
		Msg("starting transfer")

	start := time.Now()
	output, code, err := s.executor.Run(ctx, "rsync", args...)
	if err != nil && code == -1 {
		// The process never ran (binary missing, fork failure); there is no
		// exit code to classify.
		return nil, fmt.Errorf("rsync could not be started: %w", err)
	}

	result := &models.TransferResult{
		ExitCode:   code,
		Acceptable: Acceptable(code),
		Duration:   time.Since(start),
		OutputTail: lastLines(output, 5),
	}
	if !result.Acceptable {
		result.Error = fmt.Errorf("rsync exited with code %d: %s", code, result.OutputTail)
	}

	event := s.logger.Info()
	if !result.Acceptable {
		event = s.logger.Error()
	} else if code != 0 {
		event = s.logger.Warn()
	}
	event.
		Int("exit_code", code).
		Dur("duration", result.Duration).
		Str("status", StatusFor(code)).
		Msg("transfer finished")

	return result, nil
}

// buildFileList runs find with a modification-time lower bound and stores
// the result for rsync's --files-from.
func (s *Impl) buildFileList(ctx context.Context, sourceRoot string, since time.Time) (string, error) {
	output, _, err := s.executor.Run(ctx, "find", sourceRoot, "-xdev", "-newermt", since.Format(marker.Layout))
	if err != nil && len(output) == 0 {
		return "", fmt.Errorf("find failed: %w", err)
	}

	list, err := os.CreateTemp(s.tempDir, "resync-files-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating file list: %w", err)
	}
	if _, err := list.Write(output); err != nil {
		_ = list.Close()
		_ = os.Remove(list.Name())
		return "", fmt.Errorf("writing file list: %w", err)
	}
	if err := list.Close(); err != nil {
		return "", err
	}
	return list.Name(), nil
}

func lastLines(output []byte, n int) string {
	lines := strings.Split(strings.TrimRight(string(output), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
