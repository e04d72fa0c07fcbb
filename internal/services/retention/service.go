// Package retention removes backup artifacts and logs past their window.
package retention

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/StoicTurk182/resync/internal/models"
	"github.com/docker/go-units"
	"github.com/rs/zerolog"
)

// Service defines the interface for the retention sweep.
type Service interface {
	// Prune deletes backup directories/archives older than the retention
	// window and run logs older than the log window. Paths listed in keep
	// are never removed.
	Prune(ctx context.Context, cfg models.RunConfig, destination string, keep []string) (*models.RetentionResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new retention service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Prune sweeps by modification time. Removal failures are logged and the
// sweep continues; the run outcome is never affected.
func (s *Impl) Prune(_ context.Context, cfg models.RunConfig, destination string, keep []string) (*models.RetentionResult, error) {
	result := &models.RetentionResult{}
	now := time.Now()

	kept := make(map[string]bool, len(keep))
	for _, path := range keep {
		kept[filepath.Clean(path)] = true
	}

	entries, err := os.ReadDir(destination)
	if err != nil {
		result.Error = err
		return result, nil
	}

	backupCutoff := now.Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "backup-") {
			continue
		}
		if entry.IsDir() == strings.HasSuffix(name, ".tar.gz") {
			continue // only dated directories and their archives
		}

		path := filepath.Join(destination, name)
		if kept[path] {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(backupCutoff) {
			continue
		}

		size := entrySize(path, entry.IsDir())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("could not remove expired backup")
			continue
		}
		result.BackupsRemoved++
		result.BytesFreed += size
		s.logger.Info().
			Str("path", path).
			Str("age", now.Sub(info.ModTime()).Round(time.Hour).String()).
			Msg("removed expired backup")
	}

	result.LogsRemoved = s.pruneLogs(destination, now.Add(-time.Duration(cfg.LogRetentionDays)*24*time.Hour))

	s.logger.Info().
		Int("backups_removed", result.BackupsRemoved).
		Int("logs_removed", result.LogsRemoved).
		Str("freed", units.BytesSize(float64(result.BytesFreed))).
		Msg("retention sweep completed")

	return result, nil
}

func (s *Impl) pruneLogs(destination string, cutoff time.Time) int {
	removed := 0
	logDir := filepath.Join(destination, "logs")

	entries, err := os.ReadDir(logDir)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(logDir, entry.Name())); err != nil {
			s.logger.Warn().Err(err).Str("log", entry.Name()).Msg("could not remove expired log")
			continue
		}
		removed++
	}
	return removed
}

func entrySize(path string, isDir bool) int64 {
	if !isDir {
		if info, err := os.Stat(path); err == nil {
			return info.Size()
		}
		return 0
	}

	var total int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}
