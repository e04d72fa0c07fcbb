// Package capacity estimates whether the destination has room for the run.
package capacity

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/StoicTurk182/resync/internal/executil"
	"github.com/StoicTurk182/resync/internal/models"
	"github.com/docker/go-units"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// safetyMargin is added on top of the source estimate before comparing with
// the available space.
const safetyMargin = 10 * units.GiB

// compressionFactor is the assumed archive savings. A flat guess, not a
// measurement; the check is advisory and errs on the conservative side.
const compressionFactor = 0.5

// Service defines the interface for the pre-transfer space check.
type Service interface {
	Check(ctx context.Context, cfg models.RunConfig, destination string) (*models.CapacityReport, error)
}

// Impl implements the Service interface.
type Impl struct {
	executor executil.CommandExecutor
	logger   zerolog.Logger
	statfs   func(path string) (int64, error)
}

// New creates a new capacity checker.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &executil.DefaultExecutor{},
		logger:   logger,
		statfs:   availableBytes,
	}
}

// NewWithExecutor creates a capacity checker with custom seams (for testing).
func NewWithExecutor(logger zerolog.Logger, executor executil.CommandExecutor, statfs func(string) (int64, error)) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
		statfs:   statfs,
	}
}

// Check compares the available destination space against a du-based source
// estimate. The result is advisory: an insufficient report never blocks the
// run, it only drives a warning and an optional cleanup offer.
func (s *Impl) Check(ctx context.Context, cfg models.RunConfig, destination string) (*models.CapacityReport, error) {
	available, err := s.statfs(destination)
	if err != nil {
		return nil, fmt.Errorf("statfs %s: %w", destination, err)
	}

	estimate, err := s.sourceEstimate(ctx, cfg.SourceRoot, destination)
	if err != nil {
		return nil, err
	}

	if cfg.Compress {
		estimate = int64(float64(estimate) * compressionFactor)
	}

	required := estimate + safetyMargin
	report := &models.CapacityReport{
		AvailableBytes: available,
		EstimatedBytes: estimate,
		RequiredBytes:  required,
		Sufficient:     available >= required,
	}

	event := s.logger.Info()
	if !report.Sufficient {
		event = s.logger.Warn()
	}
	event.
		Str("available", units.BytesSize(float64(available))).
		Str("estimated", units.BytesSize(float64(estimate))).
		Str("required", units.BytesSize(float64(required))).
		Bool("sufficient", report.Sufficient).
		Msg("capacity check")

	return report, nil
}

// sourceEstimate sums the source tree in bytes, staying on one filesystem
// and skipping the destination itself. du reports a usable total even when
// it exits non-zero on unreadable subtrees, so the output is parsed first
// and the exit status ignored when parsing succeeds.
func (s *Impl) sourceEstimate(ctx context.Context, sourceRoot, destination string) (int64, error) {
	output, _, err := s.executor.Run(ctx, "du", "-sbx", "--exclude="+destination, sourceRoot)
	total, parseErr := parseDuTotal(string(output))
	if parseErr != nil {
		if err != nil {
			return 0, fmt.Errorf("du failed: %w", err)
		}
		return 0, parseErr
	}
	return total, nil
}

// parseDuTotal extracts the byte count from "du -sb" output. The total is on
// the last well-formed line; permission warnings precede it.
func parseDuTotal(output string) (int64, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		fields := strings.Fields(lines[i])
		if len(fields) < 2 {
			continue
		}
		total, err := strconv.ParseInt(fields[0], 10, 64)
		if err == nil {
			return total, nil
		}
	}
	return 0, fmt.Errorf("no total in du output")
}

// availableBytes returns the free space for unprivileged writes at path.
func availableBytes(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * stat.Bsize, nil //nolint:gosec // Bavail fits in int64 on Linux
}
