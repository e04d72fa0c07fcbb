// Package verify spot-checks that canonical files made it into the copy.
package verify

import (
	"context"
	"os"
	"path/filepath"

	"github.com/StoicTurk182/resync/internal/models"
	"github.com/rs/zerolog"
)

// canonicalPaths are checked in the copy whenever they exist at the source.
// A small fixed probe, not an integrity check.
var canonicalPaths = []string{
	"etc/hostname",
	"etc/passwd",
	"etc/fstab",
}

// Service defines the interface for the post-transfer spot check.
type Service interface {
	Verify(ctx context.Context, cfg models.RunConfig, backupDir string) (*models.VerifyResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new verify service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Verify never fails the run; mismatches are reported and logged as
// warnings only.
func (s *Impl) Verify(_ context.Context, cfg models.RunConfig, backupDir string) (*models.VerifyResult, error) {
	result := &models.VerifyResult{}

	for _, rel := range canonicalPaths {
		if _, err := os.Stat(filepath.Join(cfg.SourceRoot, rel)); err != nil {
			continue // absent at the source, nothing to expect in the copy
		}
		result.Checked++
		if _, err := os.Stat(filepath.Join(backupDir, "system", rel)); err != nil {
			result.Missing = append(result.Missing, rel)
		}
	}

	result.Passed = len(result.Missing) == 0
	if result.Passed {
		s.logger.Info().Int("checked", result.Checked).Msg("verification passed")
	} else {
		s.logger.Warn().Strs("missing", result.Missing).Msg("verification found missing canonical files")
	}

	return result, nil
}
