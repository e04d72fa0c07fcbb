// Package archive compresses the staging directory into the final artifact.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/StoicTurk182/resync/internal/executil"
	"github.com/StoicTurk182/resync/internal/models"
	"github.com/docker/go-units"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// Service defines the interface for the compression stage.
type Service interface {
	// Compress turns backupDir into <backupDir>.tar.gz and removes the
	// directory on success. On failure the directory is kept and the result
	// carries the error.
	Compress(ctx context.Context, cfg models.RunConfig, backupDir string, originalBytes int64) (*models.ArchiveResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	executor executil.CommandExecutor
	logger   zerolog.Logger
}

// New creates a new archive service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &executil.DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates an archive service with a custom executor (for
// testing).
func NewWithExecutor(logger zerolog.Logger, executor executil.CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Compress prefers the external parallel compressor and falls back to an
// in-process single-threaded writer when it is not installed.
func (s *Impl) Compress(ctx context.Context, cfg models.RunConfig, backupDir string, originalBytes int64) (*models.ArchiveResult, error) {
	start := time.Now()
	archivePath := backupDir + ".tar.gz"
	result := &models.ArchiveResult{
		ArchivePath:   archivePath,
		OriginalBytes: originalBytes,
	}

	var err error
	if _, lookErr := s.executor.LookPath("pigz"); lookErr == nil {
		result.Parallel = true
		err = s.compressWithPigz(ctx, backupDir, archivePath, cfg.MaxParallel)
	} else {
		s.logger.Info().Msg("pigz not installed, using in-process compressor")
		err = s.compressInProcess(backupDir, archivePath)
	}

	result.Duration = time.Since(start)

	if err != nil {
		_ = os.Remove(archivePath)
		result.Error = fmt.Errorf("compression failed: %w", err)
		s.logger.Error().Err(err).Msg("compression failed, keeping uncompressed directory")
		return result, nil
	}

	if info, statErr := os.Stat(archivePath); statErr == nil {
		result.CompressedBytes = info.Size()
		if originalBytes > 0 {
			result.Ratio = float64(result.CompressedBytes) / float64(originalBytes)
		}
	}

	if err := os.RemoveAll(backupDir); err != nil {
		s.logger.Warn().Err(err).Msg("could not remove staging directory after compression")
	}

	s.logger.Info().
		Str("archive", archivePath).
		Str("size", units.BytesSize(float64(result.CompressedBytes))).
		Float64("ratio", result.Ratio).
		Bool("parallel", result.Parallel).
		Dur("duration", result.Duration).
		Msg("compression completed")

	return result, nil
}

// compressWithPigz shells out to tar with pigz as the compress program.
func (s *Impl) compressWithPigz(ctx context.Context, backupDir, archivePath string, threads int) error {
	parent := filepath.Dir(backupDir)
	name := filepath.Base(backupDir)

	output, _, err := s.executor.Run(ctx, "tar",
		"-I", "pigz -p "+strconv.Itoa(threads),
		"-cf", archivePath,
		"-C", parent,
		name,
	)
	if err != nil {
		return fmt.Errorf("tar: %w: %s", err, output)
	}
	return nil
}

// compressInProcess writes the tar.gz directly, continuing past entries
// that disappear or cannot be read mid-walk.
func (s *Impl) compressInProcess(backupDir, archivePath string) error {
	out, err := os.Create(archivePath) //nolint:gosec // path derived from our own staging dir
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	parent := filepath.Dir(backupDir)

	walkErr := filepath.Walk(backupDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return nil
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return nil
		}
		header.Name = rel

		if !info.Mode().IsRegular() {
			return tw.WriteHeader(header)
		}

		// Open before writing the header so a vanished file skips the
		// entry entirely instead of corrupting the stream.
		file, err := os.Open(path) //nolint:gosec // walking our own staging dir
		if err != nil {
			return nil
		}
		if err := tw.WriteHeader(header); err != nil {
			_ = file.Close()
			return err
		}
		_, copyErr := io.Copy(tw, file)
		_ = file.Close()
		return copyErr
	})

	for _, closeErr := range []error{tw.Close(), gz.Close(), out.Close()} {
		if walkErr == nil && closeErr != nil {
			walkErr = closeErr
		}
	}
	return walkErr
}
