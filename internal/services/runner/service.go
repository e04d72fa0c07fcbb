// Package runner orchestrates the backup pipeline.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/StoicTurk182/resync/internal/lock"
	"github.com/StoicTurk182/resync/internal/logging"
	"github.com/StoicTurk182/resync/internal/marker"
	"github.com/StoicTurk182/resync/internal/models"
	"github.com/StoicTurk182/resync/internal/services/archive"
	"github.com/StoicTurk182/resync/internal/services/capacity"
	"github.com/StoicTurk182/resync/internal/services/mailer"
	"github.com/StoicTurk182/resync/internal/services/retention"
	"github.com/StoicTurk182/resync/internal/services/rsync"
	"github.com/StoicTurk182/resync/internal/services/snapshot"
	"github.com/StoicTurk182/resync/internal/services/target"
	"github.com/StoicTurk182/resync/internal/services/verify"
	"github.com/docker/go-units"
	"github.com/rs/zerolog"
)

// Service defines the interface for the backup runner.
type Service interface {
	// Run executes one backup. The returned error covers pre-transfer
	// failures only; once the transfer has been attempted its exit code in
	// the report is the outcome, and post-processing never overrides it.
	Run(ctx context.Context, cfg models.RunConfig) (*models.RunReport, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	targetSvc    target.Service
	capacitySvc  capacity.Service
	snapshotSvc  snapshot.Service
	transferSvc  rsync.Service
	verifySvc    verify.Service
	archiveSvc   archive.Service
	retentionSvc retention.Service
	mailerSvc    mailer.Service
	prompter     target.Prompter
	logger       zerolog.Logger
	consoleOut   io.Writer
}

// New creates a runner with the default services. consoleOut is the writer
// behind logger; run-scoped logging tees onto it together with the per-run
// log file.
func New(logger zerolog.Logger, consoleOut io.Writer, prompter target.Prompter) *Impl {
	return &Impl{
		targetSvc:    target.New(logger, prompter),
		capacitySvc:  capacity.New(logger),
		snapshotSvc:  snapshot.New(logger),
		transferSvc:  rsync.New(logger),
		verifySvc:    verify.New(logger),
		archiveSvc:   archive.New(logger),
		retentionSvc: retention.New(logger),
		mailerSvc:    mailer.New(logger),
		prompter:     prompter,
		logger:       logger,
		consoleOut:   consoleOut,
	}
}

// NewWithServices creates a runner with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	targetSvc target.Service,
	capacitySvc capacity.Service,
	snapshotSvc snapshot.Service,
	transferSvc rsync.Service,
	verifySvc verify.Service,
	archiveSvc archive.Service,
	retentionSvc retention.Service,
	mailerSvc mailer.Service,
	prompter target.Prompter,
) *Impl {
	return &Impl{
		targetSvc:    targetSvc,
		capacitySvc:  capacitySvc,
		snapshotSvc:  snapshotSvc,
		transferSvc:  transferSvc,
		verifySvc:    verifySvc,
		archiveSvc:   archiveSvc,
		retentionSvc: retentionSvc,
		mailerSvc:    mailerSvc,
		prompter:     prompter,
		logger:       logger,
		consoleOut:   io.Discard,
	}
}

// Run executes the pipeline: resolve, lock, capacity, snapshot, transfer,
// then post-processing. Post-processing failures are logged and never abort
// subsequent steps.
//
//nolint:gocognit,gocyclo // backup workflow has multiple steps by design
func (s *Impl) Run(ctx context.Context, cfg models.RunConfig) (*models.RunReport, error) {
	start := time.Now()
	report := &models.RunReport{
		Hostname:   cfg.Hostname,
		BackupType: cfg.BackupType,
		StartTime:  start,
		Status:     "FAILED",
		ExitCode:   -1,
	}

	dest, err := s.targetSvc.Resolve(ctx, cfg)
	if err != nil {
		return report, err
	}
	report.Destination = dest

	lk, err := lock.Acquire(dest)
	if err != nil {
		return report, fmt.Errorf("acquiring run lock: %w", err)
	}
	defer func() { _ = lk.Release() }()

	log := s.logger
	if runLog, logErr := logging.OpenRunLog(dest, start); logErr != nil {
		s.logger.Warn().Err(logErr).Msg("could not open run log, continuing without one")
	} else {
		defer func() { _ = runLog.Close() }()
		report.LogPath = runLog.Path
		log = s.logger.Output(zerolog.MultiLevelWriter(s.consoleOut, runLog.Writer()))
	}

	log.Info().
		Str("destination", dest).
		Str("type", cfg.BackupType).
		Str("host", cfg.Hostname).
		Msg("backup run started")

	s.checkCapacity(ctx, cfg, dest, report, log)

	backupDir := filepath.Join(dest, "backup-"+start.Format(logging.Stamp))
	report.BackupDir = backupDir
	report.ArtifactPath = backupDir

	steps, err := s.snapshotSvc.Collect(ctx, cfg, backupDir)
	if err != nil {
		return report, fmt.Errorf("snapshot collection failed: %w", err)
	}
	report.Steps = steps
	log.Info().Int("steps", len(steps)).Msg("system snapshot collected")

	since := s.incrementalBound(cfg, dest, log)

	transfer, err := s.transferSvc.Transfer(ctx, cfg, dest, backupDir, since)
	if err != nil {
		return report, fmt.Errorf("transfer could not start: %w", err)
	}
	report.ExitCode = transfer.ExitCode
	report.Status = rsync.StatusFor(transfer.ExitCode)
	if transfer.Error != nil {
		log.Error().Err(transfer.Error).Msg("transfer failed, continuing with post-processing")
	}

	report.Stats = dirStats(backupDir)
	log.Info().
		Str("size", units.BytesSize(float64(report.Stats.Bytes))).
		Int("files", report.Stats.Files).
		Msg("backup directory stats")

	if cfg.Verify {
		if result, verifyErr := s.verifySvc.Verify(ctx, cfg, backupDir); verifyErr != nil {
			log.Warn().Err(verifyErr).Msg("verification could not run")
		} else {
			report.Verify = result
			if !result.Passed {
				log.Warn().Strs("missing", result.Missing).Msg("verification mismatches")
			}
		}
	}

	if cfg.Compress {
		if result, compressErr := s.archiveSvc.Compress(ctx, cfg, backupDir, report.Stats.Bytes); compressErr != nil {
			log.Warn().Err(compressErr).Msg("compression could not run")
		} else {
			report.Archive = result
			if result.Error == nil {
				report.ArtifactPath = result.ArchivePath
			}
		}
	}

	// The marker is only advanced on an acceptable outcome so a failed run
	// cannot poison the next incremental baseline.
	if transfer.Acceptable {
		if markerErr := marker.Write(dest, start); markerErr != nil {
			log.Warn().Err(markerErr).Msg("could not update incremental marker")
		} else {
			log.Info().Str("marker", start.Format(marker.Layout)).Msg("incremental marker updated")
		}
	} else {
		log.Warn().Msg("transfer not acceptable, preserving previous incremental marker")
	}

	keep := []string{backupDir, report.ArtifactPath}
	if result, pruneErr := s.retentionSvc.Prune(ctx, cfg, dest, keep); pruneErr != nil {
		log.Warn().Err(pruneErr).Msg("retention sweep could not run")
	} else {
		report.Retention = result
	}

	if instrErr := writeRestoreInstructions(dest, report); instrErr != nil {
		log.Warn().Err(instrErr).Msg("could not write restore instructions")
	}

	report.Duration = time.Since(start)

	event := log.Info()
	if report.Status == "FAILED" {
		event = log.Error()
	} else if report.Status == "PARTIAL" {
		event = log.Warn()
	}
	event.
		Int("exit_code", report.ExitCode).
		Str("artifact", report.ArtifactPath).
		Dur("duration", report.Duration).
		Msg("backup finished: " + report.Status)

	if cfg.EmailReport != "" {
		if mailErr := s.mailerSvc.Send(ctx, cfg, *report); mailErr != nil {
			log.Warn().Err(mailErr).Msg("report email failed")
		}
	}

	return report, nil
}

// checkCapacity runs the advisory space estimate and, when attended, offers
// an early retention sweep on shortfall. Never blocks the run.
func (s *Impl) checkCapacity(ctx context.Context, cfg models.RunConfig, dest string, report *models.RunReport, log zerolog.Logger) {
	capReport, err := s.capacitySvc.Check(ctx, cfg, dest)
	if err != nil {
		log.Warn().Err(err).Msg("capacity check failed, continuing")
		return
	}
	report.Capacity = capReport
	if capReport.Sufficient {
		return
	}

	log.Warn().
		Str("available", units.BytesSize(float64(capReport.AvailableBytes))).
		Str("required", units.BytesSize(float64(capReport.RequiredBytes))).
		Msg("destination may not have enough free space")

	if !cfg.Interactive {
		return
	}
	ok, err := s.prompter.Confirm(fmt.Sprintf("Free space is low, delete backups older than %d days now?", cfg.RetentionDays))
	if err != nil || !ok {
		return
	}
	if result, pruneErr := s.retentionSvc.Prune(ctx, cfg, dest, nil); pruneErr == nil && result.Error == nil {
		log.Info().
			Int("removed", result.BackupsRemoved).
			Str("freed", units.BytesSize(float64(result.BytesFreed))).
			Msg("early retention sweep completed")
	}
}

// incrementalBound reads the marker for incremental runs. Any problem
// degrades to a full transfer.
func (s *Impl) incrementalBound(cfg models.RunConfig, dest string, log zerolog.Logger) *time.Time {
	if cfg.BackupType != models.BackupIncremental {
		return nil
	}

	ts, ok, err := marker.Read(dest)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("could not read incremental marker, running full transfer")
		return nil
	case !ok:
		log.Info().Msg("no incremental marker yet, running full transfer")
		return nil
	default:
		log.Info().Str("since", ts.Format(marker.Layout)).Msg("incremental transfer bound")
		return &ts
	}
}

func dirStats(dir string) models.DirStats {
	var stats models.DirStats
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() {
			stats.Bytes += info.Size()
			stats.Files++
		}
		return nil
	})
	return stats
}

// writeRestoreInstructions overwrites the static restore walkthrough
// referencing this run's artifact.
func writeRestoreInstructions(dest string, report *models.RunReport) error {
	content := fmt.Sprintf(`RESTORE INSTRUCTIONS
====================

Latest backup artifact:
  %s

To restore onto a freshly installed system:

1. Mount this backup drive, e.g. at /mnt/backup.
2. If the artifact is a .tar.gz, unpack it first:
     tar -xzf %s -C /mnt/restore
3. Copy the system tree back (boot from live media for a full restore):
     rsync -aAXH <backup>/system/ /mnt/target/
4. Reinstall the package selection recorded in packages.txt:
     dpkg --set-selections < <backup>/packages.txt
     apt-get dselect-upgrade
5. Compare the files under <backup>/configs/ with the restored /etc
   before rebooting.

Generated %s by resync on %s.
`, report.ArtifactPath, report.ArtifactPath, report.StartTime.Format("2006-01-02 15:04:05"), report.Hostname)

	return os.WriteFile(filepath.Join(dest, "RESTORE_INSTRUCTIONS.txt"), []byte(content), 0o644) //nolint:gosec // documentation file
}
