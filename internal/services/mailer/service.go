// Package mailer delivers the plain-text run report via the local mail
// transport.
package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/StoicTurk182/resync/internal/executil"
	"github.com/StoicTurk182/resync/internal/logging"
	"github.com/StoicTurk182/resync/internal/models"
	"github.com/docker/go-units"
	"github.com/rs/zerolog"
)

// logTailLines is how much of the run log the report quotes.
const logTailLines = 20

// Service defines the interface for the email report.
type Service interface {
	Send(ctx context.Context, cfg models.RunConfig, report models.RunReport) error
}

// Impl implements the Service interface.
type Impl struct {
	executor executil.CommandExecutor
	logger   zerolog.Logger
}

// New creates a new mailer.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &executil.DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a mailer with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor executil.CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Send pipes the report body through the mail binary. Callers treat a
// failure as a warning; it never changes the run outcome.
func (s *Impl) Send(ctx context.Context, cfg models.RunConfig, report models.RunReport) error {
	subject := fmt.Sprintf("[resync] %s backup %s %s",
		report.Hostname, report.Status, report.StartTime.Format("2006-01-02 15:04:05"))

	body := s.buildBody(report)

	output, _, err := s.executor.RunWithStdin(ctx, body, "mail", "-s", subject, cfg.EmailReport)
	if err != nil {
		return fmt.Errorf("mail send failed: %w: %s", err, output)
	}

	s.logger.Info().Str("to", cfg.EmailReport).Str("subject", subject).Msg("report email sent")
	return nil
}

func (s *Impl) buildBody(report models.RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Backup run on %s\n", report.Hostname)
	fmt.Fprintf(&b, "Status:    %s (exit code %d)\n", report.Status, report.ExitCode)
	fmt.Fprintf(&b, "Type:      %s\n", report.BackupType)
	fmt.Fprintf(&b, "Started:   %s\n", report.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration:  %s\n", report.Duration.Round(time.Second))
	fmt.Fprintf(&b, "Artifact:  %s\n", report.ArtifactPath)
	fmt.Fprintf(&b, "Log:       %s\n", report.LogPath)
	if report.Stats.Files > 0 {
		fmt.Fprintf(&b, "Size:      %s in %d files\n",
			units.BytesSize(float64(report.Stats.Bytes)), report.Stats.Files)
	}
	if report.Archive != nil && report.Archive.Error == nil {
		fmt.Fprintf(&b, "Archive:   %s (ratio %.2f)\n",
			units.BytesSize(float64(report.Archive.CompressedBytes)), report.Archive.Ratio)
	}

	var skipped []models.StepResult
	for _, step := range report.Steps {
		if step.Skipped {
			skipped = append(skipped, step)
		}
	}
	if len(skipped) > 0 {
		fmt.Fprintf(&b, "\nSkipped steps:\n")
		for _, step := range skipped {
			fmt.Fprintf(&b, "  - %s: %s\n", step.Name, step.Reason)
		}
	}

	if report.Verify != nil && !report.Verify.Passed {
		fmt.Fprintf(&b, "\nVerification missing files: %s\n", strings.Join(report.Verify.Missing, ", "))
	}

	if lines, err := logging.Tail(report.LogPath, logTailLines); err == nil {
		fmt.Fprintf(&b, "\nLast log lines:\n%s\n", strings.Join(lines, "\n"))
	}

	return b.String()
}
