// Package snapshot collects ancillary system state into the backup
// directory before the bulk transfer. Every sub-step is best-effort: a
// missing tool or file is recorded as a skipped step, never a failure.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/StoicTurk182/resync/internal/executil"
	"github.com/StoicTurk182/resync/internal/models"
	"github.com/rs/zerolog"
)

// configWhitelist is the fixed set of configuration files copied into
// configs/, relative to the source root.
var configWhitelist = []string{
	"etc/fstab",
	"etc/hosts",
	"etc/hostname",
	"etc/network/interfaces",
	"etc/ssh/sshd_config",
	"etc/crontab",
}

// Service defines the interface for the snapshot collector.
type Service interface {
	Collect(ctx context.Context, cfg models.RunConfig, backupDir string) ([]models.StepResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	executor executil.CommandExecutor
	logger   zerolog.Logger
}

// New creates a new snapshot collector.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &executil.DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a snapshot collector with a custom executor (for
// testing).
func NewWithExecutor(logger zerolog.Logger, executor executil.CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Collect creates the staging tree and fills it with system state. Only the
// directory creation itself is fatal; everything else is aggregated into the
// returned step results.
func (s *Impl) Collect(ctx context.Context, cfg models.RunConfig, backupDir string) ([]models.StepResult, error) {
	for _, dir := range []string{backupDir, filepath.Join(backupDir, "system"), filepath.Join(backupDir, "configs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating backup directory: %w", err)
		}
	}

	steps := []models.StepResult{
		s.writeSystemInfo(ctx, cfg, backupDir),
		s.writeCommandOutput(ctx, backupDir, "packages.txt", "dpkg selections", "dpkg", "--get-selections"),
		s.writeCommandOutput(ctx, backupDir, "apt_packages.txt", "apt packages", "apt", "list", "--installed"),
		s.writeCommandOutput(ctx, backupDir, "snap_packages.txt", "snap packages", "snap", "list"),
		s.copyAptSources(cfg, backupDir),
	}
	steps = append(steps, s.copyConfigWhitelist(cfg, backupDir)...)

	for _, step := range steps {
		if step.Skipped {
			s.logger.Warn().Str("step", step.Name).Str("reason", step.Reason).Msg("snapshot step skipped")
		} else {
			s.logger.Debug().Str("step", step.Name).Msg("snapshot step completed")
		}
	}

	return steps, nil
}

// writeSystemInfo assembles host identification and the disk-usage table.
func (s *Impl) writeSystemInfo(ctx context.Context, cfg models.RunConfig, backupDir string) models.StepResult {
	var b strings.Builder

	fmt.Fprintf(&b, "Hostname: %s\n", cfg.Hostname)

	if output, _, err := s.executor.Run(ctx, "uname", "-a"); err == nil {
		fmt.Fprintf(&b, "Kernel: %s\n", strings.TrimSpace(string(output)))
	}
	if data, err := os.ReadFile(filepath.Join(cfg.SourceRoot, "etc/os-release")); err == nil {
		fmt.Fprintf(&b, "\n--- os-release ---\n%s", data)
	}
	if output, _, err := s.executor.Run(ctx, "uptime", "-p"); err == nil {
		fmt.Fprintf(&b, "\nUptime: %s\n", strings.TrimSpace(string(output)))
	}
	if output, _, err := s.executor.Run(ctx, "df", "-h"); err == nil {
		fmt.Fprintf(&b, "\n--- disk usage ---\n%s", output)
	}

	path := filepath.Join(backupDir, "system_info.txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil { //nolint:gosec // inventory file
		return models.StepResult{Name: "system info", Skipped: true, Reason: err.Error()}
	}
	return models.StepResult{Name: "system info"}
}

// writeCommandOutput stores the output of an inventory command, skipping
// when the tool is absent or fails.
func (s *Impl) writeCommandOutput(ctx context.Context, backupDir, fileName, stepName, name string, args ...string) models.StepResult {
	output, _, err := s.executor.Run(ctx, name, args...)
	if err != nil {
		return models.StepResult{Name: stepName, Skipped: true, Reason: fmt.Sprintf("%s unavailable: %v", name, err)}
	}

	path := filepath.Join(backupDir, fileName)
	if err := os.WriteFile(path, output, 0o644); err != nil { //nolint:gosec // inventory file
		return models.StepResult{Name: stepName, Skipped: true, Reason: err.Error()}
	}
	return models.StepResult{Name: stepName}
}

// copyAptSources copies the package-repository definitions.
func (s *Impl) copyAptSources(cfg models.RunConfig, backupDir string) models.StepResult {
	dstDir := filepath.Join(backupDir, "configs", "apt")
	copied := 0

	if err := copyFile(filepath.Join(cfg.SourceRoot, "etc/apt/sources.list"), filepath.Join(dstDir, "sources.list")); err == nil {
		copied++
	}

	entries, err := os.ReadDir(filepath.Join(cfg.SourceRoot, "etc/apt/sources.list.d"))
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			src := filepath.Join(cfg.SourceRoot, "etc/apt/sources.list.d", entry.Name())
			if err := copyFile(src, filepath.Join(dstDir, entry.Name())); err == nil {
				copied++
			}
		}
	}

	if copied == 0 {
		return models.StepResult{Name: "apt sources", Skipped: true, Reason: "no source definitions found"}
	}
	return models.StepResult{Name: "apt sources"}
}

// copyConfigWhitelist copies the fixed config file set, one step per file.
func (s *Impl) copyConfigWhitelist(cfg models.RunConfig, backupDir string) []models.StepResult {
	results := make([]models.StepResult, 0, len(configWhitelist))
	for _, rel := range configWhitelist {
		src := filepath.Join(cfg.SourceRoot, rel)
		dst := filepath.Join(backupDir, "configs", filepath.Base(rel))

		if _, err := os.Stat(src); err != nil {
			results = append(results, models.StepResult{Name: "config " + rel, Skipped: true, Reason: "not present"})
			continue
		}
		if err := copyFile(src, dst); err != nil {
			results = append(results, models.StepResult{Name: "config " + rel, Skipped: true, Reason: err.Error()})
			continue
		}
		results = append(results, models.StepResult{Name: "config " + rel})
	}
	return results
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // whitelist paths only
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst) //nolint:gosec // destination under the backup dir
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
