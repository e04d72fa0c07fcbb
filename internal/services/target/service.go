// Package target resolves and validates the backup destination mount point.
package target

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/StoicTurk182/resync/internal/executil"
	"github.com/StoicTurk182/resync/internal/models"
	"github.com/rs/zerolog"
)

// Resolution errors.
var (
	ErrNoDestination      = errors.New("no destination could be resolved")
	ErrInvalidDestination = errors.New("destination is not an existing directory")
	ErrUserAbort          = errors.New("aborted by user")
)

// Prompter supplies interactive answers. The resolver itself stays a pure
// policy over the answers it receives; attended and unattended runs differ
// only in which Prompter they wire in.
type Prompter interface {
	// Ask prints a question and returns the entered line.
	Ask(question string) (string, error)
	// Confirm returns true only for an exact affirmative answer.
	Confirm(question string) (bool, error)
}

// StdinPrompter reads answers from standard input.
type StdinPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewStdinPrompter creates a prompter over stdin/stdout.
func NewStdinPrompter() *StdinPrompter {
	return &StdinPrompter{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

// Ask prints the question and returns the entered line.
func (p *StdinPrompter) Ask(question string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", question)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm returns true only when the user answers exactly "yes".
func (p *StdinPrompter) Confirm(question string) (bool, error) {
	answer, err := p.Ask(question + " (yes/no)")
	if err != nil {
		return false, err
	}
	return answer == "yes", nil
}

// Unattended declines every prompt; used when interactive mode is off.
type Unattended struct{}

// Ask returns an empty answer.
func (Unattended) Ask(string) (string, error) { return "", nil }

// Confirm declines.
func (Unattended) Confirm(string) (bool, error) { return false, nil }

// Service defines the interface for destination resolution.
type Service interface {
	Resolve(ctx context.Context, cfg models.RunConfig) (string, error)
}

// Impl implements the Service interface.
type Impl struct {
	executor   executil.CommandExecutor
	prompter   Prompter
	logger     zerolog.Logger
	mountsPath string
}

// New creates a new target resolver.
func New(logger zerolog.Logger, prompter Prompter) *Impl {
	return &Impl{
		executor:   &executil.DefaultExecutor{},
		prompter:   prompter,
		logger:     logger,
		mountsPath: "/proc/mounts",
	}
}

// NewWithExecutor creates a resolver with a custom executor and mounts table
// (for testing).
func NewWithExecutor(logger zerolog.Logger, prompter Prompter, executor executil.CommandExecutor, mountsPath string) *Impl {
	return &Impl{
		executor:   executor,
		prompter:   prompter,
		logger:     logger,
		mountsPath: mountsPath,
	}
}

// Resolve produces a validated, mounted destination path: explicit argument,
// then interactive prompt, then the configured fallback device.
func (s *Impl) Resolve(ctx context.Context, cfg models.RunConfig) (string, error) {
	dest := cfg.Destination

	if dest == "" && cfg.Interactive {
		s.listMounts(ctx)
		answer, err := s.prompter.Ask("Enter destination path")
		if err != nil {
			return "", fmt.Errorf("reading destination: %w", err)
		}
		dest = answer
	}

	if dest == "" {
		resolved, err := s.resolveDevice(ctx, cfg.DefaultDevice)
		if err != nil || resolved == "" {
			return "", fmt.Errorf("%w: default device %s is not mounted", ErrNoDestination, cfg.DefaultDevice)
		}
		s.logger.Info().Str("device", cfg.DefaultDevice).Str("target", resolved).Msg("using default device mount target")
		dest = resolved
	}

	dest = filepath.Clean(dest)

	info, err := os.Stat(dest)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrInvalidDestination, dest)
	}

	mounted, err := s.isMountPoint(dest)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not read mount table, assuming not a mount point")
	}
	if !mounted {
		ok, err := s.prompter.Confirm(fmt.Sprintf("%s is not a mount point, continue anyway?", dest))
		if err != nil {
			return "", fmt.Errorf("reading confirmation: %w", err)
		}
		if !ok {
			return "", fmt.Errorf("%w: %s is not a mount point", ErrUserAbort, dest)
		}
		s.logger.Warn().Str("destination", dest).Msg("proceeding with non-mount-point destination")
	}

	s.logger.Info().Str("destination", dest).Msg("destination resolved")
	return dest, nil
}

// listMounts prints the block devices and their mount points to help the
// user pick a destination. Best-effort.
func (s *Impl) listMounts(ctx context.Context) {
	output, _, err := s.executor.Run(ctx, "lsblk", "-nr", "-o", "NAME,SIZE,MOUNTPOINT")
	if err != nil {
		s.logger.Debug().Err(err).Msg("lsblk unavailable")
		return
	}
	fmt.Println("Available block devices:")
	fmt.Println(strings.TrimRight(string(output), "\n"))
}

// resolveDevice returns the mount target of a block device, if mounted.
func (s *Impl) resolveDevice(ctx context.Context, device string) (string, error) {
	if device == "" {
		return "", nil
	}
	output, _, err := s.executor.Run(ctx, "findmnt", "-nr", "-o", "TARGET", device)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// isMountPoint reports whether path appears in the mount table.
func (s *Impl) isMountPoint(path string) (bool, error) {
	data, err := os.ReadFile(s.mountsPath) //nolint:gosec // /proc/mounts or a test fixture
	if err != nil {
		return false, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// /proc/mounts escapes spaces in mount points as \040.
		mountPoint := strings.ReplaceAll(fields[1], `\040`, " ")
		if filepath.Clean(mountPoint) == path {
			return true, nil
		}
	}
	return false, nil
}
