// Package executil wraps os/exec behind an interface so services that shell
// out to external tools can be tested without the tools installed.
package executil

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	// Run executes a command and returns its combined output and exit code.
	// The returned error is non-nil when the command could not be started or
	// exited non-zero; callers that classify exit codes should inspect the
	// code rather than the error.
	Run(ctx context.Context, name string, args ...string) ([]byte, int, error)

	// RunWithStdin executes a command with the given string as stdin.
	RunWithStdin(ctx context.Context, stdin string, name string, args ...string) ([]byte, int, error)

	// LookPath reports the full path of a binary, or an error if it is not
	// installed.
	LookPath(name string) (string, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Run executes a command and returns its combined output and exit code.
func (e *DefaultExecutor) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	return output, exitCode(err), err
}

// RunWithStdin executes a command with the given string as stdin.
func (e *DefaultExecutor) RunWithStdin(ctx context.Context, stdin string, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	output, err := cmd.CombinedOutput()
	return output, exitCode(err), err
}

// LookPath reports the full path of a binary.
func (e *DefaultExecutor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// exitCode extracts the process exit code from a CombinedOutput error.
// Returns 0 on success and -1 when the command never ran.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
