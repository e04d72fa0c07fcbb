package rsync

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/StoicTurk182/resync/internal/marker"
	"github.com/StoicTurk182/resync/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type mockExecutor struct {
	calls   []call
	runFunc func(ctx context.Context, name string, args ...string) ([]byte, int, error)
}

func (m *mockExecutor) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	m.calls = append(m.calls, call{name: name, args: args})
	if m.runFunc != nil {
		return m.runFunc(ctx, name, args...)
	}
	return []byte("done\n"), 0, nil
}

func (m *mockExecutor) RunWithStdin(ctx context.Context, stdin string, name string, args ...string) ([]byte, int, error) {
	return m.Run(ctx, name, args...)
}

func (m *mockExecutor) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

func (m *mockExecutor) callFor(name string) *call {
	for i := range m.calls {
		if m.calls[i].name == name {
			return &m.calls[i]
		}
	}
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.RunConfig {
	return models.RunConfig{SourceRoot: "/", Hostname: "testhost"}
}

func TestAcceptable(t *testing.T) {
	assert.True(t, Acceptable(0))
	assert.True(t, Acceptable(23))
	assert.True(t, Acceptable(24))
	assert.False(t, Acceptable(1))
	assert.False(t, Acceptable(12))
	assert.False(t, Acceptable(-1))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, "SUCCESS", StatusFor(0))
	assert.Equal(t, "PARTIAL", StatusFor(23))
	assert.Equal(t, "PARTIAL", StatusFor(24))
	assert.Equal(t, "FAILED", StatusFor(1))
}

func TestTransfer_FullSuccess(t *testing.T) {
	executor := &mockExecutor{}
	svc := NewWithExecutor(testLogger(), executor, t.TempDir())

	result, err := svc.Transfer(context.Background(), testConfig(), "/mnt/backup", "/mnt/backup/backup-x", nil)

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.True(t, result.Acceptable)
	assert.Nil(t, result.Error)

	rsyncCall := executor.callFor("rsync")
	require.NotNil(t, rsyncCall)
	assert.Contains(t, rsyncCall.args, "-aAXH")
	assert.Contains(t, rsyncCall.args, "--no-devices")
	assert.Contains(t, rsyncCall.args, "--no-specials")
	assert.Contains(t, rsyncCall.args, "/proc/*")
	assert.Contains(t, rsyncCall.args, "/mnt/backup/*")
	// source then target last
	assert.Equal(t, "/", rsyncCall.args[len(rsyncCall.args)-2])
	assert.Equal(t, "/mnt/backup/backup-x/system/", rsyncCall.args[len(rsyncCall.args)-1])
	// full mode never builds a file list
	assert.Nil(t, executor.callFor("find"))
}

func TestTransfer_PartialAcceptable(t *testing.T) {
	for _, code := range []int{23, 24} {
		executor := &mockExecutor{
			runFunc: func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
				return []byte("some files vanished\n"), code, errors.New("exit status")
			},
		}
		svc := NewWithExecutor(testLogger(), executor, t.TempDir())

		result, err := svc.Transfer(context.Background(), testConfig(), "/mnt/backup", "/mnt/backup/backup-x", nil)

		require.NoError(t, err)
		assert.Equal(t, code, result.ExitCode)
		assert.True(t, result.Acceptable)
		assert.Nil(t, result.Error)
	}
}

func TestTransfer_Failure(t *testing.T) {
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
			return []byte("rsync error: syntax or usage error\n"), 1, errors.New("exit status 1")
		},
	}
	svc := NewWithExecutor(testLogger(), executor, t.TempDir())

	result, err := svc.Transfer(context.Background(), testConfig(), "/mnt/backup", "/mnt/backup/backup-x", nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.False(t, result.Acceptable)
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "code 1")
}

func TestTransfer_BinaryMissingAbortsRun(t *testing.T) {
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
			return nil, -1, errors.New(`exec: "rsync": executable file not found in $PATH`)
		},
	}
	svc := NewWithExecutor(testLogger(), executor, t.TempDir())

	result, err := svc.Transfer(context.Background(), testConfig(), "/mnt/backup", "/mnt/backup/backup-x", nil)

	// no process ran, so there is no exit code to report
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not be started")
	assert.Nil(t, result)
}

func TestTransfer_IncrementalUsesFileList(t *testing.T) {
	since := time.Date(2025, 5, 1, 10, 0, 0, 0, time.Local)
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
			if name == "find" {
				return []byte("/etc/hostname\n/home/user/notes.txt\n"), 0, nil
			}
			return nil, 0, nil
		},
	}
	svc := NewWithExecutor(testLogger(), executor, t.TempDir())

	result, err := svc.Transfer(context.Background(), testConfig(), "/mnt/backup", "/mnt/backup/backup-x", &since)

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)

	findCall := executor.callFor("find")
	require.NotNil(t, findCall)
	assert.Contains(t, findCall.args, "-newermt")
	assert.Contains(t, findCall.args, since.Format(marker.Layout))

	rsyncCall := executor.callFor("rsync")
	require.NotNil(t, rsyncCall)
	var filesFrom string
	for _, arg := range rsyncCall.args {
		if strings.HasPrefix(arg, "--files-from=") {
			filesFrom = strings.TrimPrefix(arg, "--files-from=")
		}
	}
	require.NotEmpty(t, filesFrom, "incremental transfer must pass --files-from")
	// list is consumed by rsync then removed
	_, statErr := os.Stat(filesFrom)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTransfer_IncrementalFindFailureFallsBackToFull(t *testing.T) {
	since := time.Now()
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
			if name == "find" {
				return nil, -1, errors.New("find: not found")
			}
			return nil, 0, nil
		},
	}
	svc := NewWithExecutor(testLogger(), executor, t.TempDir())

	result, err := svc.Transfer(context.Background(), testConfig(), "/mnt/backup", "/mnt/backup/backup-x", &since)

	require.NoError(t, err)
	assert.True(t, result.Acceptable)

	rsyncCall := executor.callFor("rsync")
	require.NotNil(t, rsyncCall)
	for _, arg := range rsyncCall.args {
		assert.NotContains(t, arg, "--files-from")
	}
}

func TestLastLines(t *testing.T) {
	output := []byte("a\nb\nc\nd\n")
	assert.Equal(t, "c\nd", lastLines(output, 2))
	assert.Equal(t, "a\nb\nc\nd", lastLines(output, 10))
}
