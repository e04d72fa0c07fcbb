package capacity

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/StoicTurk182/resync/internal/models"
	"github.com/docker/go-units"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	runFunc func(ctx context.Context, name string, args ...string) ([]byte, int, error)
}

func (m *mockExecutor) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	if m.runFunc != nil {
		return m.runFunc(ctx, name, args...)
	}
	return nil, 0, nil
}

func (m *mockExecutor) RunWithStdin(ctx context.Context, stdin string, name string, args ...string) ([]byte, int, error) {
	return m.Run(ctx, name, args...)
}

func (m *mockExecutor) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func duExecutor(total string) *mockExecutor {
	return &mockExecutor{
		runFunc: func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
			return []byte(total + "\t/\n"), 0, nil
		},
	}
}

func fixedStatfs(available int64) func(string) (int64, error) {
	return func(string) (int64, error) { return available, nil }
}

func TestCheck_Sufficient(t *testing.T) {
	// 20 GiB to transfer, 64 GiB free: even with the 10 GiB margin there
	// is room.
	svc := NewWithExecutor(testLogger(), duExecutor("21474836480"), fixedStatfs(64*units.GiB))

	cfg := models.RunConfig{SourceRoot: "/", Compress: false}
	report, err := svc.Check(context.Background(), cfg, "/mnt/backup")

	require.NoError(t, err)
	assert.True(t, report.Sufficient)
	assert.Equal(t, int64(20*units.GiB), report.EstimatedBytes)
	assert.Equal(t, int64(30*units.GiB), report.RequiredBytes)
}

func TestCheck_Insufficient(t *testing.T) {
	svc := NewWithExecutor(testLogger(), duExecutor("21474836480"), fixedStatfs(16*units.GiB))

	cfg := models.RunConfig{SourceRoot: "/", Compress: false}
	report, err := svc.Check(context.Background(), cfg, "/mnt/backup")

	require.NoError(t, err)
	assert.False(t, report.Sufficient)
}

func TestCheck_CompressionHalvesEstimate(t *testing.T) {
	svc := NewWithExecutor(testLogger(), duExecutor("21474836480"), fixedStatfs(64*units.GiB))

	cfg := models.RunConfig{SourceRoot: "/", Compress: true}
	report, err := svc.Check(context.Background(), cfg, "/mnt/backup")

	require.NoError(t, err)
	assert.Equal(t, int64(10*units.GiB), report.EstimatedBytes)
}

func TestCheck_DuPartialOutput(t *testing.T) {
	// du exits non-zero on unreadable subtrees but still prints a total.
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
			output := "du: cannot read directory '/root/secret': Permission denied\n1048576\t/\n"
			return []byte(output), 1, errors.New("exit status 1")
		},
	}
	svc := NewWithExecutor(testLogger(), executor, fixedStatfs(64*units.GiB))

	cfg := models.RunConfig{SourceRoot: "/"}
	report, err := svc.Check(context.Background(), cfg, "/mnt/backup")

	require.NoError(t, err)
	assert.Equal(t, int64(1048576), report.EstimatedBytes)
}

func TestCheck_DuUnusable(t *testing.T) {
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
			return nil, -1, errors.New("du: not found")
		},
	}
	svc := NewWithExecutor(testLogger(), executor, fixedStatfs(64*units.GiB))

	_, err := svc.Check(context.Background(), models.RunConfig{SourceRoot: "/"}, "/mnt/backup")
	assert.Error(t, err)
}

func TestCheck_ExcludesDestination(t *testing.T) {
	var capturedArgs []string
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
			capturedArgs = args
			return []byte("1000\t/\n"), 0, nil
		},
	}
	svc := NewWithExecutor(testLogger(), executor, fixedStatfs(64*units.GiB))

	_, err := svc.Check(context.Background(), models.RunConfig{SourceRoot: "/"}, "/mnt/backup")

	require.NoError(t, err)
	assert.Contains(t, capturedArgs, "--exclude=/mnt/backup")
}

func TestCheck_StatfsError(t *testing.T) {
	svc := NewWithExecutor(testLogger(), duExecutor("1000"), func(string) (int64, error) {
		return 0, errors.New("no such device")
	})

	_, err := svc.Check(context.Background(), models.RunConfig{SourceRoot: "/"}, "/mnt/backup")
	assert.Error(t, err)
}

func TestParseDuTotal(t *testing.T) {
	total, err := parseDuTotal("12345\t/\n")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), total)

	_, err = parseDuTotal("garbage with no number first")
	assert.Error(t, err)
}
