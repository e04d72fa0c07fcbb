package verify

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/StoicTurk182/resync/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// fixture builds a source root and a backup copy; each canonical file listed
// in present exists at the source, and each listed in copied also exists in
// the copy.
func fixture(t *testing.T, present, copied []string) (string, string) {
	t.Helper()
	root := t.TempDir()
	backupDir := filepath.Join(t.TempDir(), "backup-x")

	for _, rel := range present {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))
	}
	for _, rel := range copied {
		path := filepath.Join(backupDir, "system", rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))
	}
	return root, backupDir
}

func TestVerify_AllPresent(t *testing.T) {
	all := []string{"etc/hostname", "etc/passwd", "etc/fstab"}
	root, backupDir := fixture(t, all, all)

	svc := New(testLogger())
	result, err := svc.Verify(context.Background(), models.RunConfig{SourceRoot: root}, backupDir)

	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 3, result.Checked)
	assert.Empty(t, result.Missing)
}

func TestVerify_MissingInCopy(t *testing.T) {
	all := []string{"etc/hostname", "etc/passwd", "etc/fstab"}
	root, backupDir := fixture(t, all, []string{"etc/hostname"})

	svc := New(testLogger())
	result, err := svc.Verify(context.Background(), models.RunConfig{SourceRoot: root}, backupDir)

	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.ElementsMatch(t, []string{"etc/passwd", "etc/fstab"}, result.Missing)
}

func TestVerify_AbsentAtSourceNotExpected(t *testing.T) {
	// only hostname exists at the source; the copy may lack the others
	root, backupDir := fixture(t, []string{"etc/hostname"}, []string{"etc/hostname"})

	svc := New(testLogger())
	result, err := svc.Verify(context.Background(), models.RunConfig{SourceRoot: root}, backupDir)

	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 1, result.Checked)
}
