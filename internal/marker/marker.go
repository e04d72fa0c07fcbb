// Package marker persists the last-successful-run timestamp that bounds the
// next incremental transfer.
package marker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Layout is the single-line timestamp format stored in the marker file and
// passed to the incremental file-list filter.
const Layout = "2006-01-02 15:04:05"

const fileName = ".last_backup"

// Path returns the marker location under the destination root.
func Path(destination string) string {
	return filepath.Join(destination, fileName)
}

// Read returns the stored timestamp. The second return value is false when
// no marker exists yet (first run).
func Read(destination string) (time.Time, bool, error) {
	data, err := os.ReadFile(Path(destination)) //nolint:gosec // fixed path under the destination
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading marker: %w", err)
	}

	ts, err := time.ParseInLocation(Layout, strings.TrimSpace(string(data)), time.Local)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing marker: %w", err)
	}
	return ts, true, nil
}

// Write overwrites the marker with the given timestamp. Callers must only
// invoke this after an acceptable transfer outcome so a failed run cannot
// poison the next incremental baseline.
func Write(destination string, t time.Time) error {
	line := t.Format(Layout) + "\n"
	if err := os.WriteFile(Path(destination), []byte(line), 0o644); err != nil { //nolint:gosec // marker carries no secrets
		return fmt.Errorf("writing marker: %w", err)
	}
	return nil
}
