// Package logging provides the per-run log file written alongside the backup.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Stamp is the timestamp layout shared by backup directory, archive and log
// file names.
const Stamp = "2006-01-02-150405"

// RunLog is an append-only log file under <destination>/logs/, with
// line-structured "[timestamp] [LEVEL] message" records.
type RunLog struct {
	Path string

	file *os.File
}

// OpenRunLog creates <destination>/logs/backup-<stamp>.log.
func OpenRunLog(destination string, start time.Time) (*RunLog, error) {
	dir := filepath.Join(destination, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("backup-%s.log", start.Format(Stamp)))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // run log is world-readable by design
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}

	return &RunLog{Path: path, file: file}, nil
}

// Writer returns a zerolog-compatible writer producing the line format.
func (l *RunLog) Writer() io.Writer {
	return zerolog.ConsoleWriter{
		Out:     l.file,
		NoColor: true,
		FormatTimestamp: func(i interface{}) string {
			if s, ok := i.(string); ok {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					return "[" + t.Format("2006-01-02 15:04:05") + "]"
				}
				return "[" + s + "]"
			}
			return fmt.Sprintf("[%v]", i)
		},
		FormatLevel: func(i interface{}) string {
			if s, ok := i.(string); ok {
				return "[" + strings.ToUpper(s) + "]"
			}
			return "[???]"
		},
	}
}

// Close flushes and closes the underlying file.
func (l *RunLog) Close() error {
	return l.file.Close()
}

// Tail returns the last n lines of the file at path, for the email report.
func Tail(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is our own run log
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
