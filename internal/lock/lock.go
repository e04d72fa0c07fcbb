// Package lock provides a destination-scoped run lock so overlapping
// scheduled runs cannot race on the incremental marker or retention sweep.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrHeld is returned when another live run holds the destination lock.
var ErrHeld = errors.New("another backup run holds the destination lock")

const fileName = ".resync.lock"

// Lock is an exclusive flock on a persistent file at the destination root.
type Lock struct {
	file *os.File
}

// Acquire takes the destination lock without blocking. The flock dies with
// its holder, so a file left behind by a crashed run never blocks a new one.
//
// The file is never unlinked: removing it would let one contender flock an
// orphaned inode while the next creates a fresh file, and both would believe
// they hold the lock. All contenders must meet on the same inode.
func Acquire(destination string) (*Lock, error) {
	path := filepath.Join(destination, fileName)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // lock file carries no secrets
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	// Record our pid for diagnostics.
	_ = file.Truncate(0)
	_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	return &Lock{file: file}, nil
}

// Release drops the flock and closes the file, leaving the file in place.
func (l *Lock) Release() error {
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}
