//go:build unix

package lockfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// AcquireExclusive acquires a non-blocking exclusive lock on f.
// Returns ErrLocked if any lock (shared or exclusive) is already held.
func AcquireExclusive(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return ErrLocked
	}
	return err
}

// AcquireShared acquires a non-blocking shared lock on f. Multiple
// processes may hold a shared lock concurrently.
func AcquireShared(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return ErrLocked
	}
	return err
}

// Release releases any lock held on f.
func Release(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
