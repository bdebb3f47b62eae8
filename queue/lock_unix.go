//go:build unix

package queue

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes an exclusive advisory flock on f, blocking until granted.
func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
