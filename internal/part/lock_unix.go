//go:build unix

package part

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes an exclusive advisory lock so two emulator instances
// cannot scribble over the same swap file.
func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func unlockFile(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
