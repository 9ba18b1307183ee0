//go:build !unix

package part

import "os"

// Advisory locking is not available on this platform.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) {}
