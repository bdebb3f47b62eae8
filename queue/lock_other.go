//go:build !unix

package queue

import "os"

// Advisory file locking is only wired up for unix platforms; elsewhere the
// queue file is still usable for single-process setups.
func lockFile(*os.File) error   { return nil }
func unlockFile(*os.File) error { return nil }
