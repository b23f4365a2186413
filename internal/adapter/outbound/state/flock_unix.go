//go:build !windows

package state

import "golang.org/x/sys/unix"

// flockLock takes an exclusive advisory lock on the state file so two
// gateway processes cannot claim the same state path.
func flockLock(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_EX)
}

// flockUnlock drops the advisory lock.
func flockUnlock(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_UN)
}
