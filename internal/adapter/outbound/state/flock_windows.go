//go:build windows

package state

import "golang.org/x/sys/windows"

// flockLock takes an exclusive lock on the state file via LockFileEx,
// blocking until available so the semantics match Unix flock.
func flockLock(fd uintptr) error {
	var overlapped windows.Overlapped
	return windows.LockFileEx(windows.Handle(fd), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, &overlapped)
}

// flockUnlock drops the lock via UnlockFileEx.
func flockUnlock(fd uintptr) error {
	var overlapped windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(fd), 0, 1, 0, &overlapped)
}
