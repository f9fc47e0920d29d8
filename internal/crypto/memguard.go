//go:build linux || darwin

package crypto

import "golang.org/x/sys/unix"

// LockMemory pins b so key material cannot be swapped to disk. Best
// effort: callers ignore the error on platforms without the privilege.
func LockMemory(b []byte) error { return unix.Mlock(b) }

// UnlockMemory releases a pin taken by LockMemory.
func UnlockMemory(b []byte) error { return unix.Munlock(b) }
