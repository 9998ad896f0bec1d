// Package privilege implements scoped privilege transitions. Every
// caller that needs to act as a different uid/gid acquires a Handle,
// does its work, and releases the Handle (typically via defer); the
// Handle restores the prior identity on release regardless of which
// path out of the critical section was taken. This replaces the
// ad-hoc seteuid/setegid sequences the original tool used with a
// single typed abstraction (see DESIGN.md).
package privilege

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Handle represents an acquired privilege transition. Release must be
// called exactly once, normally via defer immediately after AsRoot or
// AsUser succeeds.
type Handle struct {
	mu       *sync.Mutex
	priorUID int
	priorGID int
	released bool
	testMode bool
}

// processMu serializes privilege transitions: two goroutines racing
// to change the process effective uid/gid would corrupt each other's
// view of "prior" identity, so every AsRoot/AsUser call outside test
// mode takes this lock and Release frees it.
var processMu sync.Mutex

// AsRoot acquires the effective-root identity the binary started
// with. In testMode it is a no-op that still returns a valid Handle,
// since test_mode disables the setuid requirement entirely (spec.md §4.3).
func AsRoot(testMode bool) (*Handle, error) {
	if testMode {
		return &Handle{testMode: true}, nil
	}

	processMu.Lock()
	priorUID := unix.Geteuid()
	priorGID := unix.Getegid()

	if err := unix.Setresuid(-1, 0, -1); err != nil {
		processMu.Unlock()
		return nil, fmt.Errorf("privilege: acquire root euid: %w", err)
	}
	if err := unix.Setresgid(-1, 0, -1); err != nil {
		_ = unix.Setresuid(-1, priorUID, -1)
		processMu.Unlock()
		return nil, fmt.Errorf("privilege: acquire root egid: %w", err)
	}

	return &Handle{mu: &processMu, priorUID: priorUID, priorGID: priorGID}, nil
}

// AsUser acquires the effective identity of uid/gid/groups, for
// dropping to a target user's authority before exec. testMode skips
// the actual syscalls, matching spec.md's documented test-mode bypass
// of privilege requirements.
func AsUser(uid, gid int, groups []int, testMode bool) (*Handle, error) {
	if testMode {
		return &Handle{testMode: true}, nil
	}

	processMu.Lock()
	priorUID := unix.Geteuid()
	priorGID := unix.Getegid()

	if len(groups) > 0 {
		if err := unix.Setgroups(groups); err != nil {
			processMu.Unlock()
			return nil, fmt.Errorf("privilege: set supplementary groups: %w", err)
		}
	}
	if err := unix.Setresgid(-1, gid, -1); err != nil {
		processMu.Unlock()
		return nil, fmt.Errorf("privilege: set egid %d: %w", gid, err)
	}
	if err := unix.Setresuid(-1, uid, -1); err != nil {
		_ = unix.Setresgid(-1, priorGID, -1)
		processMu.Unlock()
		return nil, fmt.Errorf("privilege: set euid %d: %w", uid, err)
	}

	return &Handle{mu: &processMu, priorUID: priorUID, priorGID: priorGID}, nil
}

// Release restores the identity held before AsRoot/AsUser and frees the
// process-wide transition lock. Safe to call multiple times; only the
// first call has effect.
func (h *Handle) Release() error {
	if h == nil || h.released || h.testMode {
		if h != nil {
			h.released = true
		}
		return nil
	}
	h.released = true
	defer h.mu.Unlock()

	if err := unix.Setresuid(-1, h.priorUID, -1); err != nil {
		return fmt.Errorf("privilege: restore euid: %w", err)
	}
	if err := unix.Setresgid(-1, h.priorGID, -1); err != nil {
		return fmt.Errorf("privilege: restore egid: %w", err)
	}
	return nil
}
