// Package filelock implements the advisory exclusive file-lock
// manager for editor invocations described in spec.md §4.6. Grounded
// on cmd/pulse-sensor-proxy/cleanup.go's atomic
// create-temp-then-rename pattern, extended with a non-blocking
// exclusive flock on the lock file, plus stale-lock reaping. The lock
// file is opened with O_CREATE, not O_EXCL: an existing file does not
// block acquisition, only a flock held on it does.
package filelock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// StaleAfter is the maximum age spec.md §4.6/§8 allow a lock to live
// before it is eligible for reaping, regardless of owner liveness.
const StaleAfter = 30 * time.Minute

// Record is the on-disk content of a lock file.
type Record struct {
	FilePath   string    `json:"file_path"`
	OwnerUser  string    `json:"owner_user"`
	OwnerPID   int       `json:"owner_pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a held advisory lock; Release must be called exactly once.
type Lock struct {
	manager *Manager
	path    string
	file    *os.File
	record  Record
}

// Manager owns the lock directory.
type Manager struct {
	dir string
}

// NewManager builds a Manager rooted at dir, creating it if absent.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filelock: create lock dir %s: %w", dir, err)
	}
	return &Manager{dir: dir}, nil
}

// Conflict is returned by Acquire when another live owner holds the
// lock.
type Conflict struct {
	Owner      string
	AcquiredAt time.Time
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("filelock: locked by %s since %s", c.Owner, c.AcquiredAt.Format(time.RFC3339))
}

// lockPath derives <lock_dir>/<hash(canonical)> per spec.md §4.6.
func (m *Manager) lockPath(canonicalPath string) string {
	sum := sha256.Sum256([]byte(canonicalPath))
	return filepath.Join(m.dir, hex.EncodeToString(sum[:])[:32])
}

// Acquire canonicalizes path and attempts to take the advisory
// exclusive lock, reaping a stale existing lock once before giving up
// with a *Conflict.
func (m *Manager) Acquire(path, user string, pid int) (*Lock, error) {
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		canonical = filepath.Clean(path)
	}

	lockPath := m.lockPath(canonical)

	lock, err := m.tryAcquire(lockPath, canonical, user, pid)
	if err == nil {
		return lock, nil
	}
	conflict, ok := err.(*Conflict)
	if !ok {
		return nil, err
	}

	if m.reapIfStale(lockPath) {
		lock, err := m.tryAcquire(lockPath, canonical, user, pid)
		if err == nil {
			return lock, nil
		}
	}
	return nil, conflict
}

func (m *Manager) tryAcquire(lockPath, canonical, user string, pid int) (*Lock, error) {
	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %s: %w", lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		existing := readRecord(f)
		f.Close()
		if existing != nil {
			return nil, &Conflict{Owner: existing.OwnerUser, AcquiredAt: existing.AcquiredAt}
		}
		return nil, fmt.Errorf("filelock: lock %s held by unreadable owner", lockPath)
	}

	record := Record{FilePath: canonical, OwnerUser: user, OwnerPID: pid, AcquiredAt: time.Now()}
	if err := writeRecord(f, record); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, err
	}

	return &Lock{manager: m, path: lockPath, file: f, record: record}, nil
}

func readRecord(f *os.File) *Record {
	if _, err := f.Seek(0, 0); err != nil {
		return nil
	}
	var r Record
	if err := json.NewDecoder(f).Decode(&r); err != nil {
		return nil
	}
	return &r
}

func writeRecord(f *os.File, r Record) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	return json.NewEncoder(f).Encode(r)
}

// reapIfStale removes lockPath if its recorded owner pid is no longer
// alive or the record is older than StaleAfter (spec.md §4.6 step 4,
// §8 property 5).
func (m *Manager) reapIfStale(lockPath string) bool {
	f, err := os.Open(lockPath)
	if err != nil {
		return false
	}
	record := readRecord(f)
	f.Close()
	if record == nil {
		return false
	}

	stale := time.Since(record.AcquiredAt) > StaleAfter || !pidAlive(record.OwnerPID)
	if !stale {
		return false
	}
	return os.Remove(lockPath) == nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil
}

// Release unlocks and removes the lock file. Safe to call once; a
// second call is a no-op returning nil.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
	err := os.Remove(l.path)
	l.file = nil
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Record returns the lock's on-disk record.
func (l *Lock) Record() Record { return l.record }
