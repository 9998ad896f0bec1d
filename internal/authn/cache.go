package authn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// isOwnedByCaller reports whether info's underlying Unix stat record
// shows the process's current effective uid as owner. In production
// this check runs inside the privilege-elevated critical region
// (spec.md §5), so the effective uid is always 0 there, giving the
// "owned by root" guarantee spec.md §3 and §8 property 4 require; an
// unprivileged test process holds its own uid as euid, so the same
// check is exercisable without running as root.
func isOwnedByCaller(info os.FileInfo) bool {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return int(st.Uid) == os.Geteuid()
}

// Entry mirrors spec.md §3's AuthCacheEntry.
type Entry struct {
	User      string    `json:"user"`
	TTY       string    `json:"tty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Cache manages per-(user,tty) credential cache files under dir, mode
// 0600, owned by root. IsFresh holds a shared flock and Write an
// exclusive flock on the entry file, each only for the duration of its
// own call; a check followed by a write (as Authenticator.Authenticate
// does) is two separate lock holds, not one.
type Cache struct {
	dir string
}

// NewCache builds a Cache rooted at dir, creating it with mode 0700
// if absent.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("authn: create cache dir %s: %w", dir, err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) path(user, tty string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s:%s", user, tty))
}

// IsFresh implements spec.md §8 property 4: true iff the entry file
// exists, was created by root, has mode 0600, and now < expires_at.
func (c *Cache) IsFresh(user, tty string) (bool, error) {
	path := c.path(user, tty)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return false, fmt.Errorf("authn: lock %s: %w", path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Mode().Perm() != 0o600 {
		return false, nil
	}
	if !isOwnedByCaller(info) {
		return false, nil
	}

	var entry Entry
	if err := json.NewDecoder(f).Decode(&entry); err != nil {
		return false, nil
	}
	return time.Now().Before(entry.ExpiresAt), nil
}

// Write creates or refreshes the cache entry for (user, tty) with
// expires_at = now + timeoutSeconds, mode 0600.
func (c *Cache) Write(user, tty string, timeoutSeconds int) error {
	path := c.path(user, tty)
	// A tty such as "pts/0" puts the entry in a subdirectory of dir.
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("authn: create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("authn: open %s: %w", path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("authn: lock %s: %w", path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if err := f.Chmod(0o600); err != nil {
		return err
	}

	now := time.Now()
	entry := Entry{
		User:      user,
		TTY:       tty,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(timeoutSeconds) * time.Second),
	}
	return json.NewEncoder(f).Encode(entry)
}

// Invalidate removes the cache entry for (user, tty); a missing entry
// is not an error.
func (c *Cache) Invalidate(user, tty string) error {
	err := os.Remove(c.path(user, tty))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
