package validator

import (
	"path/filepath"
	"strings"
)

// blockedPrefixes are system directories spec.md §4.5 rejects as
// redirection targets regardless of user mode bits.
var blockedPrefixes = []string{"/etc", "/usr", "/var/log", "/proc", "/sys", "/dev"}

// ContainmentCheck validates a redirection target against spec.md
// §4.5/§8 property 3: after canonicalization, the path must have a
// prefix in {/tmp/, /var/tmp/, <home>/} and never traverse upward
// past that prefix.
func ContainmentCheck(target, homeDir string) (bool, string) {
	canonical := canonicalizeForContainment(target)

	for _, blocked := range blockedPrefixes {
		if withinPrefix(canonical, blocked) {
			return false, "redirection target " + canonical + " is within a system directory"
		}
	}

	allowed := []string{"/tmp", "/var/tmp"}
	if homeDir != "" {
		allowed = append(allowed, strings.TrimRight(homeDir, "/"))
	}
	for _, prefix := range allowed {
		if withinPrefix(canonical, prefix) {
			return true, ""
		}
	}
	return false, "redirection target " + canonical + " is outside the permitted directories"
}

// canonicalizeForContainment normalizes target without requiring the
// file to already exist (spec.md's redirect targets are typically
// created by the write itself, so filepath.EvalSymlinks would fail on
// a not-yet-existing file); it resolves symlinks on the existing
// parent directory chain when possible and Cleans the rest.
func canonicalizeForContainment(target string) string {
	if !filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	dir := filepath.Dir(target)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolved, filepath.Base(target))
	}
	return filepath.Clean(target)
}

// withinPrefix reports whether path is prefix or a descendant of it,
// refusing a textual-only prefix match (e.g. "/tmpfoo" must not match
// prefix "/tmp").
func withinPrefix(path, prefix string) bool {
	prefix = strings.TrimRight(prefix, "/")
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
