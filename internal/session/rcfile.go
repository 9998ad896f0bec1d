package session

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// rcAliasFileName is the per-user rc file consulted for alias import
// (spec.md §4.4), analogous to a shell's startup file but read only
// for its "alias name=value" lines — nothing else in it is executed.
const rcAliasFileName = ".sudoshrc"

// loadRCAliases reads "alias name=value" lines from home/.sudoshrc and
// returns them as a map, imported once at session start and frozen
// (non-recursive: an alias's value is never itself alias-expanded
// here). A missing rc file is not an error.
func loadRCAliases(home string) map[string]string {
	aliases := map[string]string{}
	if home == "" {
		return aliases
	}
	f, err := os.Open(filepath.Join(home, rcAliasFileName))
	if err != nil {
		return aliases
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "alias ") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, "alias "))
		name, value, ok := strings.Cut(rest, "=")
		if !ok || name == "" {
			continue
		}
		aliases[strings.TrimSpace(name)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return aliases
}
