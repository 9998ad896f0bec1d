package identity

import (
	"bufio"
	"os"
	"strings"
)

// SourceNames returns the ordered list of name-service source
// identifiers ("files", "sss", ...) declared for db (typically
// "passwd" or "group") in an /etc/nsswitch.conf-formatted file at
// path. If the file cannot be opened, it falls back to "files" only,
// per spec.md §4.1.
func SourceNames(path, db string) []string {
	f, err := os.Open(path)
	if err != nil {
		return []string{"files"}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 1 {
			continue
		}
		key := strings.TrimSuffix(fields[0], ":")
		if !strings.EqualFold(key, db) {
			continue
		}
		var names []string
		for _, tok := range fields[1:] {
			if strings.HasPrefix(tok, "[") {
				continue
			}
			names = append(names, tok)
		}
		if len(names) == 0 {
			return []string{"files"}
		}
		return names
	}
	return []string{"files"}
}
