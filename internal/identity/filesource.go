package identity

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FileSource resolves identities from local /etc/passwd and
// /etc/group files. Grounded on cmd/pulse-sensor-proxy/auth.go's
// loadSubIDRanges line-oriented colon-file parsing.
type FileSource struct {
	passwdPath string
	groupPath  string
}

// NewFileSource builds a FileSource reading the given passwd/group
// files.
func NewFileSource(passwdPath, groupPath string) *FileSource {
	return &FileSource{passwdPath: passwdPath, groupPath: groupPath}
}

// Name implements Source.
func (s *FileSource) Name() string { return "files" }

// GetUser implements Source by scanning passwdPath for a matching
// username, then filling Groups from groupPath.
func (s *FileSource) GetUser(name string) (*UserInfo, bool, error) {
	f, err := os.Open(s.passwdPath)
	if err != nil {
		return nil, false, fmt.Errorf("identity: open %s: %w", s.passwdPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 || fields[0] != name {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		gid, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}
		info := &UserInfo{
			Name:  fields[0],
			UID:   uid,
			GID:   gid,
			Home:  fields[5],
			Shell: fields[6],
		}
		info.Groups, info.GroupGIDs = s.groupsForUser(name, gid)
		return info, true, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

// groupsForUser scans groupPath for every group whose member list
// contains name, plus the primary group matching primaryGID, returning
// both the group names and their numeric GIDs in matching order.
func (s *FileSource) groupsForUser(name string, primaryGID int) ([]string, []int) {
	var groups []string
	var gids []int
	f, err := os.Open(s.groupPath)
	if err != nil {
		return groups, gids
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 4 {
			continue
		}
		gid, err := strconv.Atoi(fields[2])
		isPrimary := err == nil && gid == primaryGID
		isMember := false
		for _, member := range strings.Split(fields[3], ",") {
			if member == name {
				isMember = true
				break
			}
		}
		if isPrimary || isMember {
			groups = append(groups, fields[0])
			if err == nil {
				gids = append(gids, gid)
			}
		}
	}
	return groups, gids
}

// IsMemberOfGroup implements Source by scanning groupPath for group
// and checking its member list and GID against the user's record.
func (s *FileSource) IsMemberOfGroup(userName, group string) (bool, bool, error) {
	f, err := os.Open(s.groupPath)
	if err != nil {
		return false, false, fmt.Errorf("identity: open %s: %w", s.groupPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 4 || fields[0] != group {
			continue
		}
		for _, member := range strings.Split(fields[3], ",") {
			if member == userName {
				return true, true, nil
			}
		}
		if info, ok, _ := s.GetUser(userName); ok {
			if gid, err := strconv.Atoi(fields[2]); err == nil && gid == info.GID {
				return true, true, nil
			}
		}
		return false, true, nil
	}
	if err := scanner.Err(); err != nil {
		return false, false, err
	}
	return false, false, nil
}
