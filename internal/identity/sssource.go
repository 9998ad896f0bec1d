package identity

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sandinak/sudosh/internal/dirsvc"
)

// Message types for the identity subset of the directory-service
// protocol; policy's RuleSource uses its own type constants over the
// same segmented framing (internal/dirsvc).
const (
	msgTypeGetUserRequest  uint32 = 1
	msgTypeGetUserResponse uint32 = 2
	msgTypeGroupRequest    uint32 = 3
	msgTypeGroupResponse   uint32 = 4
)

// SSSDSource resolves identities against a local directory-service
// responder socket, per spec.md §4.1's "directory-service loader".
// It never shells out to an external query binary; a transport
// failure is returned as an error, which the Resolver skips in the
// same way as "not found", falling through to later sources.
type SSSDSource struct {
	conn dirsvc.Conn
}

// NewSSSDSource builds a source dialing the responder socket at
// socketPath, or replaying a captured exchange from replayPath when
// non-empty (offline/test mode per spec.md §4.1).
func NewSSSDSource(socketPath, replayPath string, timeout time.Duration) *SSSDSource {
	if replayPath != "" {
		return &SSSDSource{conn: dirsvc.DialReplay(replayPath)}
	}
	return &SSSDSource{conn: dirsvc.DialSocket(socketPath, timeout)}
}

// Name implements Source.
func (s *SSSDSource) Name() string { return "sss" }

// GetUser implements Source.
func (s *SSSDSource) GetUser(name string) (*UserInfo, bool, error) {
	resp, err := s.conn.RoundTrip(dirsvc.Message{Type: msgTypeGetUserRequest, Segments: []string{name}})
	if err != nil {
		return nil, false, err
	}
	if resp.Type != msgTypeGetUserResponse || len(resp.Segments) < 5 {
		return nil, false, nil
	}
	uid, err1 := strconv.Atoi(resp.Segments[1])
	gid, err2 := strconv.Atoi(resp.Segments[2])
	if err1 != nil || err2 != nil {
		return nil, false, fmt.Errorf("identity: sss malformed uid/gid for %q", name)
	}
	info := &UserInfo{
		Name:  resp.Segments[0],
		UID:   uid,
		GID:   gid,
		Home:  resp.Segments[3],
		Shell: resp.Segments[4],
	}
	if len(resp.Segments) > 5 {
		info.Groups = resp.Segments[5:]
	}
	return info, true, nil
}

// IsMemberOfGroup implements Source.
func (s *SSSDSource) IsMemberOfGroup(userName, group string) (bool, bool, error) {
	resp, err := s.conn.RoundTrip(dirsvc.Message{Type: msgTypeGroupRequest, Segments: []string{userName, group}})
	if err != nil {
		return false, false, err
	}
	if resp.Type != msgTypeGroupResponse || len(resp.Segments) < 1 {
		return false, false, nil
	}
	return resp.Segments[0] == "1", true, nil
}
