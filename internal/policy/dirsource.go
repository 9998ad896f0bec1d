package policy

import (
	"strings"
	"time"

	"github.com/sandinak/sudosh/internal/dirsvc"
	"github.com/sandinak/sudosh/internal/privilege"
)

// Message types for the sudo-rule subset of the directory-service
// protocol (spec.md §4.2); identity's SSSDSource uses its own type
// constants over the same framing (internal/dirsvc).
const (
	msgTypeSudoRuleRequest  uint32 = 101
	msgTypeSudoRuleResponse uint32 = 102
)

// DirectoryServiceSource queries a local responder socket for
// enterprise sudo rules, per spec.md §4.2's "directory-service
// loader". On any transport failure it returns an empty rule set and
// a non-nil error, so Resolver.Check simply treats this source as
// silent for that invocation rather than failing the whole lookup.
type DirectoryServiceSource struct {
	conn     dirsvc.Conn
	debug    bool
	testMode bool
}

// DirectoryServiceOption configures a DirectoryServiceSource.
type DirectoryServiceOption func(*DirectoryServiceSource)

// WithDebugTrace enables verbose decode tracing (SUDOSH_DEBUG_SSSD).
func WithDebugTrace(enabled bool) DirectoryServiceOption {
	return func(s *DirectoryServiceSource) { s.debug = enabled }
}

// WithTestMode threads config.Config.TestMode through to the
// privilege.Handle Rules acquires around its socket round trip,
// matching the bypass every other privilege.AsRoot/AsUser call site
// honors in test mode.
func WithTestMode(enabled bool) DirectoryServiceOption {
	return func(s *DirectoryServiceSource) { s.testMode = enabled }
}

// NewDirectoryServiceSource dials socketPath, or replays a captured
// exchange from replayPath when non-empty (SUDOSH_SSSD_REPLAY).
func NewDirectoryServiceSource(socketPath, replayPath string, timeout time.Duration, opts ...DirectoryServiceOption) *DirectoryServiceSource {
	var conn dirsvc.Conn
	if replayPath != "" {
		conn = dirsvc.DialReplay(replayPath)
	} else {
		conn = dirsvc.DialSocket(socketPath, timeout)
	}
	s := &DirectoryServiceSource{conn: conn}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements RuleSource.
func (s *DirectoryServiceSource) Name() string { return "directory-service" }

// Rules implements RuleSource. The response is decoded as TLV
// segments: "sudoCommand=...", "sudoRunAsUser=...",
// "sudoOption=!authenticate" (≡ NOPASSWD); a response that does not
// parse into that key=value shape falls back to a heuristic scan that
// recovers bare command-looking tokens.
func (s *DirectoryServiceSource) Rules(user string) ([]Rule, error) {
	handle, err := privilege.AsRoot(s.testMode)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	resp, err := s.conn.RoundTrip(dirsvc.Message{
		Type:     msgTypeSudoRuleRequest,
		Segments: []string{user},
	})
	if err != nil {
		return nil, err
	}
	if resp.Type != msgTypeSudoRuleResponse {
		return nil, nil
	}

	rule := Rule{
		Users:      []string{user},
		Hosts:      []string{"ALL"},
		RunasUsers: []string{"root"},
		Source:     "directory-service",
	}
	decoded := 0
	for _, seg := range resp.Segments {
		key, value, ok := splitTLVSegment(seg)
		if !ok {
			continue
		}
		decoded++
		switch key {
		case "sudoCommand":
			rule.Commands = append(rule.Commands, value)
		case "sudoRunAsUser":
			rule.RunasUsers = []string{value}
		case "sudoOption":
			if value == "!authenticate" {
				rule.NOPASSWD = true
			}
			if value == "authenticate" {
				rule.AUTHENTICATE = true
			}
		case "sudoHost":
			rule.Hosts = []string{value}
		}
	}

	if decoded == 0 {
		recovered := heuristicCommands(resp.Segments)
		if len(recovered) == 0 {
			return nil, nil
		}
		rule.Commands = recovered
		rule.Origin = "heuristic"
	}
	if len(rule.Commands) == 0 {
		return nil, nil
	}
	return []Rule{rule}, nil
}

func splitTLVSegment(seg string) (key, value string, ok bool) {
	idx := strings.Index(seg, "=")
	if idx < 0 {
		return "", "", false
	}
	return seg[:idx], seg[idx+1:], true
}

// heuristicCommands recovers command-looking tokens (absolute paths)
// from loosely structured segments when key=value decoding fails —
// the "last-resort heuristic scan" spec.md §4.2 requires.
func heuristicCommands(segments []string) []string {
	var out []string
	for _, seg := range segments {
		for _, tok := range dirsvc.HeuristicScan([]byte(seg)) {
			if strings.HasPrefix(tok, "/") {
				out = append(out, tok)
			}
		}
	}
	return out
}
