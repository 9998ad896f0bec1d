// Package validator implements the multi-layer command safety checks
// described in spec.md §4.5: three-way classification, editor
// hardening, pipeline whitelist, redirection containment, pager
// sanitization, and final policy consultation. Grounded on
// internal/agentexec/policy.go's AutoApprove/RequireApproval/Blocked
// regex-list design, adapted into fixed command-name sets since
// spec.md requires exact basename classification rather than regex
// matching over whole command lines.
package validator

import "path/filepath"

// Class is one of the three disjoint safety classes spec.md §4.5
// names, resolved by the basename of argv[0].
type Class int

const (
	Unknown Class = iota
	AlwaysSafe
	AlwaysBlocked
	ConditionallyBlocked
)

var alwaysSafe = stringSet(
	"ls", "pwd", "id", "whoami", "date", "uptime", "cat", "echo",
	"head", "tail", "wc", "grep", "awk", "sed", "cut", "sort", "uniq",
)

var alwaysBlockedCommands = stringSet(
	"init", "shutdown", "halt", "reboot", "fdisk", "parted", "mkfs",
	"dd", "iptables", "ufw", "su", "sudo", "passwd", "chpasswd",
	"useradd", "userdel", "usermod",
)

var shellEscapeEditors = stringSet("nvim", "emacs", "joe", "mcedit", "ed", "ex")

var conditionallyBlockedShells = stringSet(
	"bash", "sh", "zsh", "csh", "tcsh", "ksh", "fish", "dash",
)

var conditionallyBlockedInterpreters = stringSet(
	"python", "python3", "perl", "ruby", "node", "nodejs",
	"irb", "pry", "ipython", "ipython3",
)

// hardenedEditors are permitted with a sanitized environment
// (spec.md §4.5 "Editor hardening").
var hardenedEditors = stringSet("vi", "vim", "view", "nano", "pico")

// pagers are the programs spec.md §4.5 "Pager sanitization" applies to
// when a pipeline stage feeds one.
var pagers = stringSet("less", "more", "most")

// inPlaceEditCommands names commands whose invocation can trigger the
// file-lock manager (spec.md §4.6): vi, vim, nano, pico, ed and ex;
// sed's -i flag is detected separately by inPlaceSedTarget.
var inPlaceEditCommands = stringSet("vi", "vim", "nano", "pico", "ed", "ex")

func stringSet(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// Basename returns the final path element of argv0, the unit that
// spec.md's classification operates on.
func Basename(argv0 string) string {
	return filepath.Base(argv0)
}

// Classify resolves argv0's basename into one of the three disjoint
// safety classes, or Unknown if it matches none.
func Classify(argv0 string) Class {
	name := Basename(argv0)
	if _, ok := alwaysSafe[name]; ok {
		return AlwaysSafe
	}
	if _, ok := alwaysBlockedCommands[name]; ok {
		return AlwaysBlocked
	}
	if _, ok := shellEscapeEditors[name]; ok {
		return AlwaysBlocked
	}
	if _, ok := conditionallyBlockedShells[name]; ok {
		return ConditionallyBlocked
	}
	if _, ok := conditionallyBlockedInterpreters[name]; ok {
		return ConditionallyBlocked
	}
	return Unknown
}

// IsHardenedEditor reports whether argv0's basename is one of the
// editors permitted only with a sanitized environment.
func IsHardenedEditor(argv0 string) bool {
	_, ok := hardenedEditors[Basename(argv0)]
	return ok
}

// IsPager reports whether argv0's basename is a pager subject to
// spec.md §4.5's sanitized environment.
func IsPager(argv0 string) bool {
	_, ok := pagers[Basename(argv0)]
	return ok
}

// IsInPlaceEditCommand reports whether argv0/argv triggers the
// file-lock manager per spec.md §4.6.
func IsInPlaceEditCommand(argv []string) (path string, ok bool) {
	if len(argv) == 0 {
		return "", false
	}
	name := Basename(argv[0])
	if _, found := inPlaceEditCommands[name]; found && len(argv) >= 2 {
		return argv[len(argv)-1], true
	}
	if name == "sed" {
		return inPlaceSedTarget(argv)
	}
	return "", false
}

// inPlaceSedTarget detects "sed -i ... file" invocations.
func inPlaceSedTarget(argv []string) (string, bool) {
	hasInPlace := false
	for _, tok := range argv[1:] {
		if tok == "-i" || len(tok) > 2 && tok[:2] == "-i" {
			hasInPlace = true
		}
	}
	if !hasInPlace || len(argv) < 2 {
		return "", false
	}
	return argv[len(argv)-1], true
}
