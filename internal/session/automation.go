package session

import (
	"os"
	"strings"
)

// AutomationDetector is a pluggable predicate feeding automation
// suspicion into the audit log context; it is never consulted for
// authorization decisions (spec.md §1 scopes it out of the core
// mediation pipeline).
type AutomationDetector interface {
	Suspected() (bool, string)
}

// DefaultAutomationDetector implements the heuristic spec.md's
// environment-variable table names: any ANSIBLE_* variable present,
// or no controlling tty attached to stdin.
type DefaultAutomationDetector struct {
	Environ    []string
	HasTTY     bool
	ForceValue *bool
}

// NewDefaultAutomationDetector builds a detector reading os.Environ()
// and the caller-supplied tty presence.
func NewDefaultAutomationDetector(hasTTY bool) *DefaultAutomationDetector {
	return &DefaultAutomationDetector{Environ: os.Environ(), HasTTY: hasTTY}
}

// Suspected implements AutomationDetector.
func (d *DefaultAutomationDetector) Suspected() (bool, string) {
	if d.ForceValue != nil {
		if *d.ForceValue {
			return true, "forced via --ansible-force"
		}
		return false, ""
	}
	for _, kv := range d.Environ {
		if strings.HasPrefix(kv, "ANSIBLE_") {
			return true, "ANSIBLE_* environment variable present"
		}
	}
	if !d.HasTTY {
		return true, "no controlling tty on stdin"
	}
	return false, ""
}
