package sudoctx

import (
	"github.com/google/uuid"
)

// Invocation groups the identity and bookkeeping of a single command
// or session. No other package in this module constructs one:
// cmd/sudosh and internal/session pass the caller name, tty, host and
// test-mode flag to each component as separate values.
type Invocation struct {
	CorrelationID string
	User          string
	TTY           string
	Host          string
	TestMode      bool
}

// NewInvocation returns an Invocation with a fresh correlation id.
func NewInvocation(user, tty, host string, testMode bool) *Invocation {
	return &Invocation{
		CorrelationID: uuid.NewString(),
		User:          user,
		TTY:           tty,
		Host:          host,
		TestMode:      testMode,
	}
}
