package auditlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
	"github.com/rs/zerolog"
)

// syslogWriter abstracts the transport to the local syslog daemon so
// tests can substitute an in-memory sink instead of dialing /dev/log.
type syslogWriter interface {
	Write(b []byte) (int, error)
	Close() error
}

// Logger emits hash-chained AuditEvents to the configured syslog
// facility and, optionally, to a session log file. It is safe for
// concurrent use; spec.md §5 requires per-invocation audit ordering
// to be synchronous, which the mutex below guarantees.
type Logger struct {
	mu           sync.Mutex
	facility     string
	hostname     string
	appname      string
	syslog       syslogWriter
	sessionLog   *os.File
	sessionZ     zerolog.Logger
	prevHash     []byte
	sequence     uint64
}

// Option configures a Logger at construction time.
type Option func(*Logger)

// WithSessionLogPath additionally appends every event, as JSON, to
// the file at path.
func WithSessionLogPath(path string) Option {
	return func(l *Logger) {
		if path == "" {
			return
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return
		}
		l.sessionLog = f
		l.sessionZ = zerolog.New(f).With().Timestamp().Logger()
	}
}

// WithSyslogWriter overrides the syslog transport; used by tests.
func WithSyslogWriter(w syslogWriter) Option {
	return func(l *Logger) { l.syslog = w }
}

// New creates a Logger that emits to the named syslog facility. If
// dialing the local syslog socket fails (e.g. in a test sandbox with
// no /dev/log), the Logger still functions: syslog emission is
// best-effort and session-log / in-memory chaining continue.
func New(facility, appname string, opts ...Option) *Logger {
	hostname, _ := os.Hostname()
	l := &Logger{
		facility: facility,
		hostname: hostname,
		appname:  appname,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.syslog == nil {
		if w, err := dialSyslog(); err == nil {
			l.syslog = w
		}
	}
	return l
}

func dialSyslog() (syslogWriter, error) {
	conn, err := net.Dial("unixgram", "/dev/log")
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close releases the session log file and syslog transport, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	if l.sessionLog != nil {
		err = l.sessionLog.Close()
		l.sessionLog = nil
	}
	if l.syslog != nil {
		if cerr := l.syslog.Close(); cerr != nil && err == nil {
			err = cerr
		}
		l.syslog = nil
	}
	return err
}

// Log appends event to the hash chain, stamps Sequence/PrevHash/
// EventHash, and emits it to syslog and the session log.
func (l *Logger) Log(event *AuditEvent) {
	if event == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	event.Sequence = l.sequence
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	} else {
		event.Timestamp = event.Timestamp.UTC()
	}
	event.PrevHash = hex.EncodeToString(l.prevHash)

	payload, err := marshalForHash(event)
	if err == nil {
		sum := sha256.Sum256(append(l.prevHash, payload...))
		l.prevHash = sum[:]
		event.EventHash = hex.EncodeToString(sum[:])
	}

	l.emitSyslog(event)
	l.emitSessionLog(event)
}

func marshalForHash(event *AuditEvent) ([]byte, error) {
	clone := *event
	clone.EventHash = ""
	return json.Marshal(clone)
}

func (l *Logger) emitSyslog(event *AuditEvent) {
	if l.syslog == nil {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	msg := rfc5424.Message{
		Priority:  rfc5424.Priority(priority(l.facility)),
		Timestamp: event.Timestamp,
		Hostname:  l.hostname,
		AppName:   l.appname,
		ProcessID: fmt.Sprintf("%d", os.Getpid()),
		Message:   body,
	}
	encoded, err := msg.MarshalBinary()
	if err != nil {
		return
	}
	_, _ = l.syslog.Write(encoded)
}

func (l *Logger) emitSessionLog(event *AuditEvent) {
	if l.sessionZ.GetLevel() == zerolog.Disabled && l.sessionLog == nil {
		return
	}
	if l.sessionLog == nil {
		return
	}
	l.sessionZ.Info().Fields(toFields(event)).Send()
}

func toFields(event *AuditEvent) map[string]interface{} {
	m := map[string]interface{}{
		"ts":             event.Timestamp.Format(time.RFC3339Nano),
		"event_type":     event.EventType,
		"seq":            event.Sequence,
		"correlation_id": event.CorrelationID,
		"decision":       event.Decision,
		"prev_hash":      event.PrevHash,
		"event_hash":     event.EventHash,
	}
	if event.User != "" {
		m["user"] = event.User
	}
	if event.TTY != "" {
		m["tty"] = event.TTY
	}
	if event.Host != "" {
		m["host"] = event.Host
	}
	if event.Command != "" {
		m["command"] = event.Command
	}
	if event.TargetUser != "" {
		m["target_user"] = event.TargetUser
	}
	if event.PolicySource != "" {
		m["policy_source"] = event.PolicySource
	}
	if event.Reason != "" {
		m["reason"] = event.Reason
	}
	if event.ExitCode != nil {
		m["exit_code"] = *event.ExitCode
	}
	if event.TestMode != nil {
		m["test_mode"] = *event.TestMode
	}
	if event.AutomationSuspected != nil {
		m["automation_suspected"] = *event.AutomationSuspected
	}
	return m
}
