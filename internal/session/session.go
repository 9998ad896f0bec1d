// Package session implements the interactive READY/READING/
// VALIDATING/EXECUTING state machine and single-command short-circuit
// mode described in spec.md §4.8. Grounded on
// internal/agentexec/server.go's readLoop/done-channel structure,
// adapted from a WebSocket server loop to a stdin-driven REPL.
package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sandinak/sudosh/internal/auditlog"
	"github.com/sandinak/sudosh/internal/authn"
	"github.com/sandinak/sudosh/internal/cmdparse"
	"github.com/sandinak/sudosh/internal/config"
	"github.com/sandinak/sudosh/internal/executor"
	"github.com/sandinak/sudosh/internal/filelock"
	"github.com/sandinak/sudosh/internal/identity"
	"github.com/sandinak/sudosh/internal/policy"
	"github.com/sandinak/sudosh/internal/sudoctx"
	"github.com/sandinak/sudosh/internal/validator"
)

// State is one point in the spec.md §4.8 state machine.
type State int

const (
	Ready State = iota
	Reading
	Validating
	Executing
	Exit
)

const programName = "sudosh"

// Session owns every resolved dependency for one invocation: identity,
// policy, authenticator, audit sink, lock manager, and automation
// detector.
type Session struct {
	Config   *config.Config
	Identity *identity.Resolver
	Policy   *policy.Resolver
	Auth     *authn.Authenticator
	Audit    *auditlog.Logger
	Locks    *filelock.Manager
	Detector AutomationDetector

	User *identity.UserInfo
	TTY  string
	Host string

	Aliases map[string]string
	History []string

	In  io.Reader
	Out io.Writer

	state   State
	authErr int
}

// New builds a Session ready to run either the interactive loop or a
// single command.
func New(cfg *config.Config, res *identity.Resolver, pol *policy.Resolver, auth *authn.Authenticator, audit *auditlog.Logger, locks *filelock.Manager, detector AutomationDetector, user *identity.UserInfo, tty, host string, in io.Reader, out io.Writer) *Session {
	aliases := map[string]string{}
	if cfg.RCAliasImportEnabled && user != nil {
		aliases = loadRCAliases(user.Home)
	}
	return &Session{
		Config: cfg, Identity: res, Policy: pol, Auth: auth, Audit: audit, Locks: locks,
		Detector: detector, User: user, TTY: tty, Host: host,
		Aliases: aliases, In: in, Out: out,
		state: Ready,
	}
}

// RunSingleCommand short-circuits the loop: one pass through the
// pipeline, then returns the command's status, per spec.md §4.8.
func (s *Session) RunSingleCommand(ctx context.Context, line, runasUser string) int {
	code, _ := s.processLine(ctx, line, runasUser)
	return code
}

// RunInteractive drives the READY->READING->VALIDATING->EXECUTING->
// READY loop until EXIT, applying the inactivity timer.
func (s *Session) RunInteractive(ctx context.Context, runasUser string) int {
	reader := bufio.NewReader(s.In)
	lines := make(chan string)
	errs := make(chan error, 1)
	go readLines(reader, lines, errs)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	timeout := time.Duration(s.Config.InactivityTimeout) * time.Second
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}

	for {
		s.state = Reading
		fmt.Fprint(s.Out, "sudosh> ")

		timer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logExit("context cancelled")
			return 0
		case <-timer.C:
			s.logExit("inactivity timeout")
			return 0
		case <-sigCh:
			timer.Stop()
			fmt.Fprintln(s.Out)
			continue
		case line, ok := <-lines:
			timer.Stop()
			if !ok {
				s.logExit("eof")
				return 0
			}
			if handled, code, exit := s.dispatchBuiltin(line); handled {
				if exit {
					s.logExit("builtin exit")
					return code
				}
				continue
			}
			s.History = append(s.History, line)
			s.processLine(ctx, line, runasUser)
			if s.authErr >= 3 {
				s.logExit("authentication failure limit")
				return sudoctx.ExitCode(sudoctx.ErrAuth)
			}
		}
	}
}

func readLines(r *bufio.Reader, lines chan<- string, errs chan<- error) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			close(lines)
			errs <- err
			return
		}
		lines <- trimNewline(line)
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func (s *Session) logExit(reason string) {
	s.Audit.LogPolicyDecision(uuid.NewString(), s.User.Name, s.TTY, s.Host, "", "", "session", auditlog.DecisionExecuted, "session exit: "+reason)
}

// processLine runs one command through parse -> validate -> authn ->
// execute -> audit, per spec.md §4.8/§5.
func (s *Session) processLine(ctx context.Context, line, runasUser string) (int, error) {
	correlationID := uuid.NewString()
	suspected, reason := false, ""
	if s.Detector != nil {
		suspected, reason = s.Detector.Suspected()
	}

	pipeline, err := cmdparse.Parse(line, cmdparse.Options{
		Aliases:          s.Aliases,
		History:          s.History,
		PathDirs:         pathDirs(),
		MaxCommandLength: s.Config.MaxCommandLength,
	})
	if err != nil {
		s.Audit.LogValidationFailure(correlationID, s.User.Name, s.TTY, s.Host, line, err.Error())
		fmt.Fprintln(s.Out, "sudosh:", err)
		return sudoctx.ExitCode(sudoctx.ErrValidate), err
	}

	if runasUser == "" {
		runasUser = "root"
	}

	vctx := validator.Context{
		User:        s.User.Name,
		Host:        s.Host,
		RunasUser:   runasUser,
		HomeDir:     s.User.Home,
		ShellsGroup: s.Config.ShellsGroup,
		IsMember:    s.Identity.IsMemberOfGroup,
		Policy:      s.Policy,
	}
	decision, err := validator.Validate(pipeline, vctx)
	if err != nil {
		s.Audit.LogValidationFailure(correlationID, s.User.Name, s.TTY, s.Host, line, err.Error())
		fmt.Fprintln(s.Out, "sudosh:", err)
		return sudoctx.ExitCode(sudoctx.KindOf(err)), err
	}

	finalArgv := pipeline.Stages[len(pipeline.Stages)-1].Argv
	s.Audit.LogPolicyDecision(correlationID, s.User.Name, s.TTY, s.Host, runasUser, line, "policy", auditlog.DecisionAuthorized, "")

	if err := s.Auth.Authenticate(ctx, s.User.Name, s.TTY, !decision.RequiresAuth); err != nil {
		s.authErr++
		s.Audit.LogAuthResult(correlationID, s.User.Name, s.TTY, s.Host, false)
		fmt.Fprintln(s.Out, "sudosh: authentication failed")
		return sudoctx.ExitCode(sudoctx.ErrAuth), err
	}
	s.Audit.LogAuthResult(correlationID, s.User.Name, s.TTY, s.Host, true)

	lock, err := s.acquireEditLockIfNeeded(finalArgv)
	if err != nil {
		s.Audit.LogValidationFailure(correlationID, s.User.Name, s.TTY, s.Host, line, err.Error())
		fmt.Fprintln(s.Out, "sudosh:", err)
		return sudoctx.ExitCode(sudoctx.ErrLock), err
	}
	if lock != nil {
		defer lock.Release()
	}

	runas, err := s.Identity.GetUser(runasUser)
	if err != nil {
		s.Audit.LogValidationFailure(correlationID, s.User.Name, s.TTY, s.Host, line, err.Error())
		return sudoctx.ExitCode(sudoctx.ErrResolve), err
	}

	s.Audit.LogPreExec(correlationID, s.User.Name, s.TTY, s.Host, runasUser, line, s.Config.TestMode, suspected)
	_ = reason

	result, err := executor.Run(ctx, pipeline, executor.Options{
		Runas:    runas,
		Env:      sanitizedEnv(pipeline, runasUser),
		TestMode: s.Config.TestMode,
	})
	exitCode := 1
	if result != nil {
		exitCode = result.ExitCode
	}
	s.Audit.LogExitStatus(correlationID, s.User.Name, s.TTY, s.Host, runasUser, line, exitCode)
	if err != nil {
		return sudoctx.ExitCode(sudoctx.ErrExec), err
	}
	return exitCode, nil
}

func (s *Session) acquireEditLockIfNeeded(argv []string) (*filelock.Lock, error) {
	path, ok := validator.IsInPlaceEditCommand(argv)
	if !ok || s.Locks == nil {
		return nil, nil
	}
	return s.Locks.Acquire(path, s.User.Name, os.Getpid())
}

func sanitizedEnv(pipeline *cmdparse.Pipeline, runasUser string) []string {
	base := []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin", "HOME=/root", "USER=" + runasUser}
	if len(pipeline.Stages) == 0 {
		return base
	}
	last := pipeline.Stages[len(pipeline.Stages)-1]
	if validator.IsHardenedEditor(last.Argv[0]) {
		return validator.FilterEnv(base, validator.EditorRemovedEnvVars, validator.EditorSanitizedEnv())
	}
	for _, stage := range pipeline.Stages {
		if len(stage.Argv) > 0 && validator.IsPager(stage.Argv[0]) {
			return validator.FilterEnv(base, validator.PagerRemovedEnvVars, validator.PagerSanitizedEnv())
		}
	}
	return base
}

// pathDirs returns the caller's $PATH split into directories, the
// search list "=cmd" expansion (spec.md §4.4 step 4) resolves against.
func pathDirs() []string {
	path := os.Getenv("PATH")
	if path == "" {
		return nil
	}
	return strings.Split(path, string(os.PathListSeparator))
}

// dispatchBuiltin handles spec.md §4.8's internal commands. It
// reports whether line was a built-in, its exit code, and whether the
// session should terminate.
func (s *Session) dispatchBuiltin(line string) (handled bool, code int, exit bool) {
	switch line {
	case "help":
		fmt.Fprintln(s.Out, "built-ins: help, exit, quit, version, rules, history, alias, which <cmd>")
		return true, 0, false
	case "exit", "quit":
		return true, 0, true
	case "version":
		fmt.Fprintln(s.Out, programName)
		return true, 0, false
	case "rules":
		for _, r := range s.Policy.ListRules(s.User.Name) {
			fmt.Fprintf(s.Out, "%v %v=(%v) %v\n", r.Users, r.Hosts, r.RunasUsers, r.Commands)
		}
		return true, 0, false
	case "history":
		for i, h := range s.History {
			fmt.Fprintf(s.Out, "%5d  %s\n", i+1, h)
		}
		return true, 0, false
	case "alias":
		names := make([]string, 0, len(s.Aliases))
		for name := range s.Aliases {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(s.Out, "alias %s=%s\n", name, s.Aliases[name])
		}
		return true, 0, false
	}
	if rest, ok := strings.CutPrefix(line, "which "); ok {
		target := strings.TrimSpace(rest)
		if resolved, found := cmdparse.ResolveInPath(target, pathDirs()); found {
			fmt.Fprintln(s.Out, resolved)
		} else if validator.Classify(target) != validator.Unknown || validator.IsHardenedEditor(target) {
			fmt.Fprintln(s.Out, target)
		} else {
			fmt.Fprintf(s.Out, "which: %s: not found\n", target)
		}
		return true, 0, false
	}
	return false, 0, false
}
