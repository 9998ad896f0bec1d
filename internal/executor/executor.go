// Package executor implements the fork/exec engine described in
// spec.md §4.7: per-stage pipe wiring, redirection, privilege drop,
// sanitized environment, and signal forwarding. Grounded on
// internal/agentexec/server.go's request lifecycle shape (context
// cancellation, deferred cleanup) transplanted from WebSocket
// round-trips onto child-process round-trips; internal/privilege
// supplies the identity-drop primitive this file calls into.
package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/sandinak/sudosh/internal/cmdparse"
	"github.com/sandinak/sudosh/internal/identity"
	"github.com/sandinak/sudosh/internal/privilege"
	"github.com/sandinak/sudosh/internal/validator"
)

// Result is the outcome of running a Pipeline.
type Result struct {
	ExitCode int
}

// Options configures Run.
type Options struct {
	Runas    *identity.UserInfo
	Env      []string
	TestMode bool
	Stdin    *os.File
	Stdout   *os.File
	Stderr   *os.File
}

// Run executes pipeline's stages wired together with N-1 pipes,
// dropping privilege to Runas before each exec, per spec.md §4.7.
func Run(ctx context.Context, pipeline *cmdparse.Pipeline, opts Options) (*Result, error) {
	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	n := len(pipeline.Stages)
	cmds := make([]*exec.Cmd, n)
	// pipePairs holds the parent's copies of every inter-stage pipe
	// end; these must be closed right after Start (once the children
	// have their own dup'd descriptors), not deferred to function
	// return — os/exec never closes a caller-supplied *os.File, so
	// holding the write end open past Start means the downstream
	// stage's read never sees EOF and its Wait blocks forever.
	var pipePairs []*os.File
	// deferredClosers holds fds whose lifetime needs to outlive Start
	// (the opened redirect target), closed at function return.
	var deferredClosers []func()
	defer func() {
		for _, c := range deferredClosers {
			c()
		}
	}()

	var umaskEditor bool
	if n > 0 {
		last := pipeline.Stages[n-1].Argv
		if len(last) > 0 && validator.IsHardenedEditor(last[0]) {
			umaskEditor = true
		}
	}

	var upstream *os.File
	for i, stage := range pipeline.Stages {
		cmd := exec.CommandContext(ctx, stage.Argv[0], stage.Argv[1:]...)
		cmd.Env = opts.Env
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: i == 0, Pgid: 0}

		if upstream != nil {
			cmd.Stdin = upstream
		} else {
			cmd.Stdin = stdin
		}

		isTerminal := i == n-1
		switch {
		case isTerminal && stage.Redirect.Kind != cmdparse.RedirectNone:
			f, err := openRedirectTarget(stage.Redirect)
			if err != nil {
				return nil, err
			}
			deferredClosers = append(deferredClosers, func() { f.Close() })
			if stage.Redirect.Kind == cmdparse.RedirectIn {
				cmd.Stdin = f
			} else {
				cmd.Stdout = f
			}
			if stage.Redirect.Kind != cmdparse.RedirectIn {
				cmd.Stderr = stderr
			}
		case isTerminal:
			cmd.Stdout = stdout
			cmd.Stderr = stderr
		default:
			r, w, err := os.Pipe()
			if err != nil {
				return nil, fmt.Errorf("executor: create pipe: %w", err)
			}
			cmd.Stdout = w
			cmd.Stderr = stderr
			pipePairs = append(pipePairs, r, w)
			upstream = r
		}

		cmds[i] = cmd
	}

	handle, err := dropPrivilege(opts.Runas, opts.TestMode)
	if err != nil {
		return nil, fmt.Errorf("executor: privilege drop: %w", err)
	}
	defer handle.Release()

	restoreUmask := applyEditorUmask(umaskEditor)
	defer restoreUmask()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP)
	signal.Ignore(syscall.SIGPIPE, syscall.SIGTSTP)
	defer signal.Stop(sigCh)

	for _, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			for _, f := range pipePairs {
				f.Close()
			}
			return nil, fmt.Errorf("executor: start %s: %w", cmd.Path, err)
		}
	}

	// Every stage has its own dup'd descriptors now; the parent's
	// copies must go before Wait, not after, or a downstream reader
	// never observes EOF from an upstream writer that has exited.
	for _, f := range pipePairs {
		f.Close()
	}

	foregroundPGID := cmds[0].Process.Pid
	done := make(chan struct{})
	go forwardSignals(sigCh, foregroundPGID, done)
	defer close(done)

	var lastErr error
	var lastCode int
	for _, cmd := range cmds {
		err := cmd.Wait()
		lastCode = exitCodeOf(err)
		if err != nil {
			lastErr = err
		}
	}
	_ = lastErr

	return &Result{ExitCode: lastCode}, nil
}

func forwardSignals(sigCh <-chan os.Signal, pgid int, done <-chan struct{}) {
	for {
		select {
		case sig := <-sigCh:
			_ = syscall.Kill(-pgid, sig.(syscall.Signal))
		case <-done:
			return
		}
	}
}

func dropPrivilege(runas *identity.UserInfo, testMode bool) (*privilege.Handle, error) {
	if runas == nil {
		return privilege.AsRoot(testMode)
	}
	return privilege.AsUser(runas.UID, runas.GID, runas.GroupGIDs, testMode)
}

// applyEditorUmask sets EditorUmask for the duration of a hardened-editor
// invocation (spec.md §4.5), returning a func that restores the prior
// umask. A no-op when editor is false.
func applyEditorUmask(editor bool) func() {
	if !editor {
		return func() {}
	}
	prev := syscall.Umask(validator.EditorUmask)
	return func() { syscall.Umask(prev) }
}

func openRedirectTarget(r cmdparse.Redirect) (*os.File, error) {
	switch r.Kind {
	case cmdparse.RedirectOut:
		return os.OpenFile(r.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	case cmdparse.RedirectAppend:
		return os.OpenFile(r.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	case cmdparse.RedirectIn:
		return os.OpenFile(r.Path, os.O_RDONLY, 0)
	default:
		return nil, fmt.Errorf("executor: no redirect to open")
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}
	return 1
}
