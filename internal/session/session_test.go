package session

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sandinak/sudosh/internal/auditlog"
	"github.com/sandinak/sudosh/internal/authn"
	"github.com/sandinak/sudosh/internal/config"
	"github.com/sandinak/sudosh/internal/filelock"
	"github.com/sandinak/sudosh/internal/identity"
	"github.com/sandinak/sudosh/internal/policy"
	"github.com/sandinak/sudosh/internal/sudoctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type acceptModule struct{ calls int }

func (m *acceptModule) Name() string { return "accept" }
func (m *acceptModule) Authenticate(_ context.Context, _ string) (bool, error) {
	m.calls++
	return true, nil
}

type fixture struct {
	t       *testing.T
	dir     string
	home    string
	sess    *Session
	accept  *acceptModule
	sudoers string
}

func newFixture(t *testing.T, sudoersBody string) *fixture {
	t.Helper()
	dir := t.TempDir()
	home := filepath.Join(dir, "home-alice")
	require.NoError(t, os.MkdirAll(home, 0o755))

	passwd := filepath.Join(dir, "passwd")
	group := filepath.Join(dir, "group")
	require.NoError(t, os.WriteFile(passwd, []byte(
		"root:x:0:0:root:/root:/bin/bash\n"+
			"alice:x:1000:1000:alice:"+home+":/bin/bash\n"), 0o644))
	require.NoError(t, os.WriteFile(group, []byte(
		"wheel:x:10:alice\n"+
			"sudosh-shells:x:11:\n"), 0o644))

	idRes := identity.NewResolver(identity.NewFileSource(passwd, group))

	sudoersPath := filepath.Join(dir, "sudoers")
	dropin := filepath.Join(dir, "sudoers.d")
	require.NoError(t, os.MkdirAll(dropin, 0o755))
	require.NoError(t, os.WriteFile(sudoersPath, []byte(sudoersBody), 0o644))
	polRes := policy.NewResolver(policy.NewLocalFileSource(sudoersPath, dropin))
	polRes.IsMember = func(user, group string) bool {
		member, err := idRes.IsMemberOfGroup(user, group)
		return err == nil && member
	}

	cache, err := authn.NewCache(filepath.Join(dir, "auth-cache"))
	require.NoError(t, err)
	accept := &acceptModule{}
	authenticator := authn.New([]authn.Module{accept}, cache, 900, false)

	locks, err := filelock.NewManager(filepath.Join(dir, "locks"))
	require.NoError(t, err)

	logger := auditlog.New("auth", "sudosh", auditlog.WithSessionLogPath(filepath.Join(dir, "session.log")))
	t.Cleanup(func() { logger.Close() })

	cfg := config.Default()
	cfg.ShellsGroup = "sudosh-shells"

	user, err := idRes.GetUser("alice")
	require.NoError(t, err)

	var out bytes.Buffer
	sess := New(cfg, idRes, polRes, authenticator, logger, locks, nil, user, "/dev/pts/0", "host1", &bytes.Buffer{}, &out)

	return &fixture{t: t, dir: dir, home: home, sess: sess, accept: accept}
}

// S1: wheel member, requires_auth, prompt accepted, command runs.
func TestSession_S1_RequiresAuthThenRuns(t *testing.T) {
	f := newFixture(t, "%wheel ALL=(ALL) ALL\n")
	code := f.sess.RunSingleCommand(context.Background(), "/bin/echo hi", "root")
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, f.accept.calls)
}

// S2: NOPASSWD rule skips the challenge entirely.
func TestSession_S2_NopasswdSkipsChallenge(t *testing.T) {
	f := newFixture(t, "alice ALL=(ALL) NOPASSWD: ALL\n")
	code := f.sess.RunSingleCommand(context.Background(), "/bin/echo ok", "root")
	assert.Equal(t, 0, code)
	assert.Equal(t, 0, f.accept.calls)
}

// S3: pipeline with a contained redirect is permitted and writes the file.
func TestSession_S3_PipelineWithContainedRedirectWrites(t *testing.T) {
	f := newFixture(t, "alice ALL=(ALL) NOPASSWD: ALL\n")
	target := filepath.Join(os.TempDir(), "sudosh-s3-foo")
	defer os.Remove(target)

	code := f.sess.RunSingleCommand(context.Background(), "/bin/echo root | grep root > "+target, "root")
	assert.Equal(t, 0, code)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "root")
}

// S4: redirect target outside the allowed prefixes is rejected before exec.
func TestSession_S4_RedirectOutsideAllowedPrefixRejected(t *testing.T) {
	f := newFixture(t, "alice ALL=(ALL) NOPASSWD: ALL\n")
	code := f.sess.RunSingleCommand(context.Background(), "/bin/ls > /etc/ls.txt", "root")
	assert.Equal(t, sudoctx.ExitCode(sudoctx.ErrValidate), code)
	_, statErr := os.Stat("/etc/ls.txt")
	assert.True(t, os.IsNotExist(statErr))
}

// S5: semicolon chaining is rejected at the operator scan, before anything runs.
func TestSession_S5_SemicolonChainingRejected(t *testing.T) {
	f := newFixture(t, "alice ALL=(ALL) NOPASSWD: ALL\n")
	code := f.sess.RunSingleCommand(context.Background(), "echo a; rm -rf /", "root")
	assert.Equal(t, sudoctx.ExitCode(sudoctx.ErrValidate), code)
	assert.Equal(t, 0, f.accept.calls)
}

// S6: a second concurrent editor invocation on the same file is refused
// the lock while the first still holds it.
func TestSession_S6_ConcurrentEditLockConflict(t *testing.T) {
	f := newFixture(t, "alice ALL=(ALL) NOPASSWD: ALL\n")
	target := filepath.Join(f.home, "hosts")
	require.NoError(t, os.WriteFile(target, []byte("127.0.0.1 localhost\n"), 0o644))

	first, err := f.sess.Locks.Acquire(target, "alice", os.Getpid())
	require.NoError(t, err)
	defer first.Release()

	_, err = f.sess.Locks.Acquire(target, "alice", os.Getpid())
	require.Error(t, err)
	var conflict *filelock.Conflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "alice", conflict.Owner)
}

func TestSession_Builtin_ExitTerminatesLoop(t *testing.T) {
	f := newFixture(t, "alice ALL=(ALL) NOPASSWD: ALL\n")
	handled, code, exit := f.sess.dispatchBuiltin("exit")
	assert.True(t, handled)
	assert.True(t, exit)
	assert.Equal(t, 0, code)
}

func TestSession_Builtin_RulesListsAggregatedRules(t *testing.T) {
	f := newFixture(t, "alice ALL=(ALL) NOPASSWD: /bin/ls\n")
	var out bytes.Buffer
	f.sess.Out = &out
	handled, _, exit := f.sess.dispatchBuiltin("rules")
	assert.True(t, handled)
	assert.False(t, exit)
	assert.Contains(t, out.String(), "/bin/ls")
}
