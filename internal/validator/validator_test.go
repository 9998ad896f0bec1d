package validator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sandinak/sudosh/internal/cmdparse"
	"github.com/sandinak/sudosh/internal/policy"
	"github.com/sandinak/sudosh/internal/sudoctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allowAllResolver(t *testing.T) *policy.Resolver {
	t.Helper()
	dir := t.TempDir()
	main := filepath.Join(dir, "sudoers")
	dropin := filepath.Join(dir, "sudoers.d")
	require.NoError(t, os.MkdirAll(dropin, 0o755))
	require.NoError(t, os.WriteFile(main, []byte("alice ALL=(ALL) ALL\n"), 0o644))
	return policy.NewResolver(policy.NewLocalFileSource(main, dropin))
}

func baseCtx(t *testing.T) Context {
	return Context{
		User:        "alice",
		Host:        "h",
		RunasUser:   "root",
		HomeDir:     t.TempDir(),
		ShellsGroup: "sudosh-shells",
		Policy:      allowAllResolver(t),
	}
}

func TestValidate_SafeCommandAllowed(t *testing.T) {
	p, err := cmdparse.Parse("echo hi", cmdparse.Options{})
	require.NoError(t, err)

	decision, err := Validate(p, baseCtx(t))
	require.NoError(t, err)
	assert.True(t, decision.Allow)
}

func TestValidate_AlwaysBlockedRejected(t *testing.T) {
	p, err := cmdparse.Parse("su root", cmdparse.Options{})
	require.NoError(t, err)

	_, err = Validate(p, baseCtx(t))
	require.Error(t, err)
	assert.Equal(t, sudoctx.ErrValidate, sudoctx.KindOf(err))
}

func TestValidate_PipelineNonTerminalMustBeSafe(t *testing.T) {
	p, err := cmdparse.Parse("cat /etc/passwd | grep root", cmdparse.Options{})
	require.NoError(t, err)
	_, err = Validate(p, baseCtx(t))
	assert.NoError(t, err)

	p2, err := cmdparse.Parse("bash | grep root", cmdparse.Options{})
	require.NoError(t, err)
	_, err = Validate(p2, baseCtx(t))
	require.Error(t, err)
	assert.Equal(t, sudoctx.ErrValidate, sudoctx.KindOf(err))
}

func TestValidate_RedirectContainmentAcceptsTmp(t *testing.T) {
	p, err := cmdparse.Parse("echo hi > /tmp/foo", cmdparse.Options{})
	require.NoError(t, err)
	_, err = Validate(p, baseCtx(t))
	assert.NoError(t, err)
}

func TestValidate_RedirectContainmentRejectsEtc(t *testing.T) {
	p, err := cmdparse.Parse("echo hi > /etc/ls.txt", cmdparse.Options{})
	require.NoError(t, err)
	_, err = Validate(p, baseCtx(t))
	require.Error(t, err)
	assert.Equal(t, sudoctx.ErrValidate, sudoctx.KindOf(err))
}

func TestValidate_ConditionallyBlockedRequiresGroupOrPolicy(t *testing.T) {
	ctx := baseCtx(t)
	p, err := cmdparse.Parse("python3 script.py", cmdparse.Options{})
	require.NoError(t, err)

	_, err = Validate(p, ctx)
	require.Error(t, err)

	ctx.IsMember = func(user, group string) (bool, error) { return user == "alice" && group == "sudosh-shells", nil }
	decision, err := Validate(p, ctx)
	require.NoError(t, err)
	assert.True(t, decision.Allow)
}

func TestValidate_PolicyDenialMapsToEPolicy(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "sudoers")
	dropin := filepath.Join(dir, "sudoers.d")
	require.NoError(t, os.MkdirAll(dropin, 0o755))
	require.NoError(t, os.WriteFile(main, []byte("alice ALL=(ALL) /bin/ls\n"), 0o644))
	ctx := baseCtx(t)
	ctx.Policy = policy.NewResolver(policy.NewLocalFileSource(main, dropin))

	p, err := cmdparse.Parse("echo hi", cmdparse.Options{})
	require.NoError(t, err)
	_, err = Validate(p, ctx)
	require.Error(t, err)
	assert.Equal(t, sudoctx.ErrPolicy, sudoctx.KindOf(err))
}

func TestContainmentCheck_HomeDirectoryAllowed(t *testing.T) {
	home := t.TempDir()
	ok, _ := ContainmentCheck(filepath.Join(home, "notes.txt"), home)
	assert.True(t, ok)
}

func TestContainmentCheck_RejectsTraversalOutsideHome(t *testing.T) {
	// A home outside /tmp and /var/tmp, so that leaving it does not land
	// in another permitted prefix.
	home := "/home/alice"
	ok, _ := ContainmentCheck(filepath.Join(home, "..", "outside.txt"), home)
	assert.False(t, ok)
}

func TestClassify_KnownSets(t *testing.T) {
	assert.Equal(t, AlwaysSafe, Classify("/bin/ls"))
	assert.Equal(t, AlwaysBlocked, Classify("sudo"))
	assert.Equal(t, ConditionallyBlocked, Classify("zsh"))
	assert.Equal(t, Unknown, Classify("some-custom-tool"))
}

func TestIsInPlaceEditCommand_DetectsSedDashI(t *testing.T) {
	path, ok := IsInPlaceEditCommand([]string{"sed", "-i", "s/a/b/", "/tmp/file"})
	assert.True(t, ok)
	assert.Equal(t, "/tmp/file", path)

	_, ok = IsInPlaceEditCommand([]string{"sed", "s/a/b/", "/tmp/file"})
	assert.False(t, ok)
}

func TestFilterEnv_RemovesAndOverrides(t *testing.T) {
	base := []string{"VIMRC=/home/alice/.vimrc", "PATH=/usr/bin", "VISUAL=vim"}
	out := FilterEnv(base, []string{"VIMRC"}, []string{"VISUAL=/bin/false"})
	assert.NotContains(t, out, "VIMRC=/home/alice/.vimrc")
	assert.Contains(t, out, "PATH=/usr/bin")
	assert.Contains(t, out, "VISUAL=/bin/false")
}
