package authn

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModule struct {
	ok  bool
	err error
}

func (s *stubModule) Name() string { return "stub" }
func (s *stubModule) Authenticate(_ context.Context, _ string) (bool, error) {
	return s.ok, s.err
}

func TestAuthenticator_TestModeBypassesEverything(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	a := New([]Module{&stubModule{ok: false}}, cache, 900, true)

	assert.NoError(t, a.Authenticate(context.Background(), "alice", "pts/0", false))
}

func TestAuthenticator_NOPASSWDBypassesChallenge(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	a := New([]Module{&stubModule{ok: false}}, cache, 900, false)

	assert.NoError(t, a.Authenticate(context.Background(), "alice", "pts/0", true))

	fresh, err := cache.IsFresh("alice", "pts/0")
	require.NoError(t, err)
	assert.False(t, fresh, "NOPASSWD must not create a cache entry")
}

func TestAuthenticator_SuccessfulChallengeWritesCache(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	a := New([]Module{&stubModule{ok: true}}, cache, 900, false)

	require.NoError(t, a.Authenticate(context.Background(), "alice", "pts/1", false))

	fresh, err := cache.IsFresh("alice", "pts/1")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestAuthenticator_FreshCacheSkipsPrompt(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cache.Write("alice", "pts/2", 900))

	calls := 0
	mod := &countingModule{calls: &calls}
	a := New([]Module{mod}, cache, 900, false)

	require.NoError(t, a.Authenticate(context.Background(), "alice", "pts/2", false))
	assert.Equal(t, 0, calls)
}

func TestAuthenticator_AllModulesFail(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	a := New([]Module{&stubModule{ok: false}}, cache, 900, false)

	err = a.Authenticate(context.Background(), "alice", "pts/3", false)
	assert.Error(t, err)
}

type countingModule struct {
	calls *int
}

func (m *countingModule) Name() string { return "counting" }
func (m *countingModule) Authenticate(_ context.Context, _ string) (bool, error) {
	*m.calls++
	return true, nil
}

func TestCache_RejectsWrongMode(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir)
	require.NoError(t, err)
	require.NoError(t, cache.Write("bob", "pts/0", 900))

	path := filepath.Join(dir, "bob:pts/0")
	require.NoError(t, os.Chmod(path, 0o644))

	fresh, err := cache.IsFresh("bob", "pts/0")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestCache_MissingEntryIsNotFreshWithoutError(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)

	fresh, err := cache.IsFresh("nobody", "pts/9")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestCache_Invalidate(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cache.Write("carol", "pts/0", 900))
	require.NoError(t, cache.Invalidate("carol", "pts/0"))

	fresh, err := cache.IsFresh("carol", "pts/0")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestSha512CryptVerify_RoundTrip(t *testing.T) {
	hash := sha512Crypt("correct horse", "abcdefgh", 5000)
	encoded := "$6$abcdefgh$" + hash

	ok, err := sha512CryptVerify("correct horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sha512CryptVerify("wrong password", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSha512CryptVerify_RejectsUnsupportedScheme(t *testing.T) {
	_, err := sha512CryptVerify("x", "$1$abcd$somehash")
	assert.Error(t, err)
}
