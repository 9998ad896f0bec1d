package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, defaultAuthCache, cfg.AuthCacheTimeout)
	assert.Equal(t, defaultInactivity, cfg.InactivityTimeout)
	assert.Equal(t, defaultMaxCmdLen, cfg.MaxCommandLength)
	assert.Equal(t, defaultLogFacility, cfg.LogFacility)
	assert.False(t, cfg.TestMode)
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sudosh.conf")
	contents := "auth_cache_timeout=60\n" +
		"inactivity_timeout=120\n" +
		"max_command_length=8192\n" +
		"log_facility=local2\n" +
		"verbose_mode=true\n" +
		"# a comment\n" +
		"unknown_key=ignored\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.AuthCacheTimeout)
	assert.Equal(t, 120, cfg.InactivityTimeout)
	assert.Equal(t, 8192, cfg.MaxCommandLength)
	assert.Equal(t, "local2", cfg.LogFacility)
	assert.True(t, cfg.VerboseMode)
}

func TestLoad_InvalidValueRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sudosh.conf")
	require.NoError(t, os.WriteFile(path, []byte("auth_cache_timeout=999999\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RelativeCacheDirectoryRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sudosh.conf")
	require.NoError(t, os.WriteFile(path, []byte("cache_directory=relative/path\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesTestMode(t *testing.T) {
	t.Setenv("SUDOSH_TEST_MODE", "true")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.TestMode)
}

func TestLoad_EnvOverridesSudoersPaths(t *testing.T) {
	t.Setenv("SUDOSH_SUDOERS_PATH", "/tmp/custom-sudoers")
	t.Setenv("SUDOSH_SUDOERS_DIR", "/tmp/custom-sudoers.d")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-sudoers", cfg.SudoersPath)
	assert.Equal(t, "/tmp/custom-sudoers.d", cfg.SudoersDir)
}
