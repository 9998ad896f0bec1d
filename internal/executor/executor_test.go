package executor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sandinak/sudosh/internal/cmdparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_SingleCommandCapturesStdout(t *testing.T) {
	p, err := cmdparse.Parse("/bin/echo hi", cmdparse.Options{})
	require.NoError(t, err)

	var out bytes.Buffer
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	res, err := Run(context.Background(), p, Options{TestMode: true, Stdout: w})
	w.Close()
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	_, _ = out.ReadFrom(r)
	assert.Contains(t, out.String(), "hi")
}

func TestRun_PipelineWiresStagesTogether(t *testing.T) {
	p, err := cmdparse.Parse("/bin/echo hello | /usr/bin/tr a-z A-Z", cmdparse.Options{})
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	res, err := Run(context.Background(), p, Options{TestMode: true, Stdout: w})
	w.Close()
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	var out bytes.Buffer
	_, _ = out.ReadFrom(r)
	assert.Contains(t, out.String(), "HELLO")
}

func TestRun_RedirectOutWritesFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")
	p, err := cmdparse.Parse("/bin/echo redirected > "+target, cmdparse.Options{})
	require.NoError(t, err)

	res, err := Run(context.Background(), p, Options{TestMode: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "redirected")
}

func TestRun_NonZeroExitPropagates(t *testing.T) {
	p, err := cmdparse.Parse("/bin/false", cmdparse.Options{})
	require.NoError(t, err)

	res, err := Run(context.Background(), p, Options{TestMode: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
}
