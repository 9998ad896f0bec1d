package cmdparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_SimpleCommand(t *testing.T) {
	p, err := Parse("echo hi", Options{})
	require.NoError(t, err)
	require.Len(t, p.Stages, 1)
	assert.Equal(t, []string{"echo", "hi"}, p.Stages[0].Argv)
}

func TestParse_QuotedArgumentsPreserveSpaces(t *testing.T) {
	p, err := Parse(`echo "hello world"`, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hello world"}, p.Stages[0].Argv)
}

func TestParse_PipelineTwoStages(t *testing.T) {
	p, err := Parse("cat /etc/passwd | grep root", Options{})
	require.NoError(t, err)
	require.Len(t, p.Stages, 2)
	assert.Equal(t, []string{"cat", "/etc/passwd"}, p.Stages[0].Argv)
	assert.Equal(t, []string{"grep", "root"}, p.Stages[1].Argv)
}

func TestParse_TerminalRedirectAppend(t *testing.T) {
	p, err := Parse("cat /etc/passwd | grep root > /tmp/foo", Options{})
	require.NoError(t, err)
	last := p.Stages[len(p.Stages)-1]
	assert.Equal(t, RedirectOut, last.Redirect.Kind)
	assert.Equal(t, "/tmp/foo", last.Redirect.Path)

	p2, err := Parse("echo hi >> /tmp/foo", Options{})
	require.NoError(t, err)
	assert.Equal(t, RedirectAppend, p2.Stages[0].Redirect.Kind)
}

func TestParse_NonTerminalRedirectRejected(t *testing.T) {
	_, err := Parse("echo hi > /tmp/x | cat", Options{})
	assert.Error(t, err)
}

func TestParse_RejectsSemicolonChaining(t *testing.T) {
	_, err := Parse("echo a; rm -rf /", Options{})
	assert.Error(t, err)
}

func TestParse_RejectsBackgroundAndBooleanOperators(t *testing.T) {
	for _, line := range []string{"echo a &", "echo a && echo b", "echo a || echo b", "echo `whoami`", "echo $(whoami)"} {
		_, err := Parse(line, Options{})
		assert.Errorf(t, err, "expected rejection for %q", line)
	}
}

func TestParse_AliasExpansion(t *testing.T) {
	p, err := Parse("ll /tmp", Options{Aliases: map[string]string{"ll": "ls -la"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ls", "-la", "/tmp"}, p.Stages[0].Argv)
}

func TestParse_HistoryExpansionByIndex(t *testing.T) {
	p, err := Parse("!1", Options{History: []string{"echo first"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "first"}, p.Stages[0].Argv)
}

func TestParse_HistoryExpansionByPrefix(t *testing.T) {
	p, err := Parse("!ech", Options{History: []string{"echo first", "ls -la"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "first"}, p.Stages[0].Argv)
}

func TestParse_BudgetCheckRejectsOverlong(t *testing.T) {
	_, err := Parse("echo aaaaaaaaaaaaaaaaaaaa", Options{MaxCommandLength: 10})
	assert.Error(t, err)
}

func TestParse_UnterminatedQuoteErrors(t *testing.T) {
	_, err := Parse(`echo "unterminated`, Options{})
	assert.Error(t, err)
}

func TestParse_EqualsCmdStaysLiteralWhenUnresolved(t *testing.T) {
	p, err := Parse("=nonexistent-binary arg", Options{PathDirs: []string{"/usr/bin"}})
	require.NoError(t, err)
	assert.Equal(t, "=nonexistent-binary", p.Stages[0].Argv[0])
}
