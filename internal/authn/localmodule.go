package authn

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// PasswordReader prompts the caller and returns the entered password,
// typically backed by golang.org/x/term.ReadPassword over the
// controlling tty.
type PasswordReader func(prompt string) (string, error)

// LocalModule is the default AuthModule: a local Unix password
// challenge verified against /etc/shadow's crypt(3) SHA-512 hash.
type LocalModule struct {
	shadowPath string
	prompt     PasswordReader
}

// NewLocalModule builds a LocalModule reading shadowPath (normally
// /etc/shadow) and prompting via prompt.
func NewLocalModule(shadowPath string, prompt PasswordReader) *LocalModule {
	return &LocalModule{shadowPath: shadowPath, prompt: prompt}
}

// Name implements Module.
func (m *LocalModule) Name() string { return "local-unix-password" }

// Authenticate implements Module by reading the caller's shadow entry
// and comparing it against an interactively prompted password.
func (m *LocalModule) Authenticate(_ context.Context, user string) (bool, error) {
	hash, err := m.shadowHash(user)
	if err != nil {
		return false, err
	}
	if hash == "" || hash == "!" || hash == "*" || strings.HasPrefix(hash, "!") {
		return false, fmt.Errorf("authn: account %q has no usable password hash", user)
	}

	password, err := m.prompt(fmt.Sprintf("[sudosh] password for %s: ", user))
	if err != nil {
		return false, fmt.Errorf("authn: read password: %w", err)
	}

	ok, err := sha512CryptVerify(password, hash)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (m *LocalModule) shadowHash(user string) (string, error) {
	f, err := os.Open(m.shadowPath)
	if err != nil {
		return "", fmt.Errorf("authn: open %s: %w", m.shadowPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Split(line, ":")
		if len(fields) < 2 || fields[0] != user {
			continue
		}
		return fields[1], nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("authn: no shadow entry for %q", user)
}
