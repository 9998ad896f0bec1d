// Command sudosh is the setuid-root entry point: it resolves the
// caller's identity, consults policy, authenticates, validates, and
// executes, or drops into the interactive session loop. Grounded on
// cmd/pulse-sensor-proxy/main.go's cobra root command plus
// version/build-time variable layout.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sandinak/sudosh/internal/auditlog"
	"github.com/sandinak/sudosh/internal/authn"
	"github.com/sandinak/sudosh/internal/config"
	"github.com/sandinak/sudosh/internal/filelock"
	"github.com/sandinak/sudosh/internal/identity"
	"github.com/sandinak/sudosh/internal/policy"
	"github.com/sandinak/sudosh/internal/session"
	"github.com/sandinak/sudosh/internal/sudoctx"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	defaultConfigPath  = "/etc/sudosh/sudosh.conf"
	defaultSSSDSocket  = "/var/lib/sss/pipes/nss"
	defaultSSSDTimeout = 2 * time.Second
)

var (
	flagRunAsUser      string
	flagCommand        string
	flagListRules      bool
	flagRefreshCache   bool
	flagNonInteractive bool
	flagPreserveEnv    bool
	flagRules          bool
	flagAnsibleDetect  bool
	flagAnsibleVerbose bool
	flagAnsibleForce   bool
)

var rootCmd = &cobra.Command{
	Use:           "sudosh",
	Short:         "Restricted, audited replacement for sudo",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagRunAsUser, "user", "u", "root", "run command as this user")
	rootCmd.Flags().StringVarP(&flagCommand, "command", "c", "", "run a single command and exit")
	rootCmd.Flags().BoolVarP(&flagListRules, "list", "l", false, "list permitted rules for the caller")
	rootCmd.Flags().BoolVarP(&flagRefreshCache, "refresh-cache", "v", false, "refresh the authentication cache")
	rootCmd.Flags().BoolVarP(&flagNonInteractive, "non-interactive", "n", false, "fail rather than prompt for a password")
	rootCmd.Flags().BoolVarP(&flagPreserveEnv, "preserve-env", "E", false, "preserve environment (rejected for security parity)")
	rootCmd.Flags().BoolVar(&flagRules, "rules", false, "list permitted rules for the caller")
	rootCmd.Flags().BoolVar(&flagAnsibleDetect, "ansible-detect", false, "report automation-detection result and exit")
	rootCmd.Flags().BoolVar(&flagAnsibleVerbose, "ansible-verbose", false, "log the automation-detection reason")
	rootCmd.Flags().BoolVar(&flagAnsibleForce, "ansible-force", false, "force automation-suspected on this invocation")
}

func main() {
	rootCmd.Use = filepath.Base(os.Args[0])
	if err := rootCmd.Execute(); err != nil {
		var sErr *sudoctx.Error
		if errors.As(err, &sErr) {
			fmt.Fprintln(os.Stderr, "sudosh:", sErr.Message)
			os.Exit(sudoctx.ExitCode(sErr.Kind))
		}
		fmt.Fprintln(os.Stderr, "sudosh:", err)
		os.Exit(1)
	}
}

func invokedAsSudo() bool {
	return filepath.Base(os.Args[0]) == "sudo"
}

func run(args []string) error {
	if flagPreserveEnv && invokedAsSudo() {
		return sudoctx.NewError(sudoctx.ErrInput, "-E is rejected in sudo-compat mode", nil)
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return sudoctx.NewError(sudoctx.ErrInternal, "load configuration", err)
	}
	applySudoersEnvOverrides(cfg)

	idResolver := buildIdentityResolver(cfg)
	polResolver := buildPolicyResolver(cfg)
	polResolver.IsMember = func(user, group string) bool {
		member, err := idResolver.IsMemberOfGroup(user, group)
		return err == nil && member
	}

	callerName, err := callerUsername()
	if err != nil {
		return sudoctx.NewError(sudoctx.ErrResolve, "resolve caller identity", err)
	}
	caller, err := idResolver.GetUser(callerName)
	if err != nil {
		return sudoctx.NewError(sudoctx.ErrResolve, "resolve caller identity", err)
	}

	audit := auditlog.New(cfg.LogFacility, "sudosh", auditlog.WithSessionLogPath(cfg.SessionLogPath))
	defer audit.Close()

	cache, err := authn.NewCache(cfg.CacheDirectory)
	if err != nil {
		return sudoctx.NewError(sudoctx.ErrInternal, "open auth cache", err)
	}
	authenticator := authn.New(authModules(flagNonInteractive), cache, cfg.AuthCacheTimeout, cfg.TestMode)

	locks, err := filelock.NewManager(cfg.LockDirectory)
	if err != nil {
		return sudoctx.NewError(sudoctx.ErrInternal, "open lock directory", err)
	}

	tty := ttyName()
	host, _ := os.Hostname()
	detector := session.NewDefaultAutomationDetector(isatty(os.Stdin))
	if flagAnsibleForce {
		forced := true
		detector.ForceValue = &forced
	}

	if flagAnsibleDetect {
		suspected, reason := detector.Suspected()
		fmt.Printf("automation_suspected=%v reason=%q\n", suspected, reason)
		return nil
	}
	if flagAnsibleVerbose {
		if suspected, reason := detector.Suspected(); suspected {
			fmt.Fprintln(os.Stderr, "sudosh: automation suspected:", reason)
		}
	}

	if flagListRules || flagRules {
		for _, r := range polResolver.ListRules(caller.Name) {
			fmt.Printf("%v %v=(%v) %v\n", r.Users, r.Hosts, r.RunasUsers, r.Commands)
		}
		return nil
	}

	if flagRefreshCache {
		if err := authenticator.Authenticate(context.Background(), caller.Name, tty, false); err != nil {
			return sudoctx.NewError(sudoctx.ErrAuth, "refresh authentication cache", err)
		}
		return nil
	}

	sess := session.New(cfg, idResolver, polResolver, authenticator, audit, locks, detector, caller, tty, host, os.Stdin, os.Stdout)

	if watcher, err := config.WatchConfig(resolveConfigPath(), cfg.SudoersDir, func(reloaded *config.Config) {
		*cfg = *reloaded
	}); err == nil {
		defer watcher.Close()
	} else {
		fmt.Fprintln(os.Stderr, "sudosh: config hot reload disabled:", err)
	}

	if flagCommand != "" {
		code := sess.RunSingleCommand(context.Background(), flagCommand, flagRunAsUser)
		os.Exit(code)
	}
	if len(args) > 0 {
		code := sess.RunSingleCommand(context.Background(), strings.Join(args, " "), flagRunAsUser)
		os.Exit(code)
	}

	ctx := context.Background()
	code := sess.RunInteractive(ctx, flagRunAsUser)
	os.Exit(code)
	return nil
}

func resolveConfigPath() string {
	if v := os.Getenv("SUDOSH_CONFIG"); v != "" {
		return v
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

func applySudoersEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("SUDOSH_AUTH_CACHE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AuthCacheTimeout = n
		}
	}
}

func buildIdentityResolver(cfg *config.Config) *identity.Resolver {
	var sources []identity.Source
	for _, name := range identity.SourceNames(cfg.NsswitchPath, "passwd") {
		switch name {
		case "files":
			sources = append(sources, identity.NewFileSource("/etc/passwd", "/etc/group"))
		case "sss":
			sources = append(sources, identity.NewSSSDSource(sssdSocketPath(), os.Getenv("SUDOSH_SSSD_REPLAY"), sssdTimeout()))
		}
	}
	if len(sources) == 0 {
		sources = append(sources, identity.NewFileSource("/etc/passwd", "/etc/group"))
	}
	return identity.NewResolver(sources...)
}

func buildPolicyResolver(cfg *config.Config) *policy.Resolver {
	sources := []policy.RuleSource{policy.NewLocalFileSource(cfg.SudoersPath, cfg.SudoersDir)}
	if os.Getenv("SUDOSH_SSSD_FORCE_SOCKET") != "" || os.Getenv("SUDOSH_SSSD_SOCKET_SEGMENTED") != "" {
		sources = append(sources, policy.NewDirectoryServiceSource(
			sssdSocketPath(),
			os.Getenv("SUDOSH_SSSD_REPLAY"),
			sssdTimeout(),
			policy.WithDebugTrace(os.Getenv("SUDOSH_DEBUG_SSSD") != ""),
			policy.WithTestMode(cfg.TestMode),
		))
	}
	return policy.NewResolver(sources...)
}

func sssdSocketPath() string {
	if v := os.Getenv("SUDOSH_SSSD_FORCE_SOCKET"); v != "" {
		return v
	}
	return defaultSSSDSocket
}

func sssdTimeout() time.Duration {
	return defaultSSSDTimeout
}

func authModules(nonInteractive bool) []authn.Module {
	prompt := terminalPrompt
	if nonInteractive {
		prompt = nonInteractivePrompt
	}
	return []authn.Module{authn.NewLocalModule("/etc/shadow", prompt)}
}

func terminalPrompt(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func nonInteractivePrompt(string) (string, error) {
	return "", fmt.Errorf("authn: password required but -n/--non-interactive was given")
}

func callerUsername() (string, error) {
	if v := os.Getenv("SUDO_USER"); v != "" {
		return v, nil
	}
	if v := os.Getenv("USER"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("unable to determine caller username")
}

func ttyName() string {
	if name, err := os.Readlink("/proc/self/fd/0"); err == nil {
		return name
	}
	return "unknown"
}

func isatty(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
