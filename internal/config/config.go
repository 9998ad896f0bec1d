// Package config loads and validates the process-wide configuration
// record described in spec.md §3: a key=value text file with `#`
// comments, warn-and-continue behavior for unknown keys, and strict
// validation for recognized ones.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	minTimeout           = 0
	maxTimeout           = 86400
	minCommandLength     = 256
	maxCommandLength     = 65536
	minConfidence        = 0
	maxConfidence        = 100
	defaultAuthCache     = 900
	defaultInactivity    = 300
	defaultMaxCmdLen     = 4096
	defaultLogFacility   = "auth"
	defaultProgramName   = "sudosh"
	defaultShellsGroup   = "sudosh-shells"
	defaultNsswitchPath  = "/etc/nsswitch.conf"
	defaultSudoersPath   = "/etc/sudoers"
	defaultSudoersDir    = "/etc/sudoers.d"
)

// Config is the process-wide configuration record.
type Config struct {
	AuthCacheTimeout      int    // seconds, 0-86400
	InactivityTimeout     int    // seconds, 0-86400
	MaxCommandLength      int    // 256-65536
	LogFacility           string // syslog facility name
	CacheDirectory        string // absolute path
	LockDirectory         string // absolute path
	VerboseMode           bool
	TestMode              bool
	AutomationDetection   bool
	AutomationConfidence  int // 0-100
	RCAliasImportEnabled  bool

	// [EXPANDED] additions, see SPEC_FULL.md §3.
	SessionLogPath string
	SudoersPath    string
	SudoersDir     string
	NsswitchPath   string
	ShellsGroup    string
}

// Default returns a Config populated with spec.md's documented
// defaults.
func Default() *Config {
	return &Config{
		AuthCacheTimeout:     defaultAuthCache,
		InactivityTimeout:    defaultInactivity,
		MaxCommandLength:     defaultMaxCmdLen,
		LogFacility:          defaultLogFacility,
		CacheDirectory:       fmt.Sprintf("/var/run/%s", defaultProgramName),
		LockDirectory:        fmt.Sprintf("/var/run/%s/locks", defaultProgramName),
		AutomationConfidence: 70,
		SudoersPath:          defaultSudoersPath,
		SudoersDir:           defaultSudoersDir,
		NsswitchPath:         defaultNsswitchPath,
		ShellsGroup:          defaultShellsGroup,
	}
}

// Load reads a key=value configuration file at path (if it exists),
// validates recognized keys, warns on unrecognized ones, and applies
// the SUDOSH_* environment overrides documented in spec.md §6.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			raw, err := godotenv.Read(path)
			if err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			if err := applyRaw(cfg, raw); err != nil {
				return nil, err
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyRaw(cfg *Config, raw map[string]string) error {
	for key, value := range raw {
		if err := applyKey(cfg, key, value); err != nil {
			return err
		}
	}
	return nil
}

func applyKey(cfg *Config, key, value string) error {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "auth_cache_timeout":
		n, err := parseIntRange(value, minTimeout, maxTimeout)
		if err != nil {
			return fmt.Errorf("config: auth_cache_timeout: %w", err)
		}
		cfg.AuthCacheTimeout = n
	case "inactivity_timeout":
		n, err := parseIntRange(value, minTimeout, maxTimeout)
		if err != nil {
			return fmt.Errorf("config: inactivity_timeout: %w", err)
		}
		cfg.InactivityTimeout = n
	case "max_command_length":
		n, err := parseIntRange(value, minCommandLength, maxCommandLength)
		if err != nil {
			return fmt.Errorf("config: max_command_length: %w", err)
		}
		cfg.MaxCommandLength = n
	case "log_facility":
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("config: log_facility must not be empty")
		}
		cfg.LogFacility = value
	case "cache_directory":
		if !filepath.IsAbs(value) {
			return fmt.Errorf("config: cache_directory must be absolute: %q", value)
		}
		cfg.CacheDirectory = value
	case "lock_directory":
		if !filepath.IsAbs(value) {
			return fmt.Errorf("config: lock_directory must be absolute: %q", value)
		}
		cfg.LockDirectory = value
	case "verbose_mode":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("config: verbose_mode: %w", err)
		}
		cfg.VerboseMode = b
	case "test_mode":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("config: test_mode: %w", err)
		}
		cfg.TestMode = b
	case "automation_detection_enabled":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("config: automation_detection_enabled: %w", err)
		}
		cfg.AutomationDetection = b
	case "automation_detection_confidence_threshold":
		n, err := parseIntRange(value, minConfidence, maxConfidence)
		if err != nil {
			return fmt.Errorf("config: automation_detection_confidence_threshold: %w", err)
		}
		cfg.AutomationConfidence = n
	case "rc_alias_import_enabled":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("config: rc_alias_import_enabled: %w", err)
		}
		cfg.RCAliasImportEnabled = b
	case "session_log_path":
		cfg.SessionLogPath = value
	case "sudoers_path":
		cfg.SudoersPath = value
	case "sudoers_dir":
		cfg.SudoersDir = value
	case "nsswitch_path":
		cfg.NsswitchPath = value
	case "shells_group":
		cfg.ShellsGroup = value
	default:
		log.Warn().Str("key", key).Msg("config: ignoring unrecognized key")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SUDOSH_TEST_MODE"); v != "" {
		if b, err := parseBool(v); err == nil {
			cfg.TestMode = b
		}
	}
	if v := os.Getenv("SUDOSH_SUDOERS_PATH"); v != "" {
		cfg.SudoersPath = v
	}
	if v := os.Getenv("SUDOSH_SUDOERS_DIR"); v != "" {
		cfg.SudoersDir = v
	}
}

func validate(cfg *Config) error {
	if cfg.AuthCacheTimeout < minTimeout || cfg.AuthCacheTimeout > maxTimeout {
		return fmt.Errorf("config: auth_cache_timeout out of range")
	}
	if cfg.InactivityTimeout < minTimeout || cfg.InactivityTimeout > maxTimeout {
		return fmt.Errorf("config: inactivity_timeout out of range")
	}
	if cfg.MaxCommandLength < minCommandLength || cfg.MaxCommandLength > maxCommandLength {
		return fmt.Errorf("config: max_command_length out of range")
	}
	if cfg.AutomationConfidence < minConfidence || cfg.AutomationConfidence > maxConfidence {
		return fmt.Errorf("config: automation_detection_confidence_threshold out of range")
	}
	if !filepath.IsAbs(cfg.CacheDirectory) {
		return fmt.Errorf("config: cache_directory must be absolute")
	}
	if !filepath.IsAbs(cfg.LockDirectory) {
		return fmt.Errorf("config: lock_directory must be absolute")
	}
	return nil
}

func parseIntRange(value string, min, max int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", value)
	}
	if n < min || n > max {
		return 0, fmt.Errorf("value %d out of range [%d,%d]", n, min, max)
	}
	return n, nil
}

func parseBool(value string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(value))
}
