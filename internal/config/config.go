package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for the bridge.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Max      MaxConfig      `json:"max"`
	Telegram TelegramConfig `json:"telegram"`
	Fetch    FetchConfig    `json:"fetch"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	StateFile string `json:"stateFile"` // active destination chats
}

type MaxConfig struct {
	Phone    string `json:"phone"`
	ChatID   int64  `json:"chatId"`             // the one chat being forwarded
	Endpoint string `json:"endpoint,omitempty"` // override the gateway URL
	WorkDir  string `json:"workDir"`            // session cache
}

type TelegramConfig struct {
	Token     string `json:"token"`
	ParseMode string `json:"parseMode"`
}

type FetchConfig struct {
	MaxAttempts            int `json:"maxAttempts"`
	ConnectTimeoutSeconds  int `json:"connectTimeoutSeconds"`
	ResponseTimeoutSeconds int `json:"responseTimeoutSeconds"`
	TotalTimeoutSeconds    int `json:"totalTimeoutSeconds"`
}

// DefaultConfigDir returns the default config directory (~/.maxbridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maxbridge"
	}
	return filepath.Join(home, ".maxbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, expands, and validates the config file. Any failure here is
// fatal to the caller: the bridge must not start half-configured.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.StateFile = ExpandPath(cfg.General.StateFile)
	cfg.Max.WorkDir = ExpandPath(cfg.Max.WorkDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks required keys and value ranges.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Max.Phone == "" {
		errs = append(errs, "max.phone is required")
	}
	if cfg.Max.ChatID == 0 {
		errs = append(errs, "max.chatId is required")
	}
	if cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required")
	}

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Fetch.MaxAttempts < 1 || cfg.Fetch.MaxAttempts > 10 {
		errs = append(errs, "fetch.maxAttempts must be between 1 and 10")
	}
	if cfg.Fetch.ConnectTimeoutSeconds < 1 {
		errs = append(errs, "fetch.connectTimeoutSeconds must be >= 1")
	}
	if cfg.Fetch.ResponseTimeoutSeconds < 1 {
		errs = append(errs, "fetch.responseTimeoutSeconds must be >= 1")
	}
	if cfg.Fetch.TotalTimeoutSeconds < 1 {
		errs = append(errs, "fetch.totalTimeoutSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
