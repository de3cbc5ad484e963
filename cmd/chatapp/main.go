package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	chatapp "github.com/AngeIln/Chatapp"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.chatapp/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
}

// ConfigDefault holds connection and polling settings. Durations use Go
// syntax ("5s", "1m").
type ConfigDefault struct {
	BaseURL         string `toml:"base_url"`
	ListInterval    string `toml:"list_interval"`
	MessageInterval string `toml:"message_interval"`
	RequestTimeout  string `toml:"request_timeout"`
	FetchMode       string `toml:"fetch_mode"`
}

// ConfigAuth holds the session obtained by login.
type ConfigAuth struct {
	Token string `toml:"token"`
	User  string `toml:"user"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.chatapp, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".chatapp")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// envBinding ties an environment variable to the config key it overrides.
type envBinding struct {
	Env string
	Key string
}

var envBindings = []envBinding{
	{Env: "CHATAPP_BASE_URL", Key: "default.base_url"},
	{Env: "CHATAPP_TOKEN", Key: "auth.token"},
}

// applyEnv lets the variables in envBindings override the file and returns
// the bindings that were set.
func applyEnv(cfg *Config) []envBinding {
	var applied []envBinding
	for _, b := range envBindings {
		v := os.Getenv(b.Env)
		if v == "" {
			continue
		}
		switch b.Key {
		case "default.base_url":
			cfg.Default.BaseURL = v
		case "auth.token":
			cfg.Auth.Token = v
		}
		applied = append(applied, b)
	}
	return applied
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "list_interval", "message_interval", "request_timeout":
			if _, err := parseInterval(value); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			switch field {
			case "list_interval":
				cfg.Default.ListInterval = value
			case "message_interval":
				cfg.Default.MessageInterval = value
			default:
				cfg.Default.RequestTimeout = value
			}
		case "fetch_mode":
			if _, err := parseFetchMode(value); err != nil {
				return err
			}
			cfg.Default.FetchMode = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "user":
			cfg.Auth.User = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth)", section)
	}
	return nil
}

func parseInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}

func parseFetchMode(s string) (chatapp.FetchMode, error) {
	switch chatapp.FetchMode(s) {
	case "":
		return "", nil
	case chatapp.FetchFull, chatapp.FetchSince:
		return chatapp.FetchMode(s), nil
	}
	return "", fmt.Errorf("unknown fetch mode %q (valid: %s, %s)", s, chatapp.FetchFull, chatapp.FetchSince)
}

// engineOptions converts the [default] section into engine options. Empty
// values keep the engine defaults.
func engineOptions(cfg *Config) (*chatapp.Options, error) {
	var opts chatapp.Options
	var err error
	if opts.ListInterval, err = parseInterval(cfg.Default.ListInterval); err != nil {
		return nil, fmt.Errorf("list_interval: %w", err)
	}
	if opts.MessageInterval, err = parseInterval(cfg.Default.MessageInterval); err != nil {
		return nil, fmt.Errorf("message_interval: %w", err)
	}
	if opts.RequestTimeout, err = parseInterval(cfg.Default.RequestTimeout); err != nil {
		return nil, fmt.Errorf("request_timeout: %w", err)
	}
	if opts.FetchMode, err = parseFetchMode(cfg.Default.FetchMode); err != nil {
		return nil, err
	}
	opts.Logger = logger
	return &opts, nil
}

// ============================================================================
// Root command
// ============================================================================

var (
	verbose bool
	logger  = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "chatapp",
	Short:         "Chatapp messaging CLI",
	Long:          "Command-line client for the Chatapp messaging service.\nLog in, browse conversations, and chat from the terminal.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("cannot load .env: %w", err)
		}
		log, err := newLogger(verbose)
		if err != nil {
			return err
		}
		logger = log
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	return cfg.Build()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log requests and sync activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
