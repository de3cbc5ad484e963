package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func init() {
	configCmd.AddCommand(configShowCmd, configPathCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit CLI settings",
	Long: `Settings are read from ~/.chatapp/config.toml.
CHATAPP_BASE_URL and CHATAPP_TOKEN take precedence over the file when set.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the settings commands run with, environment included",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fromEnv := applyEnv(cfg)
		return writeEffectiveConfig(cmd.OutOrStdout(), cfg, fromEnv)
	},
}

// writeEffectiveConfig renders cfg as TOML with the token masked, followed by
// a comment for every key taken from the environment. cfg is not modified.
func writeEffectiveConfig(w io.Writer, cfg *Config, fromEnv []envBinding) error {
	shown := *cfg
	if shown.Auth.Token != "" {
		shown.Auth.Token = maskToken(shown.Auth.Token)
	}
	data, err := toml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("cannot encode config: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	for _, b := range fromEnv {
		if _, err := fmt.Fprintf(w, "# %s comes from %s\n", b.Key, b.Env); err != nil {
			return err
		}
	}
	return nil
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print where the config file lives",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(out, "%s (not created yet)\n", path)
			return nil
		}
		fmt.Fprintln(out, path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <section.field> <value>",
	Short: "Store one setting in the config file",
	Long: `Keys: default.base_url, default.list_interval, default.message_interval,
default.request_timeout, default.fetch_mode, auth.token, auth.user.
Intervals use Go duration syntax such as 500ms or 2s.`,
	Example: "  chatapp config set default.fetch_mode since",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Saved %s\n", args[0])
		if env := overriddenBy(args[0]); env != "" {
			fmt.Fprintf(out, "%s is set and still takes precedence\n", env)
		}
		return nil
	},
}

// overriddenBy names the environment variable currently overriding key, if any.
func overriddenBy(key string) string {
	for _, b := range envBindings {
		if b.Key == key && os.Getenv(b.Env) != "" {
			return b.Env
		}
	}
	return ""
}
