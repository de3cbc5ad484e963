package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	chatapp "github.com/AngeIln/Chatapp"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <base-url>",
	Short: "Store the service URL in ~/.chatapp/config.toml",
	Long:  "Initialize the CLI by storing the service URL and the default polling settings in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := url.Parse(args[0])
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base URL %q", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.BaseURL = args[0]
		if cfg.Default.ListInterval == "" {
			cfg.Default.ListInterval = "5s"
		}
		if cfg.Default.MessageInterval == "" {
			cfg.Default.MessageInterval = "3s"
		}
		if cfg.Default.FetchMode == "" {
			cfg.Default.FetchMode = string(chatapp.FetchFull)
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Service URL saved to %s\n", path)
		return nil
	},
}
