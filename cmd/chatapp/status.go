package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the effective configuration and, when logged in, fetch the live profile of the current user.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:         %s\n", valueOrDefault(cfg.Default.BaseURL, "(default)"))
		fmt.Printf("  List interval:    %s\n", valueOrDefault(cfg.Default.ListInterval, "(default)"))
		fmt.Printf("  Message interval: %s\n", valueOrDefault(cfg.Default.MessageInterval, "(default)"))
		fmt.Printf("  Request timeout:  %s\n", valueOrDefault(cfg.Default.RequestTimeout, "(default)"))
		fmt.Printf("  Fetch mode:       %s\n", valueOrDefault(cfg.Default.FetchMode, "(default)"))
		if _, err := engineOptions(cfg); err != nil {
			fmt.Printf("  Invalid:          %v\n", err)
		}

		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  User:  %s\n", valueOrDefault(cfg.Auth.User, "(not logged in)"))
		if cfg.Auth.Token == "" {
			fmt.Println("  Token: (not set)")
			return nil
		}
		fmt.Printf("  Token: %s\n", maskToken(cfg.Auth.Token))

		fmt.Println()
		fmt.Println("Live status:")
		ctx, cancel := commandContext()
		defer cancel()

		me, err := newClient(cfg).Me(ctx)
		if err != nil {
			fmt.Printf("  Error fetching account info: %v\n", err)
			return nil
		}
		fmt.Printf("  Name:   %s\n", me.ID)
		fmt.Printf("  Bio:    %s\n", valueOrDefault(me.Bio, "(empty)"))
		fmt.Printf("  Avatar: %s\n", valueOrDefault(me.AvatarURL, "(none)"))
		return nil
	},
}
