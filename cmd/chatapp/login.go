package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	chatapp "github.com/AngeIln/Chatapp"
)

var signupBio string

func init() {
	signupCmd.Flags().StringVar(&signupBio, "bio", "", "Short profile text")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(logoutCmd)
}

// readPassword prompts on a terminal without echo, or reads one line from a
// pipe.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("cannot read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("cannot read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var loginCmd = &cobra.Command{
	Use:   "login <name>",
	Short: "Log in and store the session token",
	Long:  "Exchange a user name and password for an access token and store it in ~/.chatapp/config.toml.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		effective := *cfg
		applyEnv(&effective)

		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}
		if password == "" {
			return errors.New("password is required")
		}

		ctx, cancel := commandContext()
		defer cancel()

		res, err := newClient(&effective).Login(ctx, name, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg.Auth.Token = res.AccessToken
		cfg.Auth.User = name
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Logged in as %s\n", name)
		return nil
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup <name>",
	Short: "Create an account",
	Long:  "Create a new account. Log in afterwards with 'chatapp login <name>'.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}

		password, err := readPassword("Choose a password: ")
		if err != nil {
			return err
		}

		ctx, cancel := commandContext()
		defer cancel()

		user, err := newClient(cfg).Signup(ctx, &chatapp.SignupOptions{
			Name:     args[0],
			Password: password,
			Bio:      signupBio,
		})
		if err != nil {
			return fmt.Errorf("signup failed: %w", err)
		}

		fmt.Printf("Account %s created.\n", user.ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}
