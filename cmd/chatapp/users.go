package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	chatapp "github.com/AngeIln/Chatapp"
)

var (
	usersJSON   bool
	profileJSON bool
)

func init() {
	usersListCmd.Flags().BoolVar(&usersJSON, "json", false, "Output raw JSON")
	usersGetCmd.Flags().BoolVar(&usersJSON, "json", false, "Output raw JSON")
	usersCmd.AddCommand(usersListCmd, usersGetCmd)
	rootCmd.AddCommand(usersCmd)

	profileBioCmd.Flags().BoolVar(&profileJSON, "json", false, "Output raw JSON")
	profileAvatarCmd.Flags().BoolVar(&profileJSON, "json", false, "Output raw JSON")
	profileCmd.AddCommand(profileBioCmd, profileAvatarCmd)
	rootCmd.AddCommand(profileCmd)
}

// ============================================================================
// users
// ============================================================================

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Browse the user directory",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		dir := chatapp.NewDirectory(client, logger)
		if err := dir.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
		users := dir.Users()
		if usersJSON {
			return printJSON(users)
		}
		if len(users) == 0 {
			fmt.Println("No users.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tBIO")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\n", u.ID, u.Bio)
		}
		return w.Flush()
	},
}

var usersGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show one user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		user, err := client.GetUser(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get user: %w", err)
		}
		if usersJSON {
			return printJSON(user)
		}
		printUser(user)
		return nil
	},
}

func printUser(u *chatapp.User) {
	fmt.Printf("Name:   %s\n", u.ID)
	fmt.Printf("Bio:    %s\n", valueOrDefault(u.Bio, "(empty)"))
	fmt.Printf("Avatar: %s\n", valueOrDefault(u.AvatarURL, "(none)"))
}

// ============================================================================
// profile
// ============================================================================

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Edit your own profile",
}

var profileBioCmd = &cobra.Command{
	Use:   "bio <text>",
	Short: "Replace your bio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		user, err := client.UpdateBio(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to update bio: %w", err)
		}
		if profileJSON {
			return printJSON(user)
		}
		printUser(user)
		return nil
	},
}

var profileAvatarCmd = &cobra.Command{
	Use:   "avatar <image-file>",
	Short: "Upload a new avatar image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		att, err := readAttachment(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		res, err := client.UploadAvatar(ctx, att)
		if err != nil {
			return fmt.Errorf("avatar upload failed: %w", err)
		}
		if profileJSON {
			return printJSON(res)
		}
		fmt.Printf("Avatar uploaded: %s\n", res.URL)
		return nil
	},
}
