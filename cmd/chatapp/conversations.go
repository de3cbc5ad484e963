package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	chatapp "github.com/AngeIln/Chatapp"
)

var (
	convsJSON       bool
	convsFilter     string
	convsCreateName string
	convsCreateWith string
	convsShowLimit  int
)

func init() {
	convsListCmd.Flags().BoolVar(&convsJSON, "json", false, "Output raw JSON")
	convsListCmd.Flags().StringVar(&convsFilter, "filter", "", "Only show conversations whose title contains this text")
	convsCreateCmd.Flags().StringVar(&convsCreateName, "name", "", "Conversation name")
	convsCreateCmd.Flags().StringVar(&convsCreateWith, "with", "", "Comma-separated participant names")
	convsCreateCmd.Flags().BoolVar(&convsJSON, "json", false, "Output raw JSON")
	convsShowCmd.Flags().IntVar(&convsShowLimit, "limit", 20, "Number of most recent messages to print (0 for all)")
	convsShowCmd.Flags().BoolVar(&convsJSON, "json", false, "Output raw JSON")
	_ = convsCreateCmd.MarkFlagRequired("with")

	convsCmd.AddCommand(convsListCmd, convsCreateCmd, convsShowCmd)
	rootCmd.AddCommand(convsCmd)
}

var convsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "List, create and inspect conversations",
}

var convsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		list, err := client.ListConversations(ctx)
		if err != nil {
			return fmt.Errorf("failed to list conversations: %w", err)
		}
		list = chatapp.FilterConversations(list, convsFilter, cfg.Auth.User)
		if convsJSON {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tUNREAD\tLAST MESSAGE")
		for _, c := range list {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, chatapp.ConversationTitle(c, cfg.Auth.User), c.UnreadCount, lastMessageLine(c.LastMessage))
		}
		return w.Flush()
	},
}

func lastMessageLine(m *chatapp.Message) string {
	if m == nil {
		return "-"
	}
	text := m.Content
	if text == "" && m.Media != "" {
		text = "[attachment]"
	}
	if r := []rune(text); len(r) > 40 {
		text = string(r[:39]) + "…"
	}
	if m.Timestamp.IsZero() {
		return fmt.Sprintf("%s: %s", m.Sender, text)
	}
	return fmt.Sprintf("%s: %s (%s)", m.Sender, text, humanize.Time(m.Timestamp))
}

var convsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := getClient()
		if err != nil {
			return err
		}
		var participants []string
		for _, p := range strings.Split(convsCreateWith, ",") {
			if p = strings.TrimSpace(p); p != "" {
				participants = append(participants, p)
			}
		}
		if cfg.Auth.User != "" && !slices.Contains(participants, cfg.Auth.User) {
			participants = append(participants, cfg.Auth.User)
		}

		ctx, cancel := commandContext()
		defer cancel()

		conv, err := client.CreateConversation(ctx, &chatapp.CreateConversationOptions{
			Name:         convsCreateName,
			Participants: participants,
		})
		if err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		if convsJSON {
			return printJSON(conv)
		}
		fmt.Printf("Created conversation %s with %s\n", conv.ID, strings.Join(conv.Participants, ", "))
		return nil
	},
}

var convsShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Print the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		conv, err := client.GetConversation(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load conversation: %w", err)
		}
		if convsJSON {
			return printJSON(conv)
		}

		dir := chatapp.NewDirectory(client, logger)
		// unknown senders render with their id
		_ = dir.Refresh(ctx)
		messages := conv.Messages
		if convsShowLimit > 0 && len(messages) > convsShowLimit {
			messages = messages[len(messages)-convsShowLimit:]
		}
		fmt.Printf("== %s ==\n", titleOf(conv, cfg.Auth.User))
		now := time.Now()
		for _, m := range messages {
			fmt.Println(formatMessage(m, dir.Resolve(m.Sender), now))
		}
		return nil
	},
}
