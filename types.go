package chatapp

import (
	"strings"
	"time"
)

// ============================================================================
// Directory Types
// ============================================================================

// User is a directory entry. The user name is the unique identifier.
type User struct {
	ID        string `json:"name"`
	Bio       string `json:"bio,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Profile is what presentation code renders for a sender.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Initial     string `json:"initial"`
	Known       bool   `json:"known"`
}

// ============================================================================
// Conversation Types
// ============================================================================

// Message is immutable except for its reaction counts, which only grow.
type Message struct {
	ID        string         `json:"id"`
	Sender    string         `json:"sender"`
	Content   string         `json:"content"`
	Media     string         `json:"media,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Reactions map[string]int `json:"reactions,omitempty"`
}

func (m Message) clone() Message {
	if m.Reactions != nil {
		r := make(map[string]int, len(m.Reactions))
		for k, v := range m.Reactions {
			r[k] = v
		}
		m.Reactions = r
	}
	return m
}

// Conversation is the locally materialized view of one conversation.
// HighWater is the ID of the newest message known to be merged.
type Conversation struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Participants []string  `json:"participants"`
	Messages     []Message `json:"messages"`
	HighWater    string    `json:"highWater,omitempty"`
}

func (c *Conversation) clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.clone()
	}
	return &out
}

// ConversationSummary is one entry of the conversation list poll.
type ConversationSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount,omitempty"`
}

// ConversationTitle returns the name to display for a conversation: its name,
// otherwise the participants other than self, otherwise a placeholder.
func ConversationTitle(c ConversationSummary, self string) string {
	if c.Name != "" {
		return c.Name
	}
	others := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != self {
			others = append(others, p)
		}
	}
	if len(others) == 0 {
		return "Untitled conversation"
	}
	return strings.Join(others, ", ")
}

// FilterConversations keeps the entries whose title contains query, ignoring case.
func FilterConversations(list []ConversationSummary, query, self string) []ConversationSummary {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return list
	}
	var out []ConversationSummary
	for _, c := range list {
		if strings.Contains(strings.ToLower(ConversationTitle(c, self)), q) {
			out = append(out, c)
		}
	}
	return out
}

// ============================================================================
// Request Types
// ============================================================================

// DefaultReactions are the symbols offered by the client UI.
var DefaultReactions = []string{"😊", "👍", "❤️"}

// Attachment is a file to upload before a message is submitted.
type Attachment struct {
	FileName string
	MimeType string
	Data     []byte
}

// Draft is a message composed locally and not yet confirmed by the server.
type Draft struct {
	Content    string
	Attachment *Attachment
}

func (d Draft) empty() bool {
	return strings.TrimSpace(d.Content) == "" && d.Attachment == nil
}

type CreateConversationOptions struct {
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants"`
}

type SignupOptions struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Bio      string `json:"bio,omitempty"`
}

type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// UploadResult is the response of the upload service.
type UploadResult struct {
	URL string `json:"url"`
}
