package chatapp

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Wire → domain conversion
// ============================================================================
//
// Responses are decoded into loose maps first and validated here, so a
// malformed entry is dropped at the boundary instead of reaching the state.

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC 3339 and the zone-less ISO form, read as UTC.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func messageFromMap(m map[string]any, log *zap.Logger) (Message, error) {
	msg := Message{
		ID:      strOr(m, "id", strOr(m, "_id", "")),
		Sender:  strOr(m, "sender", ""),
		Content: strOr(m, "content", ""),
		Media:   strOr(m, "media", ""),
	}
	if msg.ID == "" {
		return Message{}, fmt.Errorf("%w: message without id", ErrInvalidPayload)
	}
	if msg.Sender == "" {
		return Message{}, fmt.Errorf("%w: message %s without sender", ErrInvalidPayload, msg.ID)
	}
	if ts := strOr(m, "timestamp", ""); ts != "" {
		t, err := parseTimestamp(ts)
		if err != nil {
			log.Warn("bad message timestamp", zap.String("message", msg.ID), zap.Error(err))
		}
		msg.Timestamp = t
	}
	if raw, ok := m["reactions"].(map[string]any); ok && len(raw) > 0 {
		msg.Reactions = make(map[string]int, len(raw))
		for symbol, v := range raw {
			n, ok := v.(float64)
			if !ok || n < 0 || math.IsNaN(n) {
				continue
			}
			msg.Reactions[symbol] = int(n)
		}
	}
	return msg, nil
}

func messagesFromSlice(items []any, log *zap.Logger) []Message {
	out := make([]Message, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			log.Warn("dropping non-object message entry")
			continue
		}
		msg, err := messageFromMap(m, log)
		if err != nil {
			log.Warn("dropping invalid message", zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	return out
}

func participantsFrom(m map[string]any) []string {
	raw, _ := m["participants"].([]any)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if s, ok := p.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func conversationFromMap(m map[string]any, log *zap.Logger) (*Conversation, error) {
	c := &Conversation{
		ID:           strOr(m, "id", strOr(m, "_id", "")),
		Name:         strOr(m, "name", ""),
		Participants: participantsFrom(m),
	}
	if c.ID == "" {
		return nil, fmt.Errorf("%w: conversation without id", ErrInvalidPayload)
	}
	if len(c.Participants) == 0 {
		return nil, fmt.Errorf("%w: conversation %s has no participants", ErrInvalidPayload, c.ID)
	}
	items, _ := m["messages"].([]any)
	c.Messages = messagesFromSlice(items, log)
	if n := len(c.Messages); n > 0 {
		c.HighWater = c.Messages[n-1].ID
	}
	return c, nil
}

func summaryFromMap(m map[string]any, log *zap.Logger) (ConversationSummary, error) {
	s := ConversationSummary{
		ID:           strOr(m, "id", strOr(m, "_id", "")),
		Name:         strOr(m, "name", ""),
		Participants: participantsFrom(m),
		UnreadCount:  intOr(m, "unreadCount", 0),
	}
	if s.ID == "" {
		return s, fmt.Errorf("%w: conversation without id", ErrInvalidPayload)
	}
	if len(s.Participants) == 0 {
		return s, fmt.Errorf("%w: conversation %s has no participants", ErrInvalidPayload, s.ID)
	}
	if last, ok := m["lastMessage"].(map[string]any); ok {
		if msg, err := messageFromMap(last, log); err == nil {
			s.LastMessage = &msg
		}
	}
	return s, nil
}

func userFromMap(m map[string]any) (User, error) {
	u := User{
		ID:        strOr(m, "name", ""),
		Bio:       strOr(m, "bio", ""),
		AvatarURL: strOr(m, "avatar_url", ""),
	}
	if u.ID == "" {
		return u, fmt.Errorf("%w: user without name", ErrInvalidPayload)
	}
	return u, nil
}

// ── Decoders used by the client ──────────────────────────

func decodeMessages(data []byte, log *zap.Logger) ([]Message, error) {
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return messagesFromSlice(items, log), nil
}

func decodeMessage(data []byte, log *zap.Logger) (*Message, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	msg, err := messageFromMap(m, log)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func decodeConversation(data []byte, log *zap.Logger) (*Conversation, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return conversationFromMap(m, log)
}

func decodeSummaries(data []byte, log *zap.Logger) ([]ConversationSummary, error) {
	var items []map[string]any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversations: %w", err)
	}
	out := make([]ConversationSummary, 0, len(items))
	for _, item := range items {
		s, err := summaryFromMap(item, log)
		if err != nil {
			log.Warn("dropping invalid conversation", zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeUsers(data []byte, log *zap.Logger) ([]User, error) {
	var items []map[string]any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal users: %w", err)
	}
	out := make([]User, 0, len(items))
	for _, item := range items {
		u, err := userFromMap(item)
		if err != nil {
			log.Warn("dropping invalid user", zap.Error(err))
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func decodeUser(data []byte) (*User, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	u, err := userFromMap(m)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func strOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intOr(m map[string]any, key string, fallback int) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return fallback
}
