package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	chatapp "github.com/AngeIln/Chatapp"
)

// commandTimeout bounds one-shot commands.
const commandTimeout = 30 * time.Second

// loadEffectiveConfig reads the config file and applies env overrides.
func loadEffectiveConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyEnv(cfg)
	return cfg, nil
}

// newClient builds a client from cfg. The token may be empty.
func newClient(cfg *Config) *chatapp.Client {
	opts := []chatapp.ClientOption{chatapp.WithLogger(logger)}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, chatapp.WithBaseURL(cfg.Default.BaseURL))
	}
	return chatapp.NewClient(cfg.Auth.Token, opts...)
}

// getClient returns an authenticated client or fails when no session exists.
func getClient() (*chatapp.Client, *Config, error) {
	cfg, err := loadEffectiveConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Auth.Token == "" {
		return nil, nil, errors.New("not logged in; run 'chatapp login <name>' first")
	}
	return newClient(cfg), cfg, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	fmt.Println(string(b))
	return nil
}

// readAttachment loads a local file for upload.
func readAttachment(path string) (*chatapp.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > chatapp.MaxUploadSize {
		return nil, fmt.Errorf("%s is %s, the limit is %s: %w", filepath.Base(path),
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(chatapp.MaxUploadSize), chatapp.ErrFileTooLarge)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &chatapp.Attachment{FileName: filepath.Base(path), Data: data}, nil
}

// maskToken shows the first and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
