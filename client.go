// Package chatapp is a Go client for the Chatapp messaging service and a
// polling-based conversation synchronization engine built on top of it.
//
// Example:
//
//	client := chatapp.NewClient(token, chatapp.WithBaseURL("http://localhost:8000"))
//	engine := chatapp.NewEngine(client, nil)
//	engine.On(chatapp.EventConversationUpdated, func(_ string, p any) { ... })
//	_ = engine.Start(ctx)
//	defer engine.Close()
//
//	engine.Open(ctx, "6523f0c2...")
//	engine.Send(ctx, chatapp.Draft{Content: "hello"})
package chatapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL    = "http://localhost:8000"
	DefaultTimeout    = 30 * time.Second
	DefaultUploadPath = "/upload/media"
	DefaultRateLimit  = 20
	DefaultRateBurst  = 10

	// MaxUploadSize mirrors the service-side limit.
	MaxUploadSize = 5 * 1024 * 1024
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	token      string
	baseURL    string
	uploadPath string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithRateLimit paces outgoing requests. A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithUploadPath sets the path of the media upload service.
func WithUploadPath(path string) ClientOption {
	return func(c *Client) { c.uploadPath = path }
}

func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient creates a client. token may be empty for signup and login.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:      token,
		baseURL:    DefaultBaseURL,
		uploadPath: DefaultUploadPath,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(DefaultRateLimit, DefaultRateBurst),
		log:     zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the bearer token, e.g. after Login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured service root.
func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	return c.doRequestWithHeaders(ctx, method, path, body, query, nil)
}

func (c *Client) doRequestWithHeaders(ctx context.Context, method, path string, body interface{}, query map[string]string, headers map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.execute(req)
}

func (c *Client) execute(req *http.Request) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err),
		)
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("failed to read response: %w", err)}
	}
	c.log.Debug("request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)
	if resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, data)
	}
	return data, nil
}

// newAPIError reads the service error body: {"detail": "..."} or, for
// validation failures, {"detail": [...]}.
func newAPIError(status int, data []byte) *APIError {
	e := &APIError{Status: status}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		e.Message = strings.TrimSpace(string(data))
		return e
	}
	raw, ok := body["detail"]
	if !ok {
		return e
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		e.Message = s
	} else {
		e.Message = string(raw)
	}
	return e
}

// ============================================================================
// Conversations
// ============================================================================

// ListConversations returns the conversations the current user participates in.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	data, err := c.doRequest(ctx, "GET", "/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeSummaries(data, c.log)
}

// GetConversation returns a conversation with its full message history.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	data, err := c.doRequest(ctx, "GET", "/conversations/"+url.PathEscape(conversationID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeConversation(data, c.log)
}

// ListMessages returns the message history of a conversation. When after is
// set the service may return only the messages following that ID.
func (c *Client) ListMessages(ctx context.Context, conversationID, after string) ([]Message, error) {
	var query map[string]string
	if after != "" {
		query = map[string]string{"after": after}
	}
	data, err := c.doRequest(ctx, "GET", "/conversations/"+url.PathEscape(conversationID)+"/messages", nil, query)
	if err != nil {
		return nil, err
	}
	return decodeMessages(data, c.log)
}

// SendMessage submits a message and returns the server-confirmed copy.
func (c *Client) SendMessage(ctx context.Context, conversationID, content, media string) (*Message, error) {
	payload := map[string]interface{}{"content": content}
	if media != "" {
		payload["media"] = media
	}
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	data, err := c.doRequestWithHeaders(ctx, "POST", "/conversations/"+url.PathEscape(conversationID)+"/messages", payload, nil, headers)
	if err != nil {
		return nil, err
	}
	return decodeMessage(data, c.log)
}

// AddReaction increments the count of symbol on a message.
func (c *Client) AddReaction(ctx context.Context, conversationID, messageID, symbol string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(messageID) + "/reactions"
	_, err := c.doRequest(ctx, "POST", path, map[string]string{"reaction": symbol}, nil)
	return err
}

// CreateConversation creates a conversation. The service adds the caller to
// the participants.
func (c *Client) CreateConversation(ctx context.Context, opts *CreateConversationOptions) (*Conversation, error) {
	if opts == nil || len(opts.Participants) == 0 {
		return nil, fmt.Errorf("at least one participant is required")
	}
	data, err := c.doRequest(ctx, "POST", "/conversations", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeConversation(data, c.log)
}

// ============================================================================
// Users & account
// ============================================================================

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	data, err := c.doRequest(ctx, "GET", "/users", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeUsers(data, c.log)
}

func (c *Client) GetUser(ctx context.Context, name string) (*User, error) {
	data, err := c.doRequest(ctx, "GET", "/users/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeUser(data)
}

// Me returns the profile of the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	data, err := c.doRequest(ctx, "GET", "/users/me", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeUser(data)
}

func (c *Client) UpdateBio(ctx context.Context, bio string) (*User, error) {
	data, err := c.doRequest(ctx, "PUT", "/users/me/bio", map[string]string{"bio": bio}, nil)
	if err != nil {
		return nil, err
	}
	return decodeUser(data)
}

func (c *Client) Signup(ctx context.Context, opts *SignupOptions) (*User, error) {
	if opts == nil || opts.Name == "" || opts.Password == "" {
		return nil, fmt.Errorf("name and password are required")
	}
	data, err := c.doRequest(ctx, "POST", "/signup", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeUser(data)
}

// Login exchanges credentials for a bearer token. The token is not installed
// on the client; call SetToken.
func (c *Client) Login(ctx context.Context, name, password string) (*LoginResult, error) {
	data, err := c.doRequest(ctx, "POST", "/login", map[string]string{"name": name, "password": password}, nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[LoginResult](data)
	if err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, fmt.Errorf("%w: login response without access_token", ErrInvalidPayload)
	}
	return res, nil
}

// ============================================================================
// Uploads
// ============================================================================

// UploadMedia sends an attachment to the upload service and returns its URL.
func (c *Client) UploadMedia(ctx context.Context, att *Attachment) (*UploadResult, error) {
	return c.upload(ctx, c.uploadPath, att)
}

// UploadAvatar replaces the avatar of the current user. Only images are accepted.
func (c *Client) UploadAvatar(ctx context.Context, att *Attachment) (*UploadResult, error) {
	if att != nil && !strings.HasPrefix(mimeTypeOf(att), "image/") {
		return nil, fmt.Errorf("avatar must be an image, got %s", mimeTypeOf(att))
	}
	return c.upload(ctx, "/upload/avatar/", att)
}

func (c *Client) upload(ctx context.Context, path string, att *Attachment) (*UploadResult, error) {
	if att == nil || att.FileName == "" {
		return nil, fmt.Errorf("fileName is required when uploading bytes")
	}
	if len(att.Data) > MaxUploadSize {
		return nil, ErrFileTooLarge
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(att.FileName)))
	h.Set("Content-Type", mimeTypeOf(att))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(att.Data); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	data, err := c.execute(req)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	u := strOr(body, "url", strOr(body, "avatar_url", strOr(body, "media", "")))
	if u == "" {
		return nil, fmt.Errorf("%w: upload response without url", ErrInvalidPayload)
	}
	return &UploadResult{URL: u}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

func mimeTypeOf(att *Attachment) string {
	if att.MimeType != "" {
		return att.MimeType
	}
	return guessMimeType(att.FileName)
}

func guessMimeType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return "application/octet-stream"
	}
	// Not in every platform's registry.
	fallback := map[string]string{
		".webp": "image/webp", ".webm": "video/webm", ".heic": "image/heic",
		".m4a": "audio/mp4", ".md": "text/markdown",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}
