package chatapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrNoConversation = errors.New("no conversation is open")
	ErrEmptyDraft     = errors.New("message has no content and no attachment")
	ErrFileTooLarge   = errors.New("file exceeds maximum size of 5 MB")
	ErrInvalidPayload = errors.New("invalid response payload")
)

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// IsTransient reports whether err is worth retrying on the next poll tick:
// transport failures, timeouts, throttling and server errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "request failed: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// SendStage names the step of a send that failed.
type SendStage string

const (
	StageUpload SendStage = "upload"
	StageSubmit SendStage = "submit"
)

// SendError is returned when a draft could not be delivered. The draft is
// handed back untouched so the caller can keep it in the composer.
type SendError struct {
	Stage SendStage
	Draft Draft
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed at %s: %v", e.Stage, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ReactionError is returned when the service rejected a reaction.
type ReactionError struct {
	MessageID string
	Symbol    string
	Err       error
}

func (e *ReactionError) Error() string {
	return fmt.Sprintf("reaction %s on %s failed: %v", e.Symbol, e.MessageID, e.Err)
}

func (e *ReactionError) Unwrap() error { return e.Err }
