package chatapp

import "sync"

// Events emitted by the engine.
const (
	EventConversationsUpdated = "conversations.updated" // []ConversationSummary
	EventConversationUpdated  = "conversation.updated"  // *Conversation, nil when closed
	EventSyncError            = "sync.error"            // *SyncError
	EventSendFailed           = "send.failed"           // *SendError
	EventReactionFailed       = "reaction.failed"       // *ReactionError
	EventStaleDiscarded       = "stale.discarded"       // Cursor
)

// EventHandler receives an event name and its payload.
type EventHandler func(event string, payload any)

// SyncError describes a failed background request. The component keeps its
// previous state and retries on its next tick.
type SyncError struct {
	Component      string
	ConversationID string
	Err            error
}

func (e *SyncError) Error() string {
	if e.ConversationID == "" {
		return e.Component + ": " + e.Err.Error()
	}
	return e.Component + " " + e.ConversationID + ": " + e.Err.Error()
}

func (e *SyncError) Unwrap() error { return e.Err }

type emitter struct {
	mu        sync.RWMutex
	listeners map[string][]EventHandler
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[string][]EventHandler)}
}

// On registers handler for event. Handlers run on the goroutine that
// produced the event.
func (e *emitter) On(event string, handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], handler)
}

func (e *emitter) emit(event string, payload any) {
	e.mu.RLock()
	handlers := e.listeners[event]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // a panicking handler must not kill a poller
			h(event, payload)
		}()
	}
}

func (e *emitter) removeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]EventHandler)
}
