package chatapp

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type conversationGetter interface {
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
}

// Loader fetches a conversation in full and installs it as the open state.
type Loader struct {
	source  conversationGetter
	state   *ConversationState
	timeout time.Duration
	log     *zap.Logger
	metrics *Metrics
	notify  func(event string, payload any)
}

func newLoader(source conversationGetter, state *ConversationState, opts *Options, notify func(string, any)) *Loader {
	return &Loader{
		source:  source,
		state:   state,
		timeout: opts.RequestTimeout,
		log:     opts.Logger.Named("loader"),
		metrics: opts.Metrics,
		notify:  notify,
	}
}

// Load fetches the conversation cur points at. The result is dropped when
// another conversation was opened in the meantime. Failures are reported and
// not retried here.
func (l *Loader) Load(ctx context.Context, cur Cursor) error {
	rctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	conv, err := l.source.GetConversation(rctx, cur.ConversationID)
	l.metrics.poll("loader", err)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if l.state.Generation() != cur.Generation {
			return nil
		}
		l.log.Warn("conversation load failed",
			zap.String("conversation", cur.ConversationID),
			zap.Uint64("generation", cur.Generation),
			zap.Error(err),
		)
		if l.notify != nil {
			l.notify(EventSyncError, &SyncError{Component: "loader", ConversationID: cur.ConversationID, Err: err})
		}
		return err
	}

	res := l.state.Replace(cur, conv)
	l.metrics.applied("load", res)
	if res.Stale {
		l.log.Debug("discarding stale conversation load",
			zap.String("conversation", cur.ConversationID),
			zap.Uint64("generation", cur.Generation),
		)
		if l.notify != nil {
			l.notify(EventStaleDiscarded, cur)
		}
		return nil
	}
	l.log.Debug("conversation loaded",
		zap.String("conversation", cur.ConversationID),
		zap.Int("messages", len(conv.Messages)),
	)
	return nil
}
