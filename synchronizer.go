package chatapp

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type messageLister interface {
	ListMessages(ctx context.Context, conversationID, after string) ([]Message, error)
}

// Synchronizer polls the open conversation for new messages and merges them
// into the state. Until the conversation has loaded, a tick retries the load.
type Synchronizer struct {
	source   messageLister
	loader   *Loader
	state    *ConversationState
	mode     FetchMode
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
	metrics  *Metrics
	notify   func(event string, payload any)
}

func newSynchronizer(source messageLister, loader *Loader, state *ConversationState, opts *Options, notify func(string, any)) *Synchronizer {
	return &Synchronizer{
		source:   source,
		loader:   loader,
		state:    state,
		mode:     opts.FetchMode,
		interval: opts.MessageInterval,
		timeout:  opts.RequestTimeout,
		log:      opts.Logger.Named("sync"),
		metrics:  opts.Metrics,
		notify:   notify,
	}
}

// Tick runs one synchronization step against the open conversation.
func (s *Synchronizer) Tick(ctx context.Context) error {
	cur, ok := s.state.Cursor()
	if !ok {
		return nil
	}
	if !s.state.Loaded() {
		return s.loader.Load(ctx, cur)
	}

	after := ""
	if s.mode == FetchSince {
		after = cur.HighWater
	}
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fetched, err := s.source.ListMessages(rctx, cur.ConversationID, after)
	if ctx.Err() != nil {
		return nil
	}
	s.metrics.poll("sync", err)
	if err != nil {
		if s.state.Generation() != cur.Generation {
			return nil
		}
		s.log.Warn("message sync failed",
			zap.String("conversation", cur.ConversationID),
			zap.Uint64("generation", cur.Generation),
			zap.Bool("transient", IsTransient(err)),
			zap.Error(err),
		)
		if s.notify != nil {
			s.notify(EventSyncError, &SyncError{Component: "sync", ConversationID: cur.ConversationID, Err: err})
		}
		return err
	}

	res := s.state.Merge(cur, fetched, s.mode)
	s.metrics.applied("sync", res)
	switch {
	case res.Stale:
		s.log.Debug("discarding stale message fetch",
			zap.String("conversation", cur.ConversationID),
			zap.Uint64("generation", cur.Generation),
		)
		if s.notify != nil {
			s.notify(EventStaleDiscarded, cur)
		}
	case res.Changed:
		s.log.Debug("messages merged",
			zap.String("conversation", cur.ConversationID),
			zap.Int("appended", res.Appended),
			zap.Bool("replaced", res.Replaced),
		)
	}
	return nil
}

// Start runs Tick every interval until the task is stopped.
func (s *Synchronizer) Start(ctx context.Context) *Task {
	return every(ctx, "sync", s.interval, false, func(ctx context.Context) {
		_ = s.Tick(ctx)
	})
}
