package chatapp

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type conversationLister interface {
	ListConversations(ctx context.Context) ([]ConversationSummary, error)
}

// ListPoller keeps the conversation list fresh. Every successful tick
// replaces the list wholesale; a failed tick keeps the previous one.
type ListPoller struct {
	source   conversationLister
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
	metrics  *Metrics
	notify   func(event string, payload any)

	mu     sync.RWMutex
	list   []ConversationSummary
	loaded bool
}

func newListPoller(source conversationLister, opts *Options, notify func(string, any)) *ListPoller {
	return &ListPoller{
		source:   source,
		interval: opts.ListInterval,
		timeout:  opts.RequestTimeout,
		log:      opts.Logger.Named("conversations"),
		metrics:  opts.Metrics,
		notify:   notify,
	}
}

// Tick fetches the list once.
func (p *ListPoller) Tick(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	list, err := p.source.ListConversations(rctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.metrics.poll("conversations", err)
	if err != nil {
		p.log.Warn("conversation list poll failed", zap.Error(err))
		if p.notify != nil {
			p.notify(EventSyncError, &SyncError{Component: "conversations", Err: err})
		}
		return err
	}

	p.mu.Lock()
	p.list = list
	p.loaded = true
	p.mu.Unlock()

	if p.notify != nil {
		p.notify(EventConversationsUpdated, cloneSummaries(list))
	}
	return nil
}

// Start polls until the returned task is stopped or ctx ends.
func (p *ListPoller) Start(ctx context.Context, immediate bool) *Task {
	return every(ctx, "conversations", p.interval, immediate, func(ctx context.Context) {
		_ = p.Tick(ctx)
	})
}

// Conversations returns a copy of the last successfully fetched list.
func (p *ListPoller) Conversations() []ConversationSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneSummaries(p.list)
}

// Loaded reports whether at least one tick succeeded.
func (p *ListPoller) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loaded
}

func cloneSummaries(in []ConversationSummary) []ConversationSummary {
	if in == nil {
		return nil
	}
	out := make([]ConversationSummary, len(in))
	for i, s := range in {
		s.Participants = append([]string(nil), s.Participants...)
		if s.LastMessage != nil {
			m := s.LastMessage.clone()
			s.LastMessage = &m
		}
		out[i] = s
	}
	return out
}
