package chatapp

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type mutationTarget interface {
	UploadMedia(ctx context.Context, att *Attachment) (*UploadResult, error)
	SendMessage(ctx context.Context, conversationID, content, media string) (*Message, error)
	AddReaction(ctx context.Context, conversationID, messageID, symbol string) error
}

// Mutations applies user actions. Local state changes only after the service
// confirmed the action, and only if the same conversation is still open.
// Nothing is retried: each failure is returned and reported exactly once.
type Mutations struct {
	target  mutationTarget
	state   *ConversationState
	timeout time.Duration
	log     *zap.Logger
	metrics *Metrics
	notify  func(event string, payload any)
}

func newMutations(target mutationTarget, state *ConversationState, opts *Options, notify func(string, any)) *Mutations {
	return &Mutations{
		target:  target,
		state:   state,
		timeout: opts.RequestTimeout,
		log:     opts.Logger.Named("mutations"),
		metrics: opts.Metrics,
		notify:  notify,
	}
}

// Send uploads the draft's attachment if any, submits the message and
// appends the confirmed copy. On failure a *SendError carrying the draft is
// returned and the state is untouched.
func (m *Mutations) Send(ctx context.Context, draft Draft) (*Message, error) {
	cur, ok := m.state.Cursor()
	if !ok {
		return nil, ErrNoConversation
	}
	if draft.empty() {
		return nil, ErrEmptyDraft
	}

	media := ""
	if draft.Attachment != nil {
		rctx, cancel := context.WithTimeout(ctx, m.timeout)
		up, err := m.target.UploadMedia(rctx, draft.Attachment)
		cancel()
		if err != nil {
			return nil, m.sendFailed(cur, StageUpload, draft, err)
		}
		media = up.URL
	}

	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	msg, err := m.target.SendMessage(rctx, cur.ConversationID, draft.Content, media)
	if err != nil {
		return nil, m.sendFailed(cur, StageSubmit, draft, err)
	}
	m.metrics.mutation("send", "ok")

	res := m.state.AppendConfirmed(cur, *msg)
	m.metrics.applied("send", res)
	if res.Stale {
		m.log.Debug("send confirmed after conversation changed",
			zap.String("conversation", cur.ConversationID),
			zap.String("message", msg.ID),
		)
		if m.notify != nil {
			m.notify(EventStaleDiscarded, cur)
		}
	}
	return msg, nil
}

func (m *Mutations) sendFailed(cur Cursor, stage SendStage, draft Draft, err error) error {
	m.metrics.mutation("send", string(stage)+"_error")
	m.log.Warn("send failed",
		zap.String("conversation", cur.ConversationID),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
	sendErr := &SendError{Stage: stage, Draft: draft, Err: err}
	if m.notify != nil {
		m.notify(EventSendFailed, sendErr)
	}
	return sendErr
}

// React adds symbol to a message. The local count is incremented only after
// the service accepted the reaction.
func (m *Mutations) React(ctx context.Context, messageID, symbol string) error {
	cur, ok := m.state.Cursor()
	if !ok {
		return ErrNoConversation
	}

	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.target.AddReaction(rctx, cur.ConversationID, messageID, symbol); err != nil {
		m.metrics.mutation("reaction", "error")
		m.log.Warn("reaction failed",
			zap.String("conversation", cur.ConversationID),
			zap.String("message", messageID),
			zap.Error(err),
		)
		reactErr := &ReactionError{MessageID: messageID, Symbol: symbol, Err: err}
		if m.notify != nil {
			m.notify(EventReactionFailed, reactErr)
		}
		return reactErr
	}
	m.metrics.mutation("reaction", "ok")

	res, found := m.state.PatchReaction(cur, messageID, symbol)
	m.metrics.applied("reaction", res)
	switch {
	case res.Stale:
		if m.notify != nil {
			m.notify(EventStaleDiscarded, cur)
		}
	case !found:
		m.log.Debug("reaction accepted for a message not in local state",
			zap.String("conversation", cur.ConversationID),
			zap.String("message", messageID),
		)
	}
	return nil
}
