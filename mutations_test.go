package chatapp

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMutations(t *testing.T, f *fakeServer, convID string) (*Mutations, *Synchronizer, *ConversationState, *Options, *recorder) {
	t.Helper()
	s, state, opts, rec := newTestSynchronizer(t, f, FetchFull)
	m := newMutations(f.client(), state, opts, rec.record)
	if convID != "" {
		state.Open(convID)
		require.NoError(t, s.Tick(context.Background()))
	}
	return m, s, state, opts, rec
}

func TestSendAppendsConfirmedMessageOnce(t *testing.T) {
	f := newFakeServer(t)
	f.addConversation("c1", "", "alice", "bob")
	f.addMessage("c1", "bob", "hi")
	m, s, state, opts, _ := newTestMutations(t, f, "c1")
	ctx := context.Background()

	msg, err := m.Send(ctx, Draft{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls(&f.sendCalls))

	snap := state.Snapshot()
	assert.Equal(t, []string{"m1", msg.ID}, ids(snap))
	assert.Equal(t, msg.ID, snap.HighWater)
	assert.Equal(t, "hello", snap.Messages[1].Content)

	// the next poll sees the same message and must not duplicate it
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, []string{"m1", msg.ID}, ids(state.Snapshot()))
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.mutations.WithLabelValues("send", "ok")))
}

func TestSendWithAttachment(t *testing.T) {
	f := newFakeServer(t)
	f.addConversation("c1", "", "alice", "bob")
	m, _, state, _, _ := newTestMutations(t, f, "c1")

	msg, err := m.Send(context.Background(), Draft{Attachment: &Attachment{FileName: "cat.png", Data: []byte("png")}})
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/uploads/cat.png", msg.Media)
	assert.Equal(t, 1, f.calls(&f.uploadCalls))
	assert.Equal(t, "http://cdn/uploads/cat.png", state.Snapshot().Messages[0].Media)
}

func TestSendUploadFailureKeepsDraft(t *testing.T) {
	f := newFakeServer(t)
	f.addConversation("c1", "", "alice", "bob")
	f.addMessage("c1", "bob", "hi")
	m, _, state, opts, rec := newTestMutations(t, f, "c1")
	f.set(func() { f.failUpload = true })

	draft := Draft{Content: "look", Attachment: &Attachment{FileName: "cat.png", Data: []byte("png")}}
	_, err := m.Send(context.Background(), draft)

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, StageUpload, sendErr.Stage)
	assert.Equal(t, draft, sendErr.Draft)
	assert.Equal(t, 0, f.calls(&f.sendCalls), "nothing is submitted after a failed upload")
	assert.Len(t, state.Snapshot().Messages, 1)
	assert.Len(t, rec.get(EventSendFailed), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.mutations.WithLabelValues("send", "upload_error")))
}

func TestSendSubmitFailure(t *testing.T) {
	f := newFakeServer(t)
	f.addConversation("c1", "", "alice", "bob")
	m, _, state, _, _ := newTestMutations(t, f, "c1")
	f.set(func() { f.failSend = true })

	_, err := m.Send(context.Background(), Draft{Content: "hello"})
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, StageSubmit, sendErr.Stage)
	assert.Equal(t, "hello", sendErr.Draft.Content)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)

	assert.Equal(t, 1, f.calls(&f.sendCalls), "no silent retry")
	assert.Empty(t, state.Snapshot().Messages)
}

func TestSendValidation(t *testing.T) {
	f := newFakeServer(t)
	f.addConversation("c1", "", "alice", "bob")

	m, _, _, _, _ := newTestMutations(t, f, "")
	_, err := m.Send(context.Background(), Draft{Content: "hello"})
	assert.ErrorIs(t, err, ErrNoConversation)

	m, _, _, _, _ = newTestMutations(t, f, "c1")
	_, err = m.Send(context.Background(), Draft{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyDraft)
	assert.Equal(t, 0, f.calls(&f.sendCalls))
}

func TestReact(t *testing.T) {
	f := newFakeServer(t)
	f.addConversation("c1", "", "alice", "bob")
	f.addMessage("c1", "bob", "hi")
	m, s, state, _, rec := newTestMutations(t, f, "c1")
	ctx := context.Background()

	t.Run("accepted", func(t *testing.T) {
		require.NoError(t, m.React(ctx, "m1", "👍"))
		assert.Equal(t, 1, state.Snapshot().Messages[0].Reactions["👍"])

		// the server agrees on the next poll
		require.NoError(t, s.Tick(ctx))
		assert.Equal(t, 1, state.Snapshot().Messages[0].Reactions["👍"])
	})

	t.Run("rejected", func(t *testing.T) {
		f.set(func() { f.failReact = true })
		err := m.React(ctx, "m1", "❤️")
		var reactErr *ReactionError
		require.ErrorAs(t, err, &reactErr)
		assert.Equal(t, "m1", reactErr.MessageID)
		assert.Equal(t, "❤️", reactErr.Symbol)
		assert.Zero(t, state.Snapshot().Messages[0].Reactions["❤️"])
		assert.Equal(t, 1, state.Snapshot().Messages[0].Reactions["👍"])
		assert.Len(t, rec.get(EventReactionFailed), 1)
	})
}

type blockingTarget struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingTarget) UploadMedia(context.Context, *Attachment) (*UploadResult, error) {
	return nil, errors.New("not used")
}

func (b *blockingTarget) SendMessage(_ context.Context, _, content, _ string) (*Message, error) {
	close(b.entered)
	<-b.release
	return &Message{ID: "late", Sender: "alice", Content: content}, nil
}

func (b *blockingTarget) AddReaction(context.Context, string, string, string) error { return nil }

func TestSendConfirmedAfterSwitchLeavesNewConversationAlone(t *testing.T) {
	opts := testOptions(t)
	state := NewConversationState()
	target := &blockingTarget{entered: make(chan struct{}), release: make(chan struct{})}
	m := newMutations(target, state, opts, nil)

	curA := state.Open("A")
	state.Replace(curA, &Conversation{ID: "A", Participants: []string{"alice"}, Messages: msgs("a1")})

	done := make(chan error, 1)
	go func() {
		_, err := m.Send(context.Background(), Draft{Content: "for A"})
		done <- err
	}()
	<-target.entered

	curB := state.Open("B")
	state.Replace(curB, &Conversation{ID: "B", Participants: []string{"alice"}, Messages: msgs("b1")})
	close(target.release)

	require.NoError(t, <-done)
	assert.Equal(t, []string{"b1"}, ids(state.Snapshot()))
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.stale.WithLabelValues("send")))
}
