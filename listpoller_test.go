package chatapp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testOptions(t *testing.T) *Options {
	o := &Options{
		ListInterval:    10 * time.Millisecond,
		MessageInterval: 10 * time.Millisecond,
		RequestTimeout:  time.Second,
		Logger:          zaptest.NewLogger(t),
		Metrics:         NewMetrics(prometheus.NewRegistry()),
	}
	o.defaults()
	return o
}

type recorder struct {
	mu     sync.Mutex
	events map[string][]any
}

func newRecorder() *recorder { return &recorder{events: make(map[string][]any)} }

func (r *recorder) record(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event] = append(r.events[event], payload)
}

func (r *recorder) get(event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events[event]...)
}

func TestListPollerKeepsListOnFailure(t *testing.T) {
	f := newFakeServer(t)
	f.addConversation("c1", "Team", "alice", "bob")
	opts := testOptions(t)
	rec := newRecorder()
	p := newListPoller(f.client(), opts, rec.record)
	ctx := context.Background()

	require.NoError(t, p.Tick(ctx))
	require.Len(t, p.Conversations(), 1)

	f.addConversation("c2", "", "alice", "carol")
	f.set(func() { f.failList = 1 })
	assert.Error(t, p.Tick(ctx))
	assert.Len(t, p.Conversations(), 1, "failed tick must not touch the list")
	require.Len(t, rec.get(EventSyncError), 1)

	require.NoError(t, p.Tick(ctx))
	list := p.Conversations()
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[1].ID)

	updates := rec.get(EventConversationsUpdated)
	require.Len(t, updates, 2)
	assert.Len(t, updates[1].([]ConversationSummary), 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(opts.Metrics.polls.WithLabelValues("conversations", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.polls.WithLabelValues("conversations", "error")))
}

func TestListPollerReplacesWholesale(t *testing.T) {
	f := newFakeServer(t)
	f.addConversation("c1", "", "alice", "bob")
	p := newListPoller(f.client(), testOptions(t), nil)
	require.NoError(t, p.Tick(context.Background()))

	f.set(func() {
		delete(f.conversations, "c1")
		f.order = nil
	})
	f.addConversation("c9", "", "alice", "carol")
	require.NoError(t, p.Tick(context.Background()))

	list := p.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, "c9", list[0].ID)
	assert.True(t, p.Loaded())
}

func TestListPollerStartPolls(t *testing.T) {
	f := newFakeServer(t)
	f.addConversation("c1", "", "alice", "bob")
	p := newListPoller(f.client(), testOptions(t), nil)

	task := p.Start(context.Background(), true)
	require.Eventually(t, func() bool { return f.calls(&f.listCalls) >= 3 }, time.Second, 5*time.Millisecond)
	task.Stop()
	time.Sleep(10 * time.Millisecond)

	n := f.calls(&f.listCalls)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, f.calls(&f.listCalls), "no polls after Stop")
}
