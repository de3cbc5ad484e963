package chatapp

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("engine is closed")

// Backend is the part of the service the engine talks to. *Client
// implements it.
type Backend interface {
	userLister
	conversationLister
	conversationGetter
	messageLister
	mutationTarget
}

// Options configures the Engine.
type Options struct {
	ListInterval    time.Duration
	MessageInterval time.Duration
	RequestTimeout  time.Duration
	FetchMode       FetchMode
	Logger          *zap.Logger
	Metrics         *Metrics
}

func (o *Options) defaults() {
	if o.ListInterval <= 0 {
		o.ListInterval = 5 * time.Second
	}
	if o.MessageInterval <= 0 {
		o.MessageInterval = 3 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.FetchMode == "" {
		o.FetchMode = FetchFull
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Engine keeps a local view of the conversation list and of one open
// conversation in sync with the service by polling.
//
// Handlers registered with On run on the goroutine that produced the event
// and must not call Open or Close.
type Engine struct {
	*emitter

	opts      Options
	log       *zap.Logger
	directory *Directory
	state     *ConversationState
	lists     *ListPoller
	loader    *Loader
	sync      *Synchronizer
	mutations *Mutations

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listTask *Task
	syncTask *Task
	closed   bool
}

// NewEngine wires the engine components around backend. opts may be nil.
func NewEngine(backend Backend, opts *Options) *Engine {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.defaults()

	e := &Engine{
		emitter: newEmitter(),
		opts:    o,
		log:     o.Logger,
		state:   NewConversationState(),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.directory = NewDirectory(backend, o.Logger.Named("directory"))
	e.lists = newListPoller(backend, &o, e.emit)
	e.loader = newLoader(backend, e.state, &o, e.emit)
	e.sync = newSynchronizer(backend, e.loader, e.state, &o, e.emit)
	e.mutations = newMutations(backend, e.state, &o, e.emit)
	e.state.OnChange(func(c *Conversation) {
		e.emit(EventConversationUpdated, c)
	})
	return e
}

// Start loads the directory and the first conversation list concurrently,
// then keeps polling the list. The engine runs even when an initial fetch
// failed; the first such error is returned.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.listTask != nil {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error { return e.directory.Refresh(ctx) })
	g.Go(func() error { return e.lists.Tick(ctx) })
	err := g.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.listTask == nil {
		e.listTask = e.lists.Start(e.ctx, false)
	}
	return err
}

// Open switches the engine to conversation id: the running synchronizer is
// stopped, a new generation begins, the conversation is loaded and a new
// synchronizer starts. An empty id closes the current conversation.
// A failed load is returned; the synchronizer keeps retrying it on its ticks.
func (e *Engine) Open(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.syncTask.Stop()
	e.syncTask = nil
	cur := e.state.Open(id)
	if id != "" {
		e.syncTask = e.sync.Start(e.ctx)
	}
	e.mu.Unlock()

	if id == "" {
		return nil
	}
	e.log.Debug("conversation opened", zap.String("conversation", id), zap.Uint64("generation", cur.Generation))
	return e.loader.Load(ctx, cur)
}

// Close stops every background task and drops all handlers.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cancel()
	lt, st := e.listTask, e.syncTask
	e.listTask, e.syncTask = nil, nil
	e.mu.Unlock()

	lt.Stop()
	st.Stop()
	e.removeAll()
}

// Send submits a draft to the open conversation.
func (e *Engine) Send(ctx context.Context, draft Draft) (*Message, error) {
	return e.mutations.Send(ctx, draft)
}

// React adds a reaction to a message of the open conversation.
func (e *Engine) React(ctx context.Context, messageID, symbol string) error {
	return e.mutations.React(ctx, messageID, symbol)
}

// Conversations returns the last polled conversation list.
func (e *Engine) Conversations() []ConversationSummary {
	return e.lists.Conversations()
}

// Conversation returns a copy of the open conversation, or nil.
func (e *Engine) Conversation() *Conversation {
	return e.state.Snapshot()
}

func (e *Engine) Directory() *Directory { return e.directory }

// Sync runs one synchronizer step immediately.
func (e *Engine) Sync(ctx context.Context) error {
	return e.sync.Tick(ctx)
}

// RefreshConversations polls the conversation list immediately.
func (e *Engine) RefreshConversations(ctx context.Context) error {
	return e.lists.Tick(ctx)
}
