package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-tavern/chatclient/internal/logging"
	"github.com/zhouzirui/z-tavern/chatclient/internal/metrics"
	"github.com/zhouzirui/z-tavern/chatclient/internal/model/chat"
	"github.com/zhouzirui/z-tavern/chatclient/internal/model/presence"
)

var (
	ErrNotRunning = errors.New("chat controller is not running")
	ErrNoChat     = errors.New("no conversation is open")
	ErrEmptyDraft = errors.New("message is empty")
	ErrLoading    = errors.New("history is still loading")
)

// Realtime is the broker session as seen by the controller.
type Realtime interface {
	Sender
	Connect(ctx context.Context) error
	Connected() bool
	Subscribe() (<-chan chat.Message, func())
}

// HistoryFetcher loads pages of past messages.
type HistoryFetcher interface {
	FetchPage(ctx context.Context, friendID int64, page, size int) ([]chat.Message, error)
}

// FriendSource is the presence poller feeding the friend list.
type FriendSource interface {
	Run(ctx context.Context) error
	Friends() []presence.Entry
	Loading() bool
	Updates() <-chan struct{}
}

// Snapshot is a consistent view of the controller state.
type Snapshot struct {
	State          string           `json:"state"`
	ActiveFriend   *presence.Entry  `json:"activeFriend,omitempty"`
	Messages       []chat.Message   `json:"messages"`
	Pending        int              `json:"pending"`
	Connected      bool             `json:"connected"`
	Friends        []presence.Entry `json:"friends"`
	FriendsLoading bool             `json:"friendsLoading"`
}

type historyResult struct {
	fetch    Fetch
	messages []chat.Message
	err      error
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	SelfID   int64
	PageSize int
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
}

// Controller orchestrates one conversation at a time on top of a shared
// realtime session. Commands, inbound frames and history results are all
// handled on the goroutine running Run, one at a time.
type Controller struct {
	session  Realtime
	history  HistoryFetcher
	friends  FriendSource
	engine   *Engine
	pageSize int
	log      *logrus.Entry

	commands chan func(ctx context.Context)
	results  chan historyResult
	stopped  chan struct{}
	fetches  sync.WaitGroup

	snapMu   sync.RWMutex
	snapshot Snapshot

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	nextW    int
}

// NewController wires the controller. Nothing runs until Run is called.
func NewController(session Realtime, history HistoryFetcher, friends FriendSource, opts ControllerOptions) *Controller {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 30
	}
	c := &Controller{
		session:  session,
		history:  history,
		friends:  friends,
		pageSize: pageSize,
		log:      logging.Component(opts.Logger, "controller"),
		engine: NewEngine(session, EngineOptions{
			SelfID:  opts.SelfID,
			Logger:  opts.Logger,
			Metrics: opts.Metrics,
		}),
		commands: make(chan func(ctx context.Context)),
		results:  make(chan historyResult),
		stopped:  make(chan struct{}),
		watchers: make(map[int]chan struct{}),
	}
	c.snapshot = Snapshot{State: StateIdle.String(), Messages: []chat.Message{}, Friends: []presence.Entry{}}
	return c
}

// Run connects the session once, starts presence polling and processes
// events until ctx is done. It must be called at most once. A failed
// connect is logged and the controller keeps running without realtime
// delivery.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.stopped)

	if err := c.session.Connect(ctx); err != nil {
		c.log.WithError(err).Warn("realtime connect failed, continuing without live messages")
	}

	inbound, unsubscribe := c.session.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.friends.Run(gctx)
	})
	g.Go(func() error {
		return c.loop(gctx, inbound)
	})

	err := g.Wait()
	c.fetches.Wait()
	return err
}

func (c *Controller) loop(ctx context.Context, inbound <-chan chat.Message) error {
	c.publish()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.commands:
			cmd(ctx)
			continue
		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			c.engine.HandleInbound(msg)
		case res := <-c.results:
			c.engine.ApplyHistory(res.fetch, res.messages, res.err)
		case <-c.friends.Updates():
		}
		c.publish()
	}
}

// do runs fn on the event loop and waits until its effect is published.
func (c *Controller) do(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	cmd := func(loopCtx context.Context) {
		defer close(done)
		fn(loopCtx)
		c.publish()
	}

	select {
	case c.commands <- cmd:
	case <-c.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrNotRunning
	}
}

func (c *Controller) startFetch(ctx context.Context, f Fetch) {
	c.fetches.Add(1)
	go func() {
		defer c.fetches.Done()

		msgs, err := c.history.FetchPage(ctx, f.FriendID, f.Page, c.pageSize)
		select {
		case c.results <- historyResult{fetch: f, messages: msgs, err: err}:
		case <-ctx.Done():
		}
	}()
}

// OpenChat switches the view to friend and starts loading its history.
func (c *Controller) OpenChat(ctx context.Context, friend presence.Entry) error {
	return c.do(ctx, func(loopCtx context.Context) {
		f := c.engine.OpenChat(friend)
		c.startFetch(loopCtx, f)
	})
}

// LoadMore fetches the next older page of the open conversation.
func (c *Controller) LoadMore(ctx context.Context) error {
	var err error
	runErr := c.do(ctx, func(loopCtx context.Context) {
		f, ok := c.engine.LoadMore()
		if !ok {
			if c.engine.State() == StateIdle {
				err = ErrNoChat
			} else {
				err = ErrLoading
			}
			return
		}
		c.startFetch(loopCtx, f)
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// CloseChat closes the open conversation, discarding its log.
func (c *Controller) CloseChat(ctx context.Context) error {
	return c.do(ctx, func(context.Context) {
		c.engine.CloseChat()
	})
}

// Send posts content to the open conversation. Invalid sends are rejected
// locally; a disconnected session drops the message silently.
func (c *Controller) Send(ctx context.Context, content string) error {
	var err error
	runErr := c.do(ctx, func(context.Context) {
		if c.engine.State() == StateIdle {
			err = ErrNoChat
			return
		}
		if !c.engine.Send(content) {
			err = ErrEmptyDraft
		}
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// SetSelfID records the signed-in user once resolved.
func (c *Controller) SetSelfID(ctx context.Context, id int64) error {
	return c.do(ctx, func(context.Context) {
		c.engine.SetSelfID(id)
	})
}

// Reconnect asks the session to connect again after a drop.
func (c *Controller) Reconnect(ctx context.Context) error {
	err := c.session.Connect(ctx)
	c.notify()
	return err
}

// Friends returns the latest presence list, online friends first.
func (c *Controller) Friends() []presence.Entry {
	return c.friends.Friends()
}

// Messages returns the displayed log of the open conversation.
func (c *Controller) Messages() []chat.Message {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return append([]chat.Message(nil), c.snapshot.Messages...)
}

// Snapshot returns the full view state.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	snap := c.snapshot
	c.snapMu.RUnlock()

	snap.Messages = append([]chat.Message{}, snap.Messages...)
	snap.Connected = c.session.Connected()
	snap.Friends = c.friends.Friends()
	snap.FriendsLoading = c.friends.Loading()
	return snap
}

// Watch returns a channel signalled after every state change. Signals
// coalesce; call Snapshot to read the state.
func (c *Controller) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.watchMu.Lock()
	id := c.nextW
	c.nextW++
	c.watchers[id] = ch
	c.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.watchMu.Lock()
			delete(c.watchers, id)
			c.watchMu.Unlock()
		})
	}
}

// publish copies the engine state for readers on other goroutines.
func (c *Controller) publish() {
	snap := Snapshot{
		State:    c.engine.State().String(),
		Messages: c.engine.Messages(),
		Pending:  c.engine.Pending(),
	}
	if friend, ok := c.engine.ActiveFriend(); ok {
		snap.ActiveFriend = &friend
	}

	c.snapMu.Lock()
	c.snapshot = snap
	c.snapMu.Unlock()

	c.notify()
}

func (c *Controller) notify() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for _, ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
