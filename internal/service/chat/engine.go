package chat

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/chatclient/internal/logging"
	"github.com/zhouzirui/z-tavern/chatclient/internal/metrics"
	"github.com/zhouzirui/z-tavern/chatclient/internal/model/chat"
	"github.com/zhouzirui/z-tavern/chatclient/internal/model/presence"
)

// State is the lifecycle of the conversation view.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Sender forwards a message to the broker without waiting for a reply.
type Sender interface {
	Send(toUserID int64, content string)
}

// Fetch identifies one history request. Results are only applied while the
// conversation that issued it is still open.
type Fetch struct {
	FriendID   int64
	Generation uint64
	Page       int
}

type pendingKey struct {
	friendID int64
	content  string
}

// Engine is the per-conversation reconciliation state machine. It is not
// safe for concurrent use; the Controller drives it from one goroutine.
type Engine struct {
	selfID  int64
	sender  Sender
	now     func() time.Time
	log     *logrus.Entry
	metrics *metrics.Metrics

	state      State
	friend     presence.Entry
	generation uint64
	nextPage   int
	messages   []chat.Message
	keys       map[string]struct{}
	pending    map[pendingKey]int64
	backlog    []chat.Message
	lastLocal  int64
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// SelfID is the signed-in user. Zero disables optimistic entries and
	// echo matching.
	SelfID  int64
	Now     func() time.Time
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// NewEngine returns an idle engine that forwards sends to sender.
func NewEngine(sender Sender, opts EngineOptions) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Discard()
	}
	e := &Engine{
		selfID:  opts.SelfID,
		sender:  sender,
		now:     now,
		log:     logging.Component(opts.Logger, "chat"),
		metrics: m,
	}
	e.reset()
	return e
}

// SetSelfID updates the signed-in user once it is known.
func (e *Engine) SetSelfID(id int64) {
	e.selfID = id
}

// SelfID returns the signed-in user id, or zero when unknown.
func (e *Engine) SelfID() int64 {
	return e.selfID
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// ActiveFriend returns the friend of the open conversation.
func (e *Engine) ActiveFriend() (presence.Entry, bool) {
	if e.state == StateIdle {
		return presence.Entry{}, false
	}
	return e.friend, true
}

// Messages returns a copy of the displayed log.
func (e *Engine) Messages() []chat.Message {
	out := make([]chat.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Pending returns the number of sends awaiting their echo.
func (e *Engine) Pending() int {
	return len(e.pending)
}

// OpenChat switches to friend, discarding the previous log and pending
// sends, and returns the ticket for the first history page.
func (e *Engine) OpenChat(friend presence.Entry) Fetch {
	e.reset()
	e.generation++
	e.state = StateLoading
	e.friend = friend

	e.log.WithFields(logrus.Fields{
		"friend":     friend.UserID,
		"generation": e.generation,
	}).Debug("conversation opened")

	return e.nextFetch()
}

// LoadMore returns the ticket for the next older page of the open
// conversation.
func (e *Engine) LoadMore() (Fetch, bool) {
	if e.state != StateActive {
		return Fetch{}, false
	}
	return e.nextFetch(), true
}

func (e *Engine) nextFetch() Fetch {
	f := Fetch{FriendID: e.friend.UserID, Generation: e.generation, Page: e.nextPage}
	e.nextPage++
	return f
}

// CloseChat returns to Idle and discards all conversation state. History
// results still in flight become stale.
func (e *Engine) CloseChat() {
	if e.state != StateIdle {
		e.log.WithField("friend", e.friend.UserID).Debug("conversation closed")
	}
	e.reset()
	e.generation++
}

func (e *Engine) reset() {
	e.state = StateIdle
	e.friend = presence.Entry{}
	e.nextPage = 0
	e.messages = nil
	e.keys = make(map[string]struct{})
	e.pending = make(map[pendingKey]int64)
	e.backlog = nil
	e.metrics.PendingPlaceholder.Set(0)
}

// ApplyHistory merges a fetched page. Stale tickets are ignored and false is
// returned. A failed fetch leaves the log untouched. Either way a Loading
// conversation becomes Active and inbound messages buffered meanwhile are
// replayed.
func (e *Engine) ApplyHistory(f Fetch, page []chat.Message, err error) bool {
	if e.state == StateIdle || f.FriendID != e.friend.UserID || f.Generation != e.generation {
		e.metrics.StaleHistory.Inc()
		e.log.WithFields(logrus.Fields{
			"friend":     f.FriendID,
			"generation": f.Generation,
		}).Debug("discarding stale history result")
		return false
	}

	if err != nil {
		e.metrics.HistoryFetches.WithLabelValues(metrics.ResultError).Inc()
		e.log.WithError(err).WithField("friend", f.FriendID).Error("messages load failed")
	} else {
		e.metrics.HistoryFetches.WithLabelValues(metrics.ResultOK).Inc()
		e.merge(page)
	}

	if e.state == StateLoading {
		e.state = StateActive
		backlog := e.backlog
		e.backlog = nil
		for _, msg := range backlog {
			e.apply(msg)
		}
	}
	return true
}

// merge keeps every displayed entry in place, then appends server messages
// whose key is not already shown.
func (e *Engine) merge(page []chat.Message) {
	for _, msg := range page {
		e.appendUnique(msg)
	}
}

// HandleInbound processes one message from the realtime stream.
func (e *Engine) HandleInbound(msg chat.Message) {
	switch e.state {
	case StateIdle:
		return
	case StateLoading:
		if e.relevant(msg) {
			e.backlog = append(e.backlog, msg)
		}
	case StateActive:
		e.apply(msg)
	}
}

func (e *Engine) relevant(msg chat.Message) bool {
	if msg.SenderID == e.friend.UserID {
		return true
	}
	return e.selfID != 0 && msg.SenderID == e.selfID
}

func (e *Engine) apply(msg chat.Message) {
	if !e.relevant(msg) {
		return
	}

	if e.selfID != 0 && msg.SenderID == e.selfID {
		key := pendingKey{friendID: e.friend.UserID, content: chat.NormalizeContent(msg.Content)}
		if localID, ok := e.pending[key]; ok {
			delete(e.pending, key)
			e.metrics.PendingPlaceholder.Set(float64(len(e.pending)))
			if e.reconcile(localID, msg) {
				return
			}
		}
	}

	e.appendUnique(msg)
}

// reconcile swaps the placeholder localID for its echo in place. When the
// echo is already displayed the placeholder is removed instead.
func (e *Engine) reconcile(localID int64, echo chat.Message) bool {
	idx := -1
	for i, m := range e.messages {
		if m.ID == nil && m.LocalID == localID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	placeholder := e.messages[idx]
	delete(e.keys, placeholder.Key())

	key := echo.Key()
	if _, dup := e.keys[key]; dup {
		e.messages = append(e.messages[:idx], e.messages[idx+1:]...)
		e.metrics.DuplicatesDropped.Inc()
	} else {
		e.messages[idx] = echo
		e.keys[key] = struct{}{}
	}
	e.metrics.Reconciled.Inc()
	return true
}

func (e *Engine) appendUnique(msg chat.Message) {
	key := msg.Key()
	if _, dup := e.keys[key]; dup {
		e.metrics.DuplicatesDropped.Inc()
		return
	}
	e.keys[key] = struct{}{}
	e.messages = append(e.messages, msg)
}

// Send shows content immediately as a placeholder and forwards it to the
// broker. It reports false, doing nothing, when no conversation is open or
// content is blank.
//
// Two identical sends before the first echo share one pending key; the later
// placeholder wins and the earlier one is left unresolved.
func (e *Engine) Send(content string) bool {
	text := chat.NormalizeContent(content)
	if e.state == StateIdle || text == "" {
		return false
	}
	friendID := e.friend.UserID

	if e.selfID != 0 {
		e.lastLocal--
		placeholder := chat.Message{
			SenderID:  e.selfID,
			Content:   text,
			CreatedAt: e.now().UTC(),
			LocalID:   e.lastLocal,
		}
		e.appendUnique(placeholder)
		e.pending[pendingKey{friendID: friendID, content: text}] = e.lastLocal
		e.metrics.PendingPlaceholder.Set(float64(len(e.pending)))
	}

	e.sender.Send(friendID, text)
	return true
}
