package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/chatclient/internal/logging"
	"github.com/zhouzirui/z-tavern/chatclient/internal/metrics"
	presencemodel "github.com/zhouzirui/z-tavern/chatclient/internal/model/presence"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/api"
)

// DefaultInterval is the refresh period used when none is configured.
const DefaultInterval = 10 * time.Second

// Fetcher returns the caller's friends with their online status.
type Fetcher interface {
	FetchFriends(ctx context.Context) ([]presencemodel.Entry, error)
}

// Client implements Fetcher over the REST API.
type Client struct {
	api *api.Client
}

// NewClient wraps an API client.
func NewClient(apiClient *api.Client) *Client {
	return &Client{api: apiClient}
}

// FetchFriends calls GET /presence/friends.
func (c *Client) FetchFriends(ctx context.Context) ([]presencemodel.Entry, error) {
	var entries []presencemodel.Entry
	if err := c.api.GetJSON(ctx, "/presence/friends", nil, &entries); err != nil {
		return nil, fmt.Errorf("fetch presence: %w", err)
	}
	return entries, nil
}

// Poller keeps the displayed friend list current. Every refresh replaces the
// list wholesale; a failed refresh empties it.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	log      *logrus.Entry
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	friends []presencemodel.Entry
	loading bool

	updates chan struct{}
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Interval time.Duration
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
}

// NewPoller creates a Poller. It does nothing until Refresh or Run is called.
func NewPoller(fetcher Fetcher, opts PollerOptions) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Discard()
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		log:      logging.Component(opts.Logger, "presence"),
		metrics:  m,
		friends:  []presencemodel.Entry{},
		updates:  make(chan struct{}, 1),
	}
}

// Refresh fetches the list once. showLoading raises the loading flag for
// the duration of the call.
func (p *Poller) Refresh(ctx context.Context, showLoading bool) {
	if showLoading {
		p.setLoading(true)
	}

	entries, err := p.fetcher.FetchFriends(ctx)

	p.mu.Lock()
	p.loading = false
	if err != nil {
		p.friends = []presencemodel.Entry{}
	} else {
		p.friends = presencemodel.SortOnlineFirst(entries)
	}
	online := 0
	for _, f := range p.friends {
		if f.Online {
			online++
		}
	}
	total := len(p.friends)
	p.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			p.log.WithError(err).Error("presence refresh failed, friend list cleared")
		}
		p.metrics.PresencePolls.WithLabelValues(metrics.ResultError).Inc()
	} else {
		p.log.WithFields(logrus.Fields{
			"friends": total,
			"online":  online,
		}).Debug("presence refreshed")
		p.metrics.PresencePolls.WithLabelValues(metrics.ResultOK).Inc()
	}
	p.metrics.FriendsOnline.Set(float64(online))
	p.notify()
}

// Run refreshes immediately with the loading indicator, then on every tick
// until ctx is done. It always returns nil.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Refresh(ctx, true)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Refresh(ctx, false)
		}
	}
}

// Friends returns a copy of the current list, online friends first.
func (p *Poller) Friends() []presencemodel.Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]presencemodel.Entry, len(p.friends))
	copy(out, p.friends)
	return out
}

// Find returns the friend with userID from the current list.
func (p *Poller) Find(userID int64) (presencemodel.Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, f := range p.friends {
		if f.UserID == userID {
			return f, true
		}
	}
	return presencemodel.Entry{}, false
}

// Loading reports whether a refresh with the loading indicator is running.
func (p *Poller) Loading() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loading
}

// Updates signals after each refresh. Signals coalesce.
func (p *Poller) Updates() <-chan struct{} {
	return p.updates
}

func (p *Poller) setLoading(v bool) {
	p.mu.Lock()
	p.loading = v
	p.mu.Unlock()
	p.notify()
}

func (p *Poller) notify() {
	select {
	case p.updates <- struct{}{}:
	default:
	}
}
