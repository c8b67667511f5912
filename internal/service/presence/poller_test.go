package presence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	presencemodel "github.com/zhouzirui/z-tavern/chatclient/internal/model/presence"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/api"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/auth"
)

type fakeFetcher struct {
	mu      sync.Mutex
	results [][]presencemodel.Entry
	errs    []error
	calls   int
	block   chan struct{}
}

func (f *fakeFetcher) FetchFriends(ctx context.Context) ([]presencemodel.Entry, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return nil, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ids(entries []presencemodel.Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.UserID)
	}
	return out
}

func TestRefreshSortsOnlineFirst(t *testing.T) {
	fetcher := &fakeFetcher{results: [][]presencemodel.Entry{{
		{UserID: 1, Online: false},
		{UserID: 2, Online: true},
		{UserID: 3, Online: true},
	}}}
	poller := NewPoller(fetcher, PollerOptions{})

	poller.Refresh(context.Background(), true)

	assert.Equal(t, []int64{2, 3, 1}, ids(poller.Friends()))
	assert.False(t, poller.Loading())
}

func TestRefreshFailureClearsList(t *testing.T) {
	fetcher := &fakeFetcher{
		results: [][]presencemodel.Entry{{{UserID: 1, Online: true}}},
		errs:    []error{nil, errors.New("boom")},
	}
	poller := NewPoller(fetcher, PollerOptions{})

	poller.Refresh(context.Background(), false)
	require.Len(t, poller.Friends(), 1)

	poller.Refresh(context.Background(), false)
	assert.Empty(t, poller.Friends())
	assert.NotNil(t, poller.Friends())
}

func TestRefreshLoadingIndicator(t *testing.T) {
	fetcher := &fakeFetcher{block: make(chan struct{})}
	poller := NewPoller(fetcher, PollerOptions{})

	done := make(chan struct{})
	go func() {
		poller.Refresh(context.Background(), true)
		close(done)
	}()

	require.Eventually(t, poller.Loading, time.Second, time.Millisecond)
	close(fetcher.block)
	<-done
	assert.False(t, poller.Loading())
}

func TestRunPollsUntilCancelled(t *testing.T) {
	fetcher := &fakeFetcher{}
	poller := NewPoller(fetcher, PollerOptions{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	require.Eventually(t, func() bool { return fetcher.Calls() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	calls := fetcher.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, fetcher.Calls(), "no polling after Run returns")
}

func TestUpdatesSignalsAfterRefresh(t *testing.T) {
	poller := NewPoller(&fakeFetcher{}, PollerOptions{})
	poller.Refresh(context.Background(), false)

	select {
	case <-poller.Updates():
	default:
		t.Fatal("expected an update signal")
	}
}

func TestClientFetchFriends(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/v1/presence/friends", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`[
			{"userId":1,"firstName":"A","lastName":"B","online":false,"lastSeen":"2024-05-01T10:00:00Z"},
			{"userId":2,"firstName":"C","lastName":"D","profilePicture":"/uploads/c.png","online":true}
		]`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := NewClient(api.NewClient(srv.URL+"/api/v1", auth.NewTokenStore("tok"), api.Options{}))
	entries, err := client.FetchFriends(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.NotNil(t, entries[0].LastSeen)
	assert.True(t, entries[1].Online)
	require.NotNil(t, entries[1].ProfilePicture)
	assert.Equal(t, "/uploads/c.png", *entries[1].ProfilePicture)

	poller := NewPoller(client, PollerOptions{})
	poller.Refresh(context.Background(), false)
	friend, ok := poller.Find(2)
	require.True(t, ok)
	assert.Equal(t, "C D", friend.DisplayName())
}
