package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/chatclient/internal/service/api"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/auth"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/v1/chat/conversations/with/{userID}/messages", handler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(api.NewClient(srv.URL+"/api/v1", auth.NewTokenStore("tok"), api.Options{}))
}

func TestFetchPagePreservesServerOrder(t *testing.T) {
	var gotUser, gotPage, gotSize string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotUser = chi.URLParam(r, "userID")
		gotPage = r.URL.Query().Get("page")
		gotSize = r.URL.Query().Get("size")
		_, _ = w.Write([]byte(`[
			{"id":3,"conversationId":1,"senderId":42,"content":"third","createdAt":"2024-05-01T10:03:00Z"},
			{"id":1,"conversationId":1,"senderId":7,"content":"first","createdAt":"2024-05-01T10:01:00Z"}
		]`))
	})

	msgs, err := client.FetchPage(context.Background(), 42, 1, 15)
	require.NoError(t, err)

	assert.Equal(t, "42", gotUser)
	assert.Equal(t, "1", gotPage)
	assert.Equal(t, "15", gotSize)
	require.Len(t, msgs, 2)
	assert.Equal(t, "third", msgs[0].Content)
	assert.Equal(t, "first", msgs[1].Content)
}

func TestFetchPageDefaults(t *testing.T) {
	var gotPage, gotSize string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPage = r.URL.Query().Get("page")
		gotSize = r.URL.Query().Get("size")
		_, _ = w.Write([]byte(`null`))
	})

	msgs, err := client.FetchPage(context.Background(), 5, -1, 0)
	require.NoError(t, err)
	assert.Equal(t, "0", gotPage)
	assert.Equal(t, "30", gotSize)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestFetchPageRejectsMissingFriend(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.FetchPage(context.Background(), 0, 0, 30)
	assert.ErrorIs(t, err, ErrFriendRequired)
}

func TestFetchPageServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.FetchPage(context.Background(), 5, 0, 30)
	require.Error(t, err)
	assert.True(t, api.IsStatus(err, http.StatusInternalServerError))
}
