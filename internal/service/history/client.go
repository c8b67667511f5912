package history

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/zhouzirui/z-tavern/chatclient/internal/model/chat"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/api"
)

// DefaultPageSize is used when a caller passes a non-positive size.
const DefaultPageSize = 30

// ErrFriendRequired is returned for a missing or non-positive friend id.
var ErrFriendRequired = errors.New("friend id is required")

// Client fetches pages of past messages for a one-to-one conversation.
// It neither retries nor caches.
type Client struct {
	api *api.Client
}

// NewClient wraps an API client.
func NewClient(apiClient *api.Client) *Client {
	return &Client{api: apiClient}
}

// FetchPage returns page number page of the conversation with friendID, in
// the order the server returned it.
func (c *Client) FetchPage(ctx context.Context, friendID int64, page, size int) ([]chat.Message, error) {
	if friendID <= 0 {
		return nil, ErrFriendRequired
	}
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}

	path := "/chat/conversations/with/" + strconv.FormatInt(friendID, 10) + "/messages"
	query := url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	}

	var messages []chat.Message
	if err := c.api.GetJSON(ctx, path, query, &messages); err != nil {
		return nil, fmt.Errorf("fetch messages with %d: %w", friendID, err)
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	return messages, nil
}
