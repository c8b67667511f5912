package profile

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/z-tavern/chatclient/internal/service/api"
)

// Me is the signed-in user's own profile.
type Me struct {
	UserID         int64   `json:"userId"`
	Email          string  `json:"email"`
	FirstName      *string `json:"firstName"`
	LastName       *string `json:"lastName"`
	ProfilePicture *string `json:"profilePicture"`
}

// DisplayName returns the full name, the email, or "User".
func (m Me) DisplayName() string {
	var parts []string
	for _, p := range []*string{m.FirstName, m.LastName} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	if name := strings.Join(parts, " "); name != "" {
		return name
	}
	if m.Email != "" {
		return m.Email
	}
	return "User"
}

// Client reads the current user's profile.
type Client struct {
	api *api.Client
}

// NewClient wraps an API client.
func NewClient(apiClient *api.Client) *Client {
	return &Client{api: apiClient}
}

// Me calls GET /users/me.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var me Me
	if err := c.api.GetJSON(ctx, "/users/me", nil, &me); err != nil {
		return Me{}, fmt.Errorf("fetch current user: %w", err)
	}
	return me, nil
}
