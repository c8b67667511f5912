package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message is a single direct message as delivered by the history API and the
// private realtime queue.
//
// ID is nil for optimistic entries that have not been echoed back yet. Those
// entries carry a negative LocalID instead, which is never sent on the wire.
type Message struct {
	ID             *int64    `json:"id"`
	ConversationID *int64    `json:"conversationId"`
	SenderID       int64     `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	LocalID        int64     `json:"-"`
}

// SendRequest is the payload published on the application send route.
type SendRequest struct {
	ToUserID int64  `json:"toUserId"`
	Content  string `json:"content"`
}

// timestampLayouts are tried in order when decoding createdAt. Servers that
// serialize a zone-less local date-time are accepted and read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON accepts both RFC 3339 and zone-less timestamps.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw struct {
		alias
		CreatedAt *string `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = Message(raw.alias)
	m.LocalID = 0
	m.CreatedAt = time.Time{}
	if raw.CreatedAt == nil || strings.TrimSpace(*raw.CreatedAt) == "" {
		return nil
	}

	ts, err := ParseTimestamp(*raw.CreatedAt)
	if err != nil {
		return err
	}
	m.CreatedAt = ts
	return nil
}

// ParseTimestamp parses the timestamp formats the chat backend emits.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}

// NormalizeContent is the content form used for every identity comparison.
func NormalizeContent(content string) string {
	return strings.TrimSpace(content)
}

// IsPlaceholder reports whether m is an optimistic entry still awaiting its echo.
func (m Message) IsPlaceholder() bool {
	return m.ID == nil && m.LocalID != 0
}

// Key returns the canonical identity used for deduplication.
func (m Message) Key() string {
	switch {
	case m.ID != nil:
		return "id:" + strconv.FormatInt(*m.ID, 10)
	case m.LocalID != 0:
		return "local:" + strconv.FormatInt(m.LocalID, 10)
	default:
		createdAt := ""
		if !m.CreatedAt.IsZero() {
			createdAt = m.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		return strconv.FormatInt(m.SenderID, 10) + "::" + NormalizeContent(m.Content) + "::" + createdAt
	}
}

// Int64 returns a pointer to v, for building messages with server ids.
func Int64(v int64) *int64 {
	return &v
}
