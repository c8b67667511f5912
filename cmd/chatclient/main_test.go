package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	chatmodel "github.com/zhouzirui/z-tavern/chatclient/internal/model/chat"
	presencemodel "github.com/zhouzirui/z-tavern/chatclient/internal/model/presence"
)

func TestPrintFriendsWithAvatars(t *testing.T) {
	pic := "/uploads/a.png"
	seen := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	friends := []presencemodel.Entry{
		{UserID: 2, FirstName: "Ada", LastName: "Lovelace", Online: true, ProfilePicture: &pic},
		{UserID: 3, LastSeen: &seen},
	}

	var buf bytes.Buffer
	printFriendsWithAvatars(&buf, friends, "http://localhost:8080")

	out := buf.String()
	assert.Contains(t, out, "Ada Lovelace")
	assert.Contains(t, out, "online")
	assert.Contains(t, out, "http://localhost:8080/uploads/a.png")
	assert.Contains(t, out, "User #3")
	assert.Contains(t, out, "last seen")
}

func TestPrintFriendsEmpty(t *testing.T) {
	var buf bytes.Buffer
	printFriends(&buf, nil)
	assert.Equal(t, "No friends to show.\n", buf.String())
}

func TestPrintMessage(t *testing.T) {
	friend := &presencemodel.Entry{UserID: 7, FirstName: "Bo"}

	var buf bytes.Buffer
	printMessage(&buf, chatmodel.Message{SenderID: 7, Content: "hey"}, friend)
	printMessage(&buf, chatmodel.Message{SenderID: 1, Content: "hi"}, friend)

	assert.Equal(t, "Bo: hey\nyou: hi\n", buf.String())
}

func TestFindFriend(t *testing.T) {
	friends := []presencemodel.Entry{{UserID: 1}, {UserID: 2}}

	f, ok := findFriend(friends, 2)
	assert.True(t, ok)
	assert.Equal(t, int64(2), f.UserID)

	_, ok = findFriend(friends, 9)
	assert.False(t, ok)
}
