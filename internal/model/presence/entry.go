package presence

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Entry describes one friend and their current online status.
type Entry struct {
	UserID         int64      `json:"userId"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	ProfilePicture *string    `json:"profilePicture,omitempty"`
	Online         bool       `json:"online"`
	LastSeen       *time.Time `json:"lastSeen,omitempty"`
}

// DisplayName returns "First Last", falling back to "User #<id>".
func (e Entry) DisplayName() string {
	name := strings.TrimSpace(e.FirstName + " " + e.LastName)
	if name == "" {
		return "User #" + strconv.FormatInt(e.UserID, 10)
	}
	return name
}

// SortOnlineFirst returns a copy of entries with online friends first.
// Relative order within each group is preserved.
func SortOnlineFirst(entries []Entry) []Entry {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Online && !sorted[j].Online
	})
	return sorted
}

var windowsPath = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// ResolveAvatar turns a raw profile picture reference into a usable URL.
// It returns "" when the reference cannot be resolved.
func ResolveAvatar(raw, serverBase string) string {
	pic := strings.TrimSpace(raw)
	switch {
	case pic == "":
		return ""
	case strings.HasPrefix(pic, "assets/"):
		return pic
	case strings.HasPrefix(pic, "http://"), strings.HasPrefix(pic, "https://"):
		return pic
	case strings.HasPrefix(pic, "/uploads/"):
		return strings.TrimRight(serverBase, "/") + pic
	case windowsPath.MatchString(pic), strings.Contains(pic, `\`):
		return ""
	default:
		// bare file names are not served by the backend
		return ""
	}
}
