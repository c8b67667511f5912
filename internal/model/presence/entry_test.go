package presence

import "testing"

func TestSortOnlineFirstIsStable(t *testing.T) {
	entries := []Entry{
		{UserID: 1, Online: false},
		{UserID: 2, Online: true},
		{UserID: 3, Online: true},
		{UserID: 4, Online: false},
	}

	sorted := SortOnlineFirst(entries)

	want := []int64{2, 3, 1, 4}
	for i, id := range want {
		if sorted[i].UserID != id {
			t.Fatalf("position %d: got %d want %d", i, sorted[i].UserID, id)
		}
	}
	if entries[0].UserID != 1 {
		t.Fatal("input slice must not be reordered")
	}
}

func TestDisplayName(t *testing.T) {
	if got := (Entry{UserID: 9, FirstName: "Ada", LastName: "Lovelace"}).DisplayName(); got != "Ada Lovelace" {
		t.Fatalf("unexpected name: %q", got)
	}
	if got := (Entry{UserID: 9}).DisplayName(); got != "User #9" {
		t.Fatalf("unexpected fallback: %q", got)
	}
	if got := (Entry{UserID: 9, LastName: "Solo"}).DisplayName(); got != "Solo" {
		t.Fatalf("unexpected name: %q", got)
	}
}

func TestResolveAvatar(t *testing.T) {
	cases := map[string]string{
		"":                          "",
		"assets/images/u.jpg":       "assets/images/u.jpg",
		"https://cdn.example/a.png": "https://cdn.example/a.png",
		"/uploads/a.png":            "http://localhost:8080/uploads/a.png",
		`C:\Users\me\a.png`:         "",
		"C:/Users/me/a.png":         "",
		"a.png":                     "",
	}
	for raw, want := range cases {
		if got := ResolveAvatar(raw, "http://localhost:8080/"); got != want {
			t.Fatalf("ResolveAvatar(%q) = %q, want %q", raw, got, want)
		}
	}
}
