package auth

import "testing"

func TestTokenStoreIgnoresBlankValues(t *testing.T) {
	store := NewTokenStore("  abc  ")
	if got := store.AccessToken(); got != "abc" {
		t.Fatalf("unexpected token: %q", got)
	}

	store.Save("   ", "refresh")
	if got := store.AccessToken(); got != "abc" {
		t.Fatalf("blank save must not clear token, got %q", got)
	}
	if got := store.RefreshToken(); got != "refresh" {
		t.Fatalf("unexpected refresh token: %q", got)
	}

	store.Clear()
	if store.AccessToken() != "" || store.RefreshToken() != "" {
		t.Fatal("expected tokens to be cleared")
	}
}

func TestBearerHeader(t *testing.T) {
	if got := BearerHeader("abc"); got != "Bearer abc" {
		t.Fatalf("unexpected header: %q", got)
	}
	if got := BearerHeader(""); got != "" {
		t.Fatalf("expected empty header, got %q", got)
	}
}
