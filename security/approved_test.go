package security

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func requestWithCookie(cookie *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/authorize", nil)
	if cookie != nil {
		r.AddCookie(cookie)
	}
	return r
}

func TestApprovedClientsAddAndCheck(t *testing.T) {
	registry := NewApprovedClients("cookie-secret")

	r := requestWithCookie(nil)
	if registry.IsApproved(r, "client-a") {
		t.Error("client approved with no cookie present")
	}

	cookie, err := registry.Add(r, "client-a")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if cookie.Name != ApprovedClientsCookieName {
		t.Errorf("cookie name = %q, want %q", cookie.Name, ApprovedClientsCookieName)
	}
	if cookie.MaxAge != ApprovedClientsCookieMaxAge {
		t.Errorf("cookie MaxAge = %d, want %d", cookie.MaxAge, ApprovedClientsCookieMaxAge)
	}

	r2 := requestWithCookie(cookie)
	if !registry.IsApproved(r2, "client-a") {
		t.Error("client-a not approved after Add")
	}
	if registry.IsApproved(r2, "client-b") {
		t.Error("client-b approved without Add")
	}
}

func TestApprovedClientsUnion(t *testing.T) {
	registry := NewApprovedClients("cookie-secret")

	cookie, err := registry.Add(requestWithCookie(nil), "client-a")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	cookie, err = registry.Add(requestWithCookie(cookie), "client-b")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	r := requestWithCookie(cookie)
	for _, id := range []string{"client-a", "client-b"} {
		if !registry.IsApproved(r, id) {
			t.Errorf("%s missing from approved set after union", id)
		}
	}

	// Re-adding an approved client must not duplicate or invalidate it.
	cookie, err = registry.Add(requestWithCookie(cookie), "client-a")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !registry.IsApproved(requestWithCookie(cookie), "client-a") {
		t.Error("client-a lost after re-adding")
	}
}

func TestApprovedClientsDegradesToEmpty(t *testing.T) {
	registry := NewApprovedClients("cookie-secret")

	valid, err := registry.Add(requestWithCookie(nil), "client-a")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	sig, encoded, _ := strings.Cut(valid.Value, ".")

	tampered := base64.StdEncoding.EncodeToString([]byte(`["client-a","client-evil"]`))

	tests := []struct {
		name  string
		value string
	}{
		{"no separator", "justonechunk"},
		{"garbage base64", sig + ".!!!not-base64!!!"},
		{"tampered payload", sig + "." + tampered},
		{"bad signature", strings.Repeat("0", len(sig)) + "." + encoded},
		{"signed under other secret", NewSigner("other-secret").Sign(`["client-a"]`) + "." + encoded},
		{"payload not a string array", sig + "." + base64.StdEncoding.EncodeToString([]byte(`{"a":1}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := requestWithCookie(&http.Cookie{Name: ApprovedClientsCookieName, Value: tt.value})
			if registry.IsApproved(r, "client-a") {
				t.Error("tampered cookie accepted")
			}

			// Add must still work, starting over from the empty set.
			cookie, err := registry.Add(r, "client-b")
			if err != nil {
				t.Fatalf("Add() on bad cookie error = %v", err)
			}
			if !registry.IsApproved(requestWithCookie(cookie), "client-b") {
				t.Error("Add after degraded cookie did not approve client-b")
			}
		})
	}
}
