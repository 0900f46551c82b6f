package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestUpstream(t *testing.T, tokenHandler, userInfoHandler http.HandlerFunc) *Upstream {
	t.Helper()

	mux := http.NewServeMux()
	if tokenHandler != nil {
		mux.HandleFunc("/token", tokenHandler)
	}
	if userInfoHandler != nil {
		mux.HandleFunc("/user", userInfoHandler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	upstream, err := NewUpstream(UpstreamConfig{
		ClientID:     "broker-id",
		ClientSecret: "broker-secret",
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + "/user",
		RedirectURL:  "https://broker.example/callback",
	})
	if err != nil {
		t.Fatalf("NewUpstream() error = %v", err)
	}
	return upstream
}

func TestAuthorizeURLCarriesState(t *testing.T) {
	upstream := newTestUpstream(t, nil, nil)

	u := upstream.AuthorizeURL("state-token-123")
	if !strings.Contains(u, "state=state-token-123") {
		t.Errorf("AuthorizeURL() = %q, missing state", u)
	}
	if !strings.Contains(u, "client_id=broker-id") {
		t.Errorf("AuthorizeURL() = %q, missing client_id", u)
	}
}

func TestExchangeCodeSuccess(t *testing.T) {
	var gotForm map[string]string
	upstream := newTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotForm = map[string]string{
			"client_id":     r.PostFormValue("client_id"),
			"client_secret": r.PostFormValue("client_secret"),
			"code":          r.PostFormValue("code"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"upstream-token","token_type":"bearer"}`))
	}, nil)

	token, httpErr := upstream.ExchangeCode(context.Background(), "the-code")
	if httpErr != nil {
		t.Fatalf("ExchangeCode() error = %+v", httpErr)
	}
	if token != "upstream-token" {
		t.Errorf("token = %q, want %q", token, "upstream-token")
	}
	if gotForm["code"] != "the-code" || gotForm["client_id"] != "broker-id" || gotForm["client_secret"] != "broker-secret" {
		t.Errorf("token request form = %+v", gotForm)
	}
}

func TestExchangeCodeFailures(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name:       "missing code",
			code:       "",
			handler:    func(w http.ResponseWriter, r *http.Request) { t.Error("token endpoint called without a code") },
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "provider rejects exchange",
			code: "the-code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad_verification_code", http.StatusBadRequest)
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "response lacks access token",
			code: "the-code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"token_type":"bearer"}`))
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "response is not JSON",
			code: "the-code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("access_token=abc"))
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := newTestUpstream(t, tt.handler, nil)

			_, httpErr := upstream.ExchangeCode(context.Background(), tt.code)
			if httpErr == nil {
				t.Fatal("ExchangeCode() succeeded, want error")
			}
			if httpErr.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", httpErr.Status, tt.wantStatus)
			}
		})
	}
}

func TestFetchIdentity(t *testing.T) {
	upstream := newTestUpstream(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer upstream-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"login":"octocat","name":"Octo Cat","email":"octo@example.com"}`))
	})

	identity, err := upstream.FetchIdentity(context.Background(), "upstream-token")
	if err != nil {
		t.Fatalf("FetchIdentity() error = %v", err)
	}
	if identity.Login != "octocat" || identity.Name != "Octo Cat" {
		t.Errorf("identity = %+v", identity)
	}
}

func TestFetchIdentityFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", http.StatusUnauthorized)
			},
		},
		{
			name: "missing login",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"name":"No Login"}`))
			},
		},
		{
			name: "not JSON",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := newTestUpstream(t, nil, tt.handler)
			if _, err := upstream.FetchIdentity(context.Background(), "token"); err == nil {
				t.Error("FetchIdentity() succeeded, want error")
			}
		})
	}
}

func TestNewUpstreamValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpstreamConfig
	}{
		{"missing client id", UpstreamConfig{ClientSecret: "s", AuthURL: "a", TokenURL: "t"}},
		{"missing client secret", UpstreamConfig{ClientID: "c", AuthURL: "a", TokenURL: "t"}},
		{"missing endpoints", UpstreamConfig{ClientID: "c", ClientSecret: "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewUpstream(tt.cfg); err == nil {
				t.Error("NewUpstream() accepted incomplete config")
			}
		})
	}
}
