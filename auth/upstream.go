package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// HTTPError is a pass-through error response from the upstream exchange.
// Code exchange failures are surfaced to the caller immediately and never
// retried: an authorization code is single-use, so a retry cannot succeed.
type HTTPError struct {
	Status  int
	Message string
}

// Write renders the error as a plain-text response.
func (e *HTTPError) Write(w http.ResponseWriter) {
	http.Error(w, e.Message, e.Status)
}

// Identity is the subset of upstream user info the broker needs: a stable
// identifier to key the vault by, plus display metadata.
type Identity struct {
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UpstreamConfig configures the federated identity provider endpoints.
type UpstreamConfig struct {
	// ClientID and ClientSecret identify this broker at the provider.
	ClientID     string
	ClientSecret string

	// AuthURL and TokenURL are the provider's OAuth endpoints.
	AuthURL  string
	TokenURL string

	// UserInfoURL is the provider's user-info endpoint.
	UserInfoURL string

	// RedirectURL is this broker's callback URL.
	RedirectURL string

	// Scopes requested at the provider (default: "read:user").
	Scopes []string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// RequestTimeout is the per-call timeout (default: 30s).
	RequestTimeout time.Duration
}

// Upstream completes authorization-code exchanges with a federated identity
// provider and fetches the resulting user identity.
type Upstream struct {
	oauth     oauth2.Config
	secret    string
	userInfo  string
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewUpstream creates an upstream exchange from cfg.
func NewUpstream(cfg UpstreamConfig) (*Upstream, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("upstream: client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("upstream: client secret is required")
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("upstream: auth and token URLs are required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"read:user"}
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	return &Upstream{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		secret:    cfg.ClientSecret,
		userInfo:  cfg.UserInfoURL,
		client:    client,
		timeout:   timeout,
		userAgent: "mcp-canvas",
	}, nil
}

// AuthorizeURL builds the provider authorize URL carrying state.
func (u *Upstream) AuthorizeURL(state string) string {
	return u.oauth.AuthCodeURL(state)
}

// ExchangeCode exchanges an authorization code for an access token.
// Failures are returned as pass-through HTTP error responses, not errors:
// a missing code is the caller's fault (400), a provider failure is ours to
// report (500), and a token-less success body is malformed (400).
func (u *Upstream) ExchangeCode(ctx context.Context, code string) (string, *HTTPError) {
	if code == "" {
		return "", &HTTPError{Status: http.StatusBadRequest, Message: "Missing code"}
	}

	ctx, cancel := u.ensureTimeout(ctx)
	defer cancel()

	form := url.Values{
		"client_id":     {u.oauth.ClientID},
		"client_secret": {u.secret},
		"code":          {code},
		"redirect_uri":  {u.oauth.RedirectURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.oauth.Endpoint.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", &HTTPError{Status: http.StatusInternalServerError, Message: "Failed to build token request"}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", &HTTPError{Status: http.StatusInternalServerError, Message: "Failed to fetch access token"}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{Status: http.StatusInternalServerError, Message: "Failed to fetch access token"}
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		return "", &HTTPError{Status: http.StatusBadRequest, Message: "Missing access token"}
	}

	return body.AccessToken, nil
}

// FetchIdentity retrieves the authenticated user from the provider's
// user-info endpoint.
func (u *Upstream) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	ctx, cancel := u.ensureTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.userInfo, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", u.userAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: fetch user info: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream: user info request failed with status %d", resp.StatusCode)
	}

	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("upstream: decode user info: %w", err)
	}
	if identity.Login == "" {
		return nil, fmt.Errorf("upstream: user info is missing a login")
	}

	return &identity, nil
}

func (u *Upstream) ensureTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, u.timeout)
}
