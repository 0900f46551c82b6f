package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/edutools/mcp-canvas/security"
	"github.com/edutools/mcp-canvas/storage"
)

const (
	// stateKVPrefix namespaces pending authorization entries.
	stateKVPrefix = "canvas:state:"

	// pendingCredsKVPrefix namespaces credentials staged for the
	// federated path, distinct from the state entry itself.
	pendingCredsKVPrefix = "canvas:pending:"

	// StateTTL bounds how long a pending authorization may wait for its
	// callback.
	StateTTL = 10 * time.Minute

	// stateTokenBytes of entropy per state token.
	stateTokenBytes = 32
)

// Mode tags which authorization path a pending request belongs to.
// The variant is explicit, never inferred from which fields are populated.
type Mode string

const (
	// ModeDirect completes authorization from the approval form alone.
	ModeDirect Mode = "direct"

	// ModeFederated defers completion to an upstream identity provider
	// callback.
	ModeFederated Mode = "federated"
)

// PendingAuthorization is a parked authorization request awaiting its
// callback. It is consumed exactly once.
type PendingAuthorization struct {
	Mode      Mode              `json:"mode"`
	Request   AuthRequest       `json:"request"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// StateStore maps opaque state tokens to pending authorization requests,
// bounded by a short TTL and bound to the issuing browser session through a
// signed cookie. A state token leaked from a redirect log is useless without
// the matching cookie.
type StateStore struct {
	kv     storage.KV
	signer *security.Signer
	ttl    time.Duration
}

// NewStateStore creates a state store persisting to kv and signing binding
// cookies under cookieSecret.
func NewStateStore(kv storage.KV, cookieSecret string) (*StateStore, error) {
	if kv == nil {
		return nil, errors.New("auth: kv store is required")
	}
	if cookieSecret == "" {
		return nil, errors.New("auth: cookie secret is required")
	}
	return &StateStore{
		kv:     kv,
		signer: security.NewSigner(cookieSecret),
		ttl:    StateTTL,
	}, nil
}

// Create persists pending under a fresh random state token and returns the
// token plus the session binding cookie.
func (s *StateStore) Create(ctx context.Context, pending *PendingAuthorization) (string, *http.Cookie, error) {
	token, err := randomToken()
	if err != nil {
		return "", nil, fmt.Errorf("auth: generate state token: %w", err)
	}

	pending.CreatedAt = time.Now().UTC()
	payload, err := json.Marshal(pending)
	if err != nil {
		return "", nil, fmt.Errorf("auth: marshal pending authorization: %w", err)
	}

	if err := s.kv.Set(ctx, stateKVPrefix+token, payload, s.ttl); err != nil {
		return "", nil, fmt.Errorf("auth: persist pending authorization: %w", err)
	}

	// The binding cookie holds HMAC(token): the callback recomputes it, so
	// neither the token nor the cookie is sufficient alone.
	cookie := security.HostCookie(
		security.StateBindingCookieName,
		s.signer.Sign(token),
		security.StateBindingCookieMaxAge,
	)

	return token, cookie, nil
}

// Validate checks the callback's state token and binding cookie, consumes the
// stored entry (single use), and returns the pending authorization together
// with a cookie-clearing header.
//
// Binding failures leave the entry in place; only a successful validation
// deletes it, and a replay of the same token after success fails lookup.
func (s *StateStore) Validate(ctx context.Context, r *http.Request) (*PendingAuthorization, *http.Cookie, error) {
	token := r.URL.Query().Get("state")
	if token == "" {
		return nil, nil, ErrInvalidRequest("Missing state parameter")
	}

	binding, err := r.Cookie(security.StateBindingCookieName)
	if err != nil || binding.Value == "" {
		return nil, nil, ErrInvalidRequest("Missing state binding cookie")
	}
	if !s.signer.Verify(binding.Value, token) {
		return nil, nil, ErrInvalidRequest("State binding cookie mismatch")
	}

	payload, err := s.kv.GetAndDelete(ctx, stateKVPrefix+token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrInvalidRequest("Unknown or expired state")
		}
		return nil, nil, fmt.Errorf("auth: load pending authorization: %w", err)
	}

	var pending PendingAuthorization
	if err := json.Unmarshal(payload, &pending); err != nil {
		return nil, nil, ErrInvalidRequest("Malformed pending authorization")
	}

	return &pending, security.ClearCookie(security.StateBindingCookieName), nil
}

// StagedCredentials is the transient record parked between form submission
// and callback on the federated path, before the user identity is known.
type StagedCredentials struct {
	CanvasAPIToken string `json:"canvasApiToken"`
	CanvasDomain   string `json:"canvasDomain"`
}

// StageCredentials parks credentials under the state token with the same TTL
// as the pending authorization.
func (s *StateStore) StageCredentials(ctx context.Context, stateToken, apiToken, domain string) error {
	payload, err := json.Marshal(StagedCredentials{
		CanvasAPIToken: apiToken,
		CanvasDomain:   domain,
	})
	if err != nil {
		return fmt.Errorf("auth: marshal staged credentials: %w", err)
	}
	if err := s.kv.Set(ctx, pendingCredsKVPrefix+stateToken, payload, s.ttl); err != nil {
		return fmt.Errorf("auth: stage credentials: %w", err)
	}
	return nil
}

// TakeStagedCredentials consumes the staged credentials for stateToken.
// Absence returns (nil, nil): the fast path stages nothing, and expiry is
// routine.
func (s *StateStore) TakeStagedCredentials(ctx context.Context, stateToken string) (*StagedCredentials, error) {
	payload, err := s.kv.GetAndDelete(ctx, pendingCredsKVPrefix+stateToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("auth: load staged credentials: %w", err)
	}

	var staged StagedCredentials
	if err := json.Unmarshal(payload, &staged); err != nil {
		return nil, fmt.Errorf("auth: unmarshal staged credentials: %w", err)
	}
	return &staged, nil
}

func randomToken() (string, error) {
	buf := make([]byte, stateTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
