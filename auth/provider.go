package auth

import (
	"context"
	"net/http"
)

// AuthRequest is a parsed inbound authorization request, produced by the
// Authorizer collaborator. It is round-tripped opaquely through the approval
// form and the state store, so it must survive JSON encoding.
type AuthRequest struct {
	ClientID     string            `json:"clientId"`
	RedirectURI  string            `json:"redirectUri,omitempty"`
	Scope        string            `json:"scope,omitempty"`
	State        string            `json:"state,omitempty"`
	ResponseType string            `json:"responseType,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// ClientInfo describes a registered OAuth client for the approval dialog.
type ClientInfo struct {
	ClientID   string
	ClientName string
	ClientURI  string
	LogoURI    string
}

// CompleteAuthorizationRequest asks the Authorizer to finish an approved
// authorization and issue its redirect.
type CompleteAuthorizationRequest struct {
	// Request is the original parsed authorization request.
	Request *AuthRequest

	// UserID is the stable identity the credentials are stored under.
	UserID string

	// Scope is the granted scope.
	Scope string

	// Metadata is opaque, human-facing labeling for the grant.
	Metadata map[string]string

	// Props are propagated to downstream tool sessions (at minimum the
	// user's login).
	Props map[string]string
}

// CompletedAuthorization is the Authorizer's answer to a completed flow.
type CompletedAuthorization struct {
	// RedirectTo is the client redirect URL carrying the issued code.
	RedirectTo string
}

// Authorizer is the external authorization provider component that owns
// client registration and authorization-code bookkeeping. The approval flow
// only orchestrates the user-facing approval step on top of it.
type Authorizer interface {
	// ParseAuthRequest parses and validates an inbound authorization request.
	ParseAuthRequest(r *http.Request) (*AuthRequest, error)

	// LookupClient resolves client metadata for the approval dialog.
	LookupClient(ctx context.Context, clientID string) (*ClientInfo, error)

	// CompleteAuthorization records the approval and returns the final
	// client redirect.
	CompleteAuthorization(ctx context.Context, req CompleteAuthorizationRequest) (*CompletedAuthorization, error)
}
