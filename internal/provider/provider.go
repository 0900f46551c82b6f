// Package provider is a minimal KV-backed authorization provider: it
// registers OAuth clients, validates inbound authorization requests, and
// issues single-use authorization codes. Deployments fronting a full
// OAuth server implement auth.Authorizer against that server instead.
package provider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/edutools/mcp-canvas/auth"
	"github.com/edutools/mcp-canvas/internal/util"
	"github.com/edutools/mcp-canvas/storage"
)

const (
	clientKVPrefix = "canvas:client:"
	grantKVPrefix  = "canvas:grant:"

	// grantTTL bounds how long an issued code stays redeemable.
	grantTTL = 10 * time.Minute

	codeBytes = 32
)

// Client is a registered OAuth client.
type Client struct {
	ClientID     string   `json:"clientId"`
	ClientName   string   `json:"clientName,omitempty"`
	ClientURI    string   `json:"clientUri,omitempty"`
	LogoURI      string   `json:"logoUri,omitempty"`
	RedirectURIs []string `json:"redirectUris"`
}

// Grant is the record stored under an issued authorization code.
type Grant struct {
	ClientID string            `json:"clientId"`
	UserID   string            `json:"userId"`
	Scope    string            `json:"scope,omitempty"`
	Props    map[string]string `json:"props,omitempty"`
	IssuedAt time.Time         `json:"issuedAt"`
}

// Provider implements auth.Authorizer on top of a KV store.
type Provider struct {
	kv     storage.KV
	logger *slog.Logger
}

var _ auth.Authorizer = (*Provider)(nil)

// New creates a Provider backed by kv.
func New(kv storage.KV, logger *slog.Logger) (*Provider, error) {
	if kv == nil {
		return nil, errors.New("provider: kv store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{kv: kv, logger: logger}, nil
}

// RegisterClient persists a client so /authorize requests naming it are
// accepted. Registration has no TTL.
func (p *Provider) RegisterClient(ctx context.Context, client Client) error {
	if client.ClientID == "" {
		return errors.New("provider: client id is required")
	}
	if len(client.RedirectURIs) == 0 {
		return errors.New("provider: at least one redirect uri is required")
	}
	for _, uri := range client.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return fmt.Errorf("provider: client %s: %w", client.ClientID, err)
		}
	}

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("provider: encode client: %w", err)
	}
	return p.kv.Set(ctx, clientKVPrefix+client.ClientID, data, 0)
}

// ParseAuthRequest validates the inbound authorization request: the client
// must be registered and the redirect URI must match a registered one.
func (p *Provider) ParseAuthRequest(r *http.Request) (*auth.AuthRequest, error) {
	q := r.URL.Query()

	req := &auth.AuthRequest{
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
		ResponseType: q.Get("response_type"),
	}
	if req.ClientID == "" {
		return nil, auth.ErrInvalidRequest("client_id is required")
	}
	if req.ResponseType != "" && req.ResponseType != "code" {
		return nil, auth.ErrInvalidRequest("unsupported response_type")
	}

	client, err := p.lookup(r.Context(), req.ClientID)
	if err != nil {
		return nil, err
	}

	if req.RedirectURI == "" {
		req.RedirectURI = client.RedirectURIs[0]
	} else if !client.allowsRedirect(req.RedirectURI) {
		return nil, auth.ErrInvalidRequest("redirect_uri is not registered for this client")
	}

	return req, nil
}

// LookupClient resolves dialog metadata for a registered client.
func (p *Provider) LookupClient(ctx context.Context, clientID string) (*auth.ClientInfo, error) {
	client, err := p.lookup(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return &auth.ClientInfo{
		ClientID:   client.ClientID,
		ClientName: client.ClientName,
		ClientURI:  client.ClientURI,
		LogoURI:    client.LogoURI,
	}, nil
}

// CompleteAuthorization issues a single-use code under canvas:grant:<code>
// and builds the client redirect carrying code and state.
func (p *Provider) CompleteAuthorization(ctx context.Context, req auth.CompleteAuthorizationRequest) (*auth.CompletedAuthorization, error) {
	if req.Request == nil || req.Request.ClientID == "" {
		return nil, auth.ErrInvalidRequest("missing authorization request")
	}

	code, err := generateCode()
	if err != nil {
		return nil, auth.ErrServerError("failed to generate authorization code")
	}

	grant := Grant{
		ClientID: req.Request.ClientID,
		UserID:   req.UserID,
		Scope:    req.Scope,
		Props:    req.Props,
		IssuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(grant)
	if err != nil {
		return nil, auth.ErrServerError("failed to encode grant")
	}
	if err := p.kv.Set(ctx, grantKVPrefix+code, data, grantTTL); err != nil {
		p.logger.Error("Failed to persist grant", "error", err)
		return nil, auth.ErrServerError("failed to persist grant")
	}

	redirect, err := url.Parse(req.Request.RedirectURI)
	if err != nil {
		return nil, auth.ErrInvalidRequest("invalid redirect_uri")
	}
	q := redirect.Query()
	q.Set("code", code)
	if req.Request.State != "" {
		q.Set("state", req.Request.State)
	}
	redirect.RawQuery = q.Encode()

	p.logger.Info("Authorization code issued", "client_id", grant.ClientID)
	return &auth.CompletedAuthorization{RedirectTo: redirect.String()}, nil
}

// RedeemCode consumes an authorization code exactly once and returns its
// grant.
func (p *Provider) RedeemCode(ctx context.Context, code string) (*Grant, error) {
	if code == "" {
		return nil, auth.ErrInvalidRequest("code is required")
	}
	data, err := p.kv.GetAndDelete(ctx, grantKVPrefix+code)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, auth.ErrInvalidClient("unknown or expired authorization code")
	}
	if err != nil {
		return nil, fmt.Errorf("provider: load grant: %w", err)
	}
	var grant Grant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("provider: decode grant: %w", err)
	}
	return &grant, nil
}

func (p *Provider) lookup(ctx context.Context, clientID string) (*Client, error) {
	data, err := p.kv.Get(ctx, clientKVPrefix+clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, auth.ErrInvalidClient("unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("provider: load client: %w", err)
	}
	var client Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("provider: decode client: %w", err)
	}
	return &client, nil
}

func (c *Client) allowsRedirect(uri string) bool {
	normalized := util.NormalizeURL(uri)
	for _, registered := range c.RedirectURIs {
		if util.NormalizeURL(registered) == normalized {
			return true
		}
	}
	return false
}

func validateRedirectURI(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid redirect uri %q: %w", uri, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" && parsed.Scheme != "urn" {
		return fmt.Errorf("redirect uri %q must be absolute", uri)
	}
	return nil
}

func generateCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
