package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/edutools/mcp-canvas/instrumentation"
	"github.com/edutools/mcp-canvas/security"
	"github.com/edutools/mcp-canvas/storage"
	"github.com/edutools/mcp-canvas/vault"
)

// Config configures the approval flow.
type Config struct {
	// Authorizer is the external authorization provider component (required).
	Authorizer Authorizer

	// Vault stores per-user Canvas credentials (required).
	Vault *vault.Vault

	// Store persists pending authorization state (required).
	Store storage.KV

	// CookieSecret signs the CSRF-adjacent cookies (required).
	// It is injected explicitly; the flow never reads ambient globals.
	CookieSecret string

	// Upstream enables the federated-identity path. When nil, the flow
	// runs the direct-credential path and completes on form submission.
	Upstream *Upstream

	// Server describes this broker on the approval dialog.
	Server ServerInfo

	// RateLimit is requests per second allowed per IP on the
	// authorization endpoints. Zero disables limiting.
	RateLimit int

	// RateBurst is the per-IP burst allowance (default 10 when limiting
	// is enabled).
	RateBurst int

	// Logger for structured logging (optional, uses default if not provided).
	Logger *slog.Logger

	// Auditor records security events (optional).
	Auditor *security.Auditor

	// Instrumentation wires OpenTelemetry metrics and traces (optional).
	Instrumentation *instrumentation.Instrumentation
}

// Flow orchestrates the approval state machine:
//
//	AwaitingApproval -> Completed                                (direct)
//	AwaitingApproval -> AwaitingUpstreamCallback -> Completed    (federated)
//
// Terminal success is always an HTTP redirect to the Authorizer-issued
// location; every error state yields a structured error response.
type Flow struct {
	authorizer Authorizer
	vault      *vault.Vault
	states     *StateStore
	csrf       *security.CSRFGuard
	approvals  *security.ApprovedClients
	upstream   *Upstream
	server     ServerInfo
	limiter    *security.RateLimiter
	logger     *slog.Logger
	auditor    *security.Auditor
	metrics    *instrumentation.Metrics
	tracer     trace.Tracer
}

// NewFlow creates an approval flow from cfg.
func NewFlow(cfg Config) (*Flow, error) {
	if cfg.Authorizer == nil {
		return nil, errors.New("auth: authorizer is required")
	}
	if cfg.Vault == nil {
		return nil, errors.New("auth: vault is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("auth: kv store is required")
	}
	if cfg.CookieSecret == "" {
		return nil, errors.New("auth: cookie secret is required")
	}

	states, err := NewStateStore(cfg.Store, cfg.CookieSecret)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	f := &Flow{
		authorizer: cfg.Authorizer,
		vault:      cfg.Vault,
		states:     states,
		csrf:       security.NewCSRFGuard(),
		approvals:  security.NewApprovedClients(cfg.CookieSecret),
		upstream:   cfg.Upstream,
		server:     cfg.Server,
		logger:     logger,
		auditor:    cfg.Auditor,
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 10
		}
		f.limiter = security.NewRateLimiter(cfg.RateLimit, burst, logger)
	}

	if cfg.Instrumentation != nil {
		f.metrics = cfg.Instrumentation.Metrics()
		f.tracer = cfg.Instrumentation.Tracer("auth")
	}

	return f, nil
}

// Routes registers the flow's HTTP surface on mux.
func (f *Flow) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /authorize", f.HandleAuthorizeForm)
	mux.HandleFunc("POST /authorize", f.HandleAuthorizeSubmit)
	mux.HandleFunc("GET /callback", f.HandleCallback)
}

// Close releases background resources (the rate limiter's cleanup loop).
func (f *Flow) Close() {
	if f.limiter != nil {
		f.limiter.Stop()
	}
}

// HandleAuthorizeForm renders the approval dialog for a parsed authorization
// request, or redirects straight to the upstream provider when the client is
// already approved (federated fast path).
func (f *Flow) HandleAuthorizeForm(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer f.recordHTTP(r.Context(), "authorize", http.MethodGet, start)

	if !f.allow(w, r) {
		return
	}

	req, err := f.authorizer.ParseAuthRequest(r)
	if err != nil || req == nil || req.ClientID == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	f.count(r.Context(), f.metricAuthStarted(), req.ClientID)

	// Fast path: a verified approved-clients cookie lets returning users
	// skip the dialog on the federated path. Their credentials are
	// already on file under their upstream identity.
	if f.upstream != nil && f.approvals.IsApproved(r, req.ClientID) {
		f.redirectToUpstream(w, r, req, "", "")
		return
	}

	client, err := f.authorizer.LookupClient(r.Context(), req.ClientID)
	if err != nil {
		f.logger.Warn("Client lookup failed, rendering dialog without client metadata",
			"client_id", req.ClientID, "error", err)
		client = nil
	}

	token, cookie := f.csrf.Issue()
	if err := renderDialog(w, r, f.server, client, req, token, cookie); err != nil {
		f.logger.Error("Failed to render approval dialog", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// HandleAuthorizeSubmit consumes the approval form. CSRF is validated first;
// then the flow either completes immediately (direct path) or stages the
// credentials and redirects to the upstream provider (federated path).
func (f *Flow) HandleAuthorizeSubmit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer f.recordHTTP(r.Context(), "authorize", http.MethodPost, start)

	if !f.allow(w, r) {
		return
	}

	ctx := r.Context()
	if f.tracer != nil {
		var span trace.Span
		ctx, span = f.tracer.Start(ctx, "auth.approve")
		defer span.End()
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Malformed form data", http.StatusBadRequest)
		return
	}

	if err := f.csrf.Validate(r.PostFormValue("csrf_token"), r); err != nil {
		f.auditor.LogCSRFFailure("", clientIP(r), err.Error())
		ErrInvalidRequest(err.Error()).WriteResponse(w)
		return
	}

	encodedState := r.PostFormValue("state")
	if encodedState == "" {
		http.Error(w, "Missing state in form data", http.StatusBadRequest)
		return
	}
	req := decodeAuthRequest(encodedState)
	if req == nil {
		http.Error(w, "Invalid state data", http.StatusBadRequest)
		return
	}
	if req.ClientID == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	apiToken := r.PostFormValue("canvas_api_token")
	domain := r.PostFormValue("canvas_domain")
	if apiToken == "" || domain == "" {
		http.Error(w, "Canvas API token and domain are required", http.StatusBadRequest)
		return
	}

	approvedCookie, err := f.approvals.Add(r, req.ClientID)
	if err != nil {
		f.logger.Error("Failed to build approved-clients cookie", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	f.count(ctx, f.metricAuthApproved(), req.ClientID)

	if f.upstream == nil {
		f.completeDirect(ctx, w, r, req, apiToken, domain, approvedCookie)
		return
	}
	f.beginFederated(ctx, w, r, req, apiToken, domain, approvedCookie)
}

// completeDirect stores the credentials under a freshly generated user
// identity and finalizes authorization in one step.
func (f *Flow) completeDirect(ctx context.Context, w http.ResponseWriter, r *http.Request, req *AuthRequest, apiToken, domain string, approvedCookie *http.Cookie) {
	userID := uuid.NewString()

	if err := f.vault.Put(ctx, userID, vault.Credentials{APIToken: apiToken, Domain: domain}); err != nil {
		f.logger.Error("Failed to store credentials", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	f.auditor.LogCredentialsStored(userID, req.ClientID, clientIP(r), domain)

	completed, err := f.authorizer.CompleteAuthorization(ctx, CompleteAuthorizationRequest{
		Request:  req,
		UserID:   userID,
		Scope:    req.Scope,
		Metadata: map[string]string{"label": "canvas-user-" + userID[:8]},
		Props:    map[string]string{"login": userID},
	})
	if err != nil {
		f.writeAuthorizerError(w, err)
		return
	}

	f.auditor.LogAuthorizationCompleted(userID, req.ClientID, clientIP(r), string(ModeDirect))

	http.SetCookie(w, approvedCookie)
	http.Redirect(w, r, completed.RedirectTo, http.StatusFound)
}

// beginFederated stages the submitted credentials under a fresh state token
// and redirects to the upstream provider.
func (f *Flow) beginFederated(ctx context.Context, w http.ResponseWriter, r *http.Request, req *AuthRequest, apiToken, domain string, approvedCookie *http.Cookie) {
	f.redirectToUpstream(w, r.WithContext(ctx), req, apiToken, domain, approvedCookie)
}

// redirectToUpstream creates the pending state entry (staging credentials if
// provided) and issues the 302 to the provider's authorize URL.
func (f *Flow) redirectToUpstream(w http.ResponseWriter, r *http.Request, req *AuthRequest, apiToken, domain string, extraCookies ...*http.Cookie) {
	ctx := r.Context()

	stateToken, bindingCookie, err := f.states.Create(ctx, &PendingAuthorization{
		Mode:    ModeFederated,
		Request: *req,
	})
	if err != nil {
		f.logger.Error("Failed to create pending authorization", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if apiToken != "" && domain != "" {
		if err := f.states.StageCredentials(ctx, stateToken, apiToken, domain); err != nil {
			f.logger.Error("Failed to stage credentials", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	for _, cookie := range extraCookies {
		if cookie != nil {
			http.SetCookie(w, cookie)
		}
	}
	http.SetCookie(w, bindingCookie)
	http.Redirect(w, r, f.upstream.AuthorizeURL(stateToken), http.StatusFound)
}

// HandleCallback finishes the federated path: validate state, exchange the
// code, resolve the upstream identity, promote staged credentials, and
// finalize authorization.
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer f.recordHTTP(r.Context(), "callback", http.MethodGet, start)

	ctx := r.Context()
	if f.tracer != nil {
		var span trace.Span
		ctx, span = f.tracer.Start(ctx, "auth.callback")
		defer span.End()
	}

	if f.upstream == nil {
		http.Error(w, "Callback is not enabled", http.StatusNotFound)
		return
	}

	stateToken := r.URL.Query().Get("state")

	pending, clearCookie, err := f.states.Validate(ctx, r)
	if err != nil {
		f.auditor.LogStateValidationFailure(clientIP(r), err.Error())
		var oauthErr *OAuthError
		if errors.As(err, &oauthErr) {
			oauthErr.WriteResponse(w)
			return
		}
		f.logger.Error("State validation failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if pending.Request.ClientID == "" {
		http.Error(w, "Invalid OAuth request data", http.StatusBadRequest)
		return
	}

	accessToken, httpErr := f.upstream.ExchangeCode(ctx, r.URL.Query().Get("code"))
	if httpErr != nil {
		f.count(ctx, f.metricCallback(), pending.Request.ClientID)
		httpErr.Write(w)
		return
	}

	identity, err := f.upstream.FetchIdentity(ctx, accessToken)
	if err != nil {
		f.logger.Error("Failed to fetch upstream identity", "error", err)
		http.Error(w, "Failed to fetch user identity", http.StatusInternalServerError)
		return
	}

	f.promoteStagedCredentials(ctx, r, stateToken, identity, pending.Request.ClientID)

	name := identity.Name
	if name == "" {
		name = identity.Login
	}
	completed, err := f.authorizer.CompleteAuthorization(ctx, CompleteAuthorizationRequest{
		Request:  &pending.Request,
		UserID:   identity.Login,
		Scope:    pending.Request.Scope,
		Metadata: map[string]string{"label": name},
		Props: map[string]string{
			"login": identity.Login,
			"name":  name,
			"email": identity.Email,
		},
	})
	if err != nil {
		f.writeAuthorizerError(w, err)
		return
	}

	f.count(ctx, f.metricCallback(), pending.Request.ClientID)
	f.auditor.LogAuthorizationCompleted(identity.Login, pending.Request.ClientID, clientIP(r), string(ModeFederated))

	if clearCookie != nil {
		http.SetCookie(w, clearCookie)
	}
	http.Redirect(w, r, completed.RedirectTo, http.StatusFound)
}

// promoteStagedCredentials moves credentials parked at form submission into
// the vault under the now-known identity. Best effort: on failure the user
// can still store credentials through the setup tool, so the authorization
// itself proceeds.
func (f *Flow) promoteStagedCredentials(ctx context.Context, r *http.Request, stateToken string, identity *Identity, clientID string) {
	staged, err := f.states.TakeStagedCredentials(ctx, stateToken)
	if err != nil {
		f.logger.Warn("Failed to load staged credentials, continuing without promotion", "error", err)
		return
	}
	if staged == nil {
		return
	}

	creds := vault.Credentials{APIToken: staged.CanvasAPIToken, Domain: staged.CanvasDomain}
	if err := f.vault.Put(ctx, identity.Login, creds); err != nil {
		f.logger.Warn("Failed to promote staged credentials, continuing without promotion", "error", err)
		return
	}
	f.auditor.LogCredentialsStored(identity.Login, clientID, clientIP(r), staged.CanvasDomain)
}

// writeAuthorizerError maps collaborator failures onto the HTTP surface.
func (f *Flow) writeAuthorizerError(w http.ResponseWriter, err error) {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		oauthErr.WriteResponse(w)
		return
	}
	f.logger.Error("Authorization completion failed", "error", err)
	http.Error(w, fmt.Sprintf("Internal server error: %v", err), http.StatusInternalServerError)
}

// allow applies per-IP rate limiting. Returns false when the request was
// rejected and a response has been written.
func (f *Flow) allow(w http.ResponseWriter, r *http.Request) bool {
	if f.limiter == nil {
		return true
	}
	ip := clientIP(r)
	if f.limiter.Allow(ip) {
		return true
	}
	f.auditor.LogRateLimitExceeded(ip)
	http.Error(w, "Too many requests", http.StatusTooManyRequests)
	return false
}

func (f *Flow) recordHTTP(ctx context.Context, endpoint, method string, start time.Time) {
	if f.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.endpoint", endpoint),
		attribute.String("http.method", method),
	)
	f.metrics.HTTPRequestsTotal.Add(ctx, 1, attrs)
	f.metrics.HTTPRequestDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
}

func (f *Flow) metricAuthStarted() metric.Int64Counter {
	if f.metrics == nil {
		return nil
	}
	return f.metrics.AuthorizationStarted
}

func (f *Flow) metricAuthApproved() metric.Int64Counter {
	if f.metrics == nil {
		return nil
	}
	return f.metrics.AuthorizationApproved
}

func (f *Flow) metricCallback() metric.Int64Counter {
	if f.metrics == nil {
		return nil
	}
	return f.metrics.CallbackProcessed
}

func (f *Flow) count(ctx context.Context, counter metric.Int64Counter, clientID string) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(instrumentation.AttrClientID, clientID),
	))
}

// clientIP extracts the remote IP, without the port, for logging and rate
// limiting.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
