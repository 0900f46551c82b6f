package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. User IDs are
// hashed before logging; credential material is never logged at all.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogCredentialsStored logs a credential vault write.
func (a *Auditor) LogCredentialsStored(userID, clientID, ipAddress, canvasDomain string) {
	a.LogEvent(Event{
		Type:      "credentials_stored",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"canvas_domain": canvasDomain,
		},
	})
}

// LogCredentialsDeleted logs a credential vault delete.
func (a *Auditor) LogCredentialsDeleted(userID, ipAddress string) {
	a.LogEvent(Event{
		Type:      "credentials_deleted",
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// LogCSRFFailure logs a rejected approval form submission.
func (a *Auditor) LogCSRFFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "csrf_validation_failed",
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogStateValidationFailure logs a rejected provider callback.
func (a *Auditor) LogStateValidationFailure(ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "state_validation_failed",
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAuthorizationCompleted logs a finished approval flow.
func (a *Auditor) LogAuthorizationCompleted(userID, clientID, ipAddress, mode string) {
	a.LogEvent(Event{
		Type:      "authorization_completed",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"mode": mode,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a truncated SHA-256 hash of sensitive data for logging.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
