package security

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

// ApprovedClients tracks which OAuth client IDs a user has already approved.
// The set is carried entirely client-side in a signed cookie; the server
// keeps no record. The signature is the sole integrity control: a cookie that
// fails verification is treated as the empty set, never as an error, so a
// forged or corrupted cookie can only disable the fast path, not block the
// flow.
type ApprovedClients struct {
	signer *Signer
}

// NewApprovedClients creates a registry signing with secret.
func NewApprovedClients(secret string) *ApprovedClients {
	return &ApprovedClients{signer: NewSigner(secret)}
}

// Add unions clientID into the set carried by the request's cookie (if any)
// and returns the re-signed cookie to emit.
func (a *ApprovedClients) Add(r *http.Request, clientID string) (*http.Cookie, error) {
	clients := a.fromRequest(r)

	present := false
	for _, id := range clients {
		if id == clientID {
			present = true
			break
		}
	}
	if !present {
		clients = append(clients, clientID)
	}

	payload, err := json.Marshal(clients)
	if err != nil {
		return nil, err
	}

	value := a.signer.Sign(string(payload)) + "." + base64.StdEncoding.EncodeToString(payload)
	return hostCookie(ApprovedClientsCookieName, value, ApprovedClientsCookieMaxAge), nil
}

// IsApproved reports whether clientID is in the verified approved set.
func (a *ApprovedClients) IsApproved(r *http.Request, clientID string) bool {
	for _, id := range a.fromRequest(r) {
		if id == clientID {
			return true
		}
	}
	return false
}

// fromRequest extracts the verified approved-client set from the request
// cookie. Any failure (absent cookie, bad encoding, bad signature, wrong
// JSON shape) degrades to nil.
func (a *ApprovedClients) fromRequest(r *http.Request) []string {
	cookie, err := r.Cookie(ApprovedClientsCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	sig, encoded, found := strings.Cut(cookie.Value, ".")
	if !found {
		return nil
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}

	if !a.signer.Verify(sig, string(payload)) {
		return nil
	}

	var clients []string
	if err := json.Unmarshal(payload, &clients); err != nil {
		return nil
	}
	return clients
}
