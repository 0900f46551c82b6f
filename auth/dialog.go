package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
)

// ServerInfo is the broker's own identity shown on the approval dialog.
type ServerInfo struct {
	Name        string
	Description string
	LogoURL     string
}

// dialogData feeds the approval dialog template. All string fields are
// escaped by html/template; URLs are pre-validated by sanitizeURL before
// being marked safe.
type dialogData struct {
	ServerName        string
	ServerDescription string
	LogoURL           string
	ClientName        string
	ClientURI         string
	ActionPath        string
	EncodedState      string
	CSRFToken         string
}

var dialogTemplate = template.Must(template.New("approval").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="UTF-8"><meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.ClientName}} | Authorization Request</title>
<style>
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Roboto,Helvetica,Arial,sans-serif;line-height:1.6;color:#333;background:#f9fafb;margin:0;padding:0}
.container{max-width:600px;margin:2rem auto;padding:1rem}
.precard{padding:2rem;text-align:center}
.card{background:#fff;border-radius:8px;box-shadow:0 8px 36px 8px rgba(0,0,0,.1);padding:2rem}
.header{display:flex;align-items:center;justify-content:center;margin-bottom:1.5rem}
.logo{width:48px;height:48px;margin-right:1rem;border-radius:8px;object-fit:contain}
.title{margin:0;font-size:1.3rem;font-weight:400}
.alert{font-size:1.5rem;font-weight:400;margin:1rem 0;text-align:center}
.form-group{margin-bottom:1rem}
.form-group label{display:block;font-weight:500;margin-bottom:.25rem;font-size:.9rem}
.form-group input[type="text"],.form-group input[type="password"]{width:100%;padding:.5rem .75rem;border:1px solid #d1d5db;border-radius:6px;font-size:.95rem;box-sizing:border-box}
.form-group .hint{font-size:.8rem;color:#6b7280;margin-top:.25rem}
.section-label{font-weight:600;font-size:.95rem;margin:1.5rem 0 .75rem;padding-top:1rem;border-top:1px solid #e5e7eb}
.actions{display:flex;justify-content:flex-end;gap:1rem;margin-top:2rem}
.button{padding:.75rem 1.5rem;border-radius:6px;font-weight:500;cursor:pointer;border:none;font-size:1rem}
.button-primary{background:#0070f3;color:#fff}
.button-secondary{background:transparent;border:1px solid #e5e7eb;color:#333}
</style>
</head><body><div class="container">
<div class="precard"><div class="header">{{if .LogoURL}}<img src="{{.LogoURL}}" alt="{{.ServerName}}" class="logo">{{end}}<h1 class="title"><strong>{{.ServerName}}</strong></h1></div>{{if .ServerDescription}}<p>{{.ServerDescription}}</p>{{end}}</div>
<div class="card"><h2 class="alert"><strong>{{.ClientName}}</strong> is requesting access</h2>
{{if .ClientURI}}<p>Website: <a href="{{.ClientURI}}" target="_blank">{{.ClientURI}}</a></p>{{end}}
<p>This MCP client is requesting to be authorized on {{.ServerName}}. Your Canvas credentials will be stored securely.</p>
<form method="post" action="{{.ActionPath}}">
<input type="hidden" name="state" value="{{.EncodedState}}">
<input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
<div class="section-label">Canvas LMS Credentials</div>
<div class="form-group">
<label for="canvas_domain">Canvas Domain</label>
<input type="text" id="canvas_domain" name="canvas_domain" required placeholder="school.instructure.com">
<div class="hint">Your Canvas instance URL without https://</div>
</div>
<div class="form-group">
<label for="canvas_api_token">Canvas API Token</label>
<input type="password" id="canvas_api_token" name="canvas_api_token" required placeholder="Your API access token">
<div class="hint">Generate one in Canvas: Account &rarr; Settings &rarr; New Access Token</div>
</div>
<div class="actions"><button type="button" class="button button-secondary" onclick="window.history.back()">Cancel</button><button type="submit" class="button button-primary">Approve</button></div>
</form>
</div></div></body></html>`))

// renderDialog writes the approval form carrying the CSRF token and an
// opaque encoded copy of the original authorization request.
func renderDialog(w http.ResponseWriter, r *http.Request, server ServerInfo, client *ClientInfo, req *AuthRequest, csrfToken string, csrfCookie *http.Cookie) error {
	encoded, err := encodeAuthRequest(req)
	if err != nil {
		return fmt.Errorf("encode authorization request: %w", err)
	}

	data := dialogData{
		ServerName:        server.Name,
		ServerDescription: server.Description,
		LogoURL:           sanitizeURL(server.LogoURL),
		ClientName:        "Unknown MCP Client",
		ActionPath:        r.URL.Path,
		EncodedState:      encoded,
		CSRFToken:         csrfToken,
	}
	if client != nil {
		if client.ClientName != "" {
			data.ClientName = client.ClientName
		}
		data.ClientURI = sanitizeURL(client.ClientURI)
		if data.LogoURL == "" {
			data.LogoURL = sanitizeURL(client.LogoURI)
		}
	}

	var buf bytes.Buffer
	if err := dialogTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("render approval dialog: %w", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
	w.Header().Set("X-Frame-Options", "DENY")
	http.SetCookie(w, csrfCookie)
	_, err = w.Write(buf.Bytes())
	return err
}

// encodeAuthRequest round-trips the parsed request opaquely through the form.
func encodeAuthRequest(req *AuthRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// decodeAuthRequest reverses encodeAuthRequest. A nil result means the
// submitted state was unusable.
func decodeAuthRequest(encoded string) *AuthRequest {
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	var req AuthRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil
	}
	return &req
}

// sanitizeURL accepts only well-formed http(s) URLs free of control
// characters; anything else renders as empty.
func sanitizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	for _, r := range raw {
		if r <= 0x1f || (r >= 0x7f && r <= 0x9f) {
			return ""
		}
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return ""
	}
	return raw
}
