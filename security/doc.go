// Package security provides the cryptographic and anti-forgery primitives of
// the authorization surface: HMAC cookie signing, double-submit CSRF
// protection, the signed approved-clients cookie, per-IP rate limiting, and
// security audit logging.
package security
