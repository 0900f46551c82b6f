// Package vault stores per-user Canvas credentials encrypted at rest.
//
// API tokens are encrypted with AES-256-GCM under a key derived from the
// master secret via HKDF with a distinct info tag ("canvas-credentials"), so
// the encryption key is cryptographically independent from the cookie-signing
// use of the same secret. A vault read that fails to authenticate or parse is
// reported as absence, not as an error: after a master-secret rotation the
// broker degrades to a re-authentication prompt instead of a hard failure.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/hkdf"

	"github.com/edutools/mcp-canvas/instrumentation"
	"github.com/edutools/mcp-canvas/storage"
)

const (
	// kvPrefix namespaces credential records in the key-value store.
	kvPrefix = "canvas:credentials:"

	// hkdfSalt and hkdfInfo fix the HKDF parameters for credential
	// encryption. The info tag must differ from every other derivation
	// from the same master secret.
	hkdfSalt = "canvas-mcp-salt"
	hkdfInfo = "canvas-credentials"

	// keySize is 32 bytes for AES-256.
	keySize = 32

	// DefaultTTL expires stored credentials after roughly six months to
	// force periodic re-verification.
	DefaultTTL = 180 * 24 * time.Hour
)

// Credentials are a user's Canvas API token and instance domain.
// The plaintext token is never persisted or logged.
type Credentials struct {
	APIToken string
	Domain   string
}

// storedRecord is the persisted shape of a credential entry.
type storedRecord struct {
	EncryptedToken string    `json:"encryptedToken"` // base64(nonce || ciphertext || tag)
	CanvasDomain   string    `json:"canvasDomain"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Vault encrypts, stores, and retrieves per-user Canvas credentials.
type Vault struct {
	kv           storage.KV
	masterSecret string
	ttl          time.Duration
	logger       *slog.Logger
	ops          metric.Int64Counter
}

// Option configures a Vault.
type Option func(*Vault)

// WithTTL overrides the credential record TTL.
func WithTTL(ttl time.Duration) Option {
	return func(v *Vault) { v.ttl = ttl }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithInstrumentation wires vault operation metrics.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(v *Vault) {
		if inst != nil {
			v.ops = inst.Metrics().VaultOperationsTotal
		}
	}
}

// New creates a vault backed by kv, encrypting under masterSecret.
// The master secret is injected explicitly so tests and key rotation never
// depend on process-wide state.
func New(kv storage.KV, masterSecret string, opts ...Option) (*Vault, error) {
	if kv == nil {
		return nil, errors.New("vault: kv store is required")
	}
	if masterSecret == "" {
		return nil, errors.New("vault: master secret is required")
	}

	v := &Vault{
		kv:           kv,
		masterSecret: masterSecret,
		ttl:          DefaultTTL,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Get retrieves and decrypts the credentials for userID.
// Absence, decryption failure, and corrupt records all return (nil, nil):
// callers must treat every vault-read failure as "no credentials stored".
func (v *Vault) Get(ctx context.Context, userID string) (*Credentials, error) {
	raw, err := v.kv.Get(ctx, kvPrefix+userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			v.record(ctx, "get", "absent")
			return nil, nil
		}
		v.record(ctx, "get", "error")
		return nil, fmt.Errorf("vault: read credentials: %w", err)
	}

	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		v.record(ctx, "get", "unreadable")
		v.logger.Warn("Stored credential record is not valid JSON, treating as absent",
			"user_id_present", userID != "")
		return nil, nil
	}

	key, err := DeriveKey(v.masterSecret, hkdfInfo)
	if err != nil {
		v.record(ctx, "get", "error")
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}

	token, err := Decrypt(stored.EncryptedToken, key)
	if err != nil {
		// Key rotated or record corrupted. Indistinguishable from
		// absence on purpose; the counter below is the only signal.
		v.record(ctx, "get", "unreadable")
		v.logger.Warn("Credential decryption failed, treating as absent",
			"user_id_present", userID != "")
		return nil, nil
	}

	v.record(ctx, "get", "hit")
	return &Credentials{APIToken: token, Domain: stored.CanvasDomain}, nil
}

// Put encrypts and stores credentials for userID, overwriting any existing
// record. The key is re-derived and a fresh nonce is generated on every call.
func (v *Vault) Put(ctx context.Context, userID string, creds Credentials) error {
	key, err := DeriveKey(v.masterSecret, hkdfInfo)
	if err != nil {
		v.record(ctx, "put", "error")
		return fmt.Errorf("vault: derive key: %w", err)
	}

	encrypted, err := Encrypt(creds.APIToken, key)
	if err != nil {
		v.record(ctx, "put", "error")
		return fmt.Errorf("vault: encrypt token: %w", err)
	}

	record, err := json.Marshal(storedRecord{
		EncryptedToken: encrypted,
		CanvasDomain:   creds.Domain,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		v.record(ctx, "put", "error")
		return fmt.Errorf("vault: marshal record: %w", err)
	}

	if err := v.kv.Set(ctx, kvPrefix+userID, record, v.ttl); err != nil {
		v.record(ctx, "put", "error")
		return fmt.Errorf("vault: write credentials: %w", err)
	}

	v.record(ctx, "put", "ok")
	return nil
}

// Delete removes the credentials for userID.
func (v *Vault) Delete(ctx context.Context, userID string) error {
	if err := v.kv.Delete(ctx, kvPrefix+userID); err != nil {
		v.record(ctx, "delete", "error")
		return fmt.Errorf("vault: delete credentials: %w", err)
	}
	v.record(ctx, "delete", "ok")
	return nil
}

func (v *Vault) record(ctx context.Context, op, result string) {
	if v.ops == nil {
		return
	}
	v.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String(instrumentation.AttrVaultOperation, op),
		attribute.String(instrumentation.AttrVaultResult, result),
	))
}

// DeriveKey derives a 32-byte AES-256 key from the master secret via
// HKDF-SHA-256 with the package's fixed salt and the given info tag.
// Distinct info tags produce cryptographically independent keys.
func DeriveKey(masterSecret, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(masterSecret), []byte(hkdfSalt), []byte(info))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

// Encrypt encrypts plaintext with AES-256-GCM under key and a fresh random
// 96-bit nonce. The result is base64(nonce || ciphertext || tag).
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	// Seal appends to the nonce slice, producing [nonce][ciphertext][tag].
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any corruption of the encoding, nonce,
// ciphertext, or tag returns an error; corrupted plaintext is never returned.
func Decrypt(encoded string, key []byte) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes for AES-256, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return gcm, nil
}
