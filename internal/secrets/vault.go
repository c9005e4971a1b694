// Package secrets provides the encrypted vault for per-org provider API
// keys. Values are encrypted at rest with AES-256-GCM and stored in
// SQLite; every access, allowed or denied, is written to an audit table.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dossierotel "github.com/dossier-io/dossier/internal/otel"
)

var (
	// ErrKeyNotFound is returned when no provider key exists for the org.
	ErrKeyNotFound = errors.New("provider key not found")
	// ErrInvalidEncryptionKey is returned when the vault key is not
	// exactly 32 bytes (required for AES-256).
	ErrInvalidEncryptionKey = errors.New("invalid encryption key")
)

var tracer = dossierotel.Tracer("github.com/dossier-io/dossier/internal/secrets")

// Vault stores encrypted per-org provider API keys.
type Vault struct {
	db  *sql.DB
	gcm cipher.AEAD
}

// AccessRecord is one vault access audit entry.
type AccessRecord struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Backend   string    `json:"backend"`
	Timestamp time.Time `json:"timestamp"`
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
}

const vaultSchema = `
CREATE TABLE IF NOT EXISTS provider_keys (
    org_id TEXT NOT NULL,
    backend TEXT NOT NULL,
    nonce TEXT NOT NULL,
    ciphertext TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    accessed_at TIMESTAMP,
    access_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (org_id, backend)
);

CREATE TABLE IF NOT EXISTS vault_audit (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    backend TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    allowed INTEGER NOT NULL,
    reason TEXT NOT NULL DEFAULT ''
);
`

// Open creates (or opens) the vault at dbPath. encryptionKey must be 32
// raw bytes or 64 hex characters.
func Open(dbPath, encryptionKey string) (*Vault, error) {
	keyBytes, err := resolveEncryptionKey(encryptionKey)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening vault database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), vaultSchema); err != nil {
		return nil, fmt.Errorf("creating vault schema: %w", err)
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return &Vault{db: db, gcm: gcm}, nil
}

func resolveEncryptionKey(key string) ([]byte, error) {
	if len(key) == 32 {
		return []byte(key), nil
	}
	if len(key) == 64 {
		if decoded, err := hex.DecodeString(key); err == nil && len(decoded) == 32 {
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("%w: need 32 bytes or 64 hex characters, got %d", ErrInvalidEncryptionKey, len(key))
}

// Close releases the vault database.
func (v *Vault) Close() error {
	return v.db.Close()
}

// SetProviderKey stores (or replaces) the API key for an org and backend.
func (v *Vault) SetProviderKey(ctx context.Context, orgID, backend, apiKey string) error {
	ctx, span := tracer.Start(ctx, "secrets.set_provider_key",
		trace.WithAttributes(
			attribute.String("org_id", orgID),
			attribute.String("backend", backend),
		))
	defer span.End()

	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext := v.gcm.Seal(nil, nonce, []byte(apiKey), nil)

	_, err := v.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO provider_keys (org_id, backend, nonce, ciphertext, created_at, access_count)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		orgID, backend,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(ciphertext),
		time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("storing provider key: %w", err)
	}
	return nil
}

// GetProviderKey resolves and decrypts the API key for an org and
// backend. Misses are audit-logged as denied lookups.
func (v *Vault) GetProviderKey(ctx context.Context, orgID, backend string) (string, error) {
	ctx, span := tracer.Start(ctx, "secrets.get_provider_key",
		trace.WithAttributes(
			attribute.String("org_id", orgID),
			attribute.String("backend", backend),
		))
	defer span.End()

	var nonceB64, cipherB64 string
	err := v.db.QueryRowContext(ctx,
		`SELECT nonce, ciphertext FROM provider_keys WHERE org_id = ? AND backend = ?`,
		orgID, backend).Scan(&nonceB64, &cipherB64)
	if errors.Is(err, sql.ErrNoRows) {
		v.logAccess(ctx, orgID, backend, false, "not found")
		span.SetStatus(codes.Error, "provider key not found")
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying provider key: %w", err)
	}

	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return "", fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		v.logAccess(ctx, orgID, backend, false, "decryption failed")
		return "", fmt.Errorf("decrypting provider key: %w", err)
	}

	_, _ = v.db.ExecContext(ctx,
		`UPDATE provider_keys SET accessed_at = ?, access_count = access_count + 1
		 WHERE org_id = ? AND backend = ?`,
		time.Now().UTC(), orgID, backend)
	v.logAccess(ctx, orgID, backend, true, "")
	return string(plaintext), nil
}

// DeleteProviderKey removes an org's key for a backend.
func (v *Vault) DeleteProviderKey(ctx context.Context, orgID, backend string) error {
	_, err := v.db.ExecContext(ctx,
		`DELETE FROM provider_keys WHERE org_id = ? AND backend = ?`, orgID, backend)
	if err != nil {
		return fmt.Errorf("deleting provider key: %w", err)
	}
	return nil
}

// KeyInfo describes a stored provider key without exposing its value.
type KeyInfo struct {
	OrgID       string     `json:"org_id"`
	Backend     string     `json:"backend"`
	CreatedAt   time.Time  `json:"created_at"`
	AccessedAt  *time.Time `json:"accessed_at,omitempty"`
	AccessCount int        `json:"access_count"`
}

// ListProviderKeys lists stored keys, optionally filtered by org.
func (v *Vault) ListProviderKeys(ctx context.Context, orgID string) ([]KeyInfo, error) {
	query := `SELECT org_id, backend, created_at, accessed_at, access_count FROM provider_keys`
	var args []interface{}
	if orgID != "" {
		query += ` WHERE org_id = ?`
		args = append(args, orgID)
	}
	query += ` ORDER BY org_id, backend`
	rows, err := v.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing provider keys: %w", err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		var info KeyInfo
		if err := rows.Scan(&info.OrgID, &info.Backend, &info.CreatedAt, &info.AccessedAt, &info.AccessCount); err != nil {
			continue
		}
		keys = append(keys, info)
	}
	return keys, rows.Err()
}

func (v *Vault) logAccess(ctx context.Context, orgID, backend string, allowed bool, reason string) {
	_, _ = v.db.ExecContext(ctx,
		`INSERT INTO vault_audit (id, org_id, backend, timestamp, allowed, reason) VALUES (?, ?, ?, ?, ?, ?)`,
		"va_"+uuid.New().String()[:12], orgID, backend, time.Now().UTC(), allowed, reason)
}

// AuditLog returns recent access records for an org, newest first.
func (v *Vault) AuditLog(ctx context.Context, orgID string, limit int) ([]AccessRecord, error) {
	query := `SELECT id, org_id, backend, timestamp, allowed, reason
	          FROM vault_audit WHERE org_id = ? ORDER BY timestamp DESC`
	args := []interface{}{orgID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := v.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vault audit: %w", err)
	}
	defer rows.Close()

	var records []AccessRecord
	for rows.Next() {
		var rec AccessRecord
		if err := rows.Scan(&rec.ID, &rec.OrgID, &rec.Backend, &rec.Timestamp, &rec.Allowed, &rec.Reason); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
