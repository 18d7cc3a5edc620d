// Package apikey validates API keys. A key names the content account
// searches run for and whether it may call the administrative endpoints.
// Raw keys are generated with crypto/rand and only their SHA-256 digest is
// stored.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BurntSushi/migration"

	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/config"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrExpiredKey = errors.New("api key expired")
)

// KeyInfo holds metadata about a validated API key.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	AccountID int64      `json:"account_id"`
	Admin     bool       `json:"admin"`
	RateLimit int        `json:"rate_limit"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Spec describes a key to create.
type Spec struct {
	Name      string
	AccountID int64
	Admin     bool
	RateLimit int
	ExpiresAt *time.Time
}

// Migrations create the api_keys table.
var Migrations = []migration.Migrator{
	func(tx migration.LimitedTx) error {
		_, err := tx.Exec(`
CREATE TABLE api_keys (
	id         BIGSERIAL PRIMARY KEY,
	key_hash   TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	account_id BIGINT NOT NULL DEFAULT 0,
	admin      BOOLEAN NOT NULL DEFAULT FALSE,
	rate_limit INTEGER NOT NULL DEFAULT 100,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ
);`)
		return err
	},
}

// Validator checks presented keys.
type Validator interface {
	Validate(ctx context.Context, rawKey string) (*KeyInfo, error)
}

// Store validates keys against the api_keys table in PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Validator = (*Store)(nil)

// NewStore expects Migrations to have been applied.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "apikey-store"),
	}
}

// Validate returns ErrInvalidKey for unknown or revoked keys and
// ErrExpiredKey for keys past their expiry.
func (s *Store) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	var (
		info      KeyInfo
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, account_id, admin, rate_limit, is_active, created_at, expires_at
		 FROM api_keys
		 WHERE key_hash = $1 AND is_active = true`,
		HashKey(rawKey),
	).Scan(&info.ID, &info.Name, &info.AccountID, &info.Admin, &info.RateLimit, &info.IsActive, &info.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	if expiresAt.Valid {
		if expiresAt.Time.Before(time.Now()) {
			return nil, ErrExpiredKey
		}
		info.ExpiresAt = &expiresAt.Time
	}
	return &info, nil
}

// CreateKey stores a new key and returns the raw key. The raw key cannot be
// retrieved again.
func (s *Store) CreateKey(ctx context.Context, spec Spec) (string, error) {
	rawKey := generateRawKey()
	var expiry sql.NullTime
	if spec.ExpiresAt != nil {
		expiry = sql.NullTime{Time: *spec.ExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, name, account_id, admin, rate_limit, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		HashKey(rawKey), spec.Name, spec.AccountID, spec.Admin, spec.RateLimit, expiry,
	)
	if err != nil {
		return "", fmt.Errorf("creating api key: %w", err)
	}
	s.logger.Info("api key created", "name", spec.Name, "account_id", spec.AccountID, "admin", spec.Admin)
	return rawKey, nil
}

// RevokeKey deactivates the key with the given id.
func (s *Store) RevokeKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = false WHERE id = $1 AND is_active = true`,
		id,
	)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if rows == 0 {
		return ErrInvalidKey
	}
	s.logger.Info("api key revoked", "id", id)
	return nil
}

// ListKeys returns all active keys, newest first.
func (s *Store) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, account_id, admin, rate_limit, is_active, created_at, expires_at
		 FROM api_keys WHERE is_active = true ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		var (
			k         KeyInfo
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&k.ID, &k.Name, &k.AccountID, &k.Admin, &k.RateLimit, &k.IsActive, &k.CreatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		if expiresAt.Valid {
			k.ExpiresAt = &expiresAt.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Static validates a fixed set of keys, for deployments without
// PostgreSQL. It is keyed by digest like Store.
type Static struct {
	keys map[string]KeyInfo
}

var _ Validator = (*Static)(nil)

func NewStatic(keys []config.APIKey) (*Static, error) {
	s := &Static{keys: make(map[string]KeyInfo, len(keys))}
	for i, k := range keys {
		if k.Key == "" {
			return nil, fmt.Errorf("static key %d has no key", i)
		}
		h := HashKey(k.Key)
		if _, dup := s.keys[h]; dup {
			return nil, fmt.Errorf("static key %q is listed twice", k.Name)
		}
		s.keys[h] = KeyInfo{
			ID:        h[:12],
			Name:      k.Name,
			AccountID: k.Account,
			Admin:     k.Admin,
			RateLimit: k.RateLimit,
			IsActive:  true,
		}
	}
	return s, nil
}

func (s *Static) Validate(_ context.Context, rawKey string) (*KeyInfo, error) {
	info, ok := s.keys[HashKey(rawKey)]
	if !ok {
		return nil, ErrInvalidKey
	}
	return &info, nil
}

// ListKeys returns the configured keys ordered by name.
func (s *Static) ListKeys(context.Context) ([]KeyInfo, error) {
	keys := make([]KeyInfo, 0, len(s.keys))
	for _, k := range s.keys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys, nil
}

// HashKey returns the SHA-256 hex digest of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRawKey() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
