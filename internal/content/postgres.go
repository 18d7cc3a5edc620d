package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/migration"
	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/postgres"
)

// Migrations create the content tables. They are appended after the task
// log migrations when the database is opened.
var Migrations = []migration.Migrator{
	func(tx migration.LimitedTx) error {
		_, err := tx.Exec(`
CREATE TABLE content_items (
	id         TEXT PRIMARY KEY,
	datasource TEXT NOT NULL,
	fields     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX content_items_datasource_idx ON content_items (datasource);
CREATE TABLE node_access (
	nid        TEXT NOT NULL,
	realm      TEXT NOT NULL,
	gid        BIGINT NOT NULL,
	grant_view BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (nid, realm, gid)
);
CREATE TABLE accounts (
	id     BIGINT PRIMARY KEY,
	bypass BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE account_grants (
	account_id BIGINT NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
	realm      TEXT NOT NULL,
	gid        BIGINT NOT NULL,
	PRIMARY KEY (account_id, realm, gid)
);
INSERT INTO accounts (id, bypass) VALUES (0, FALSE);`)
		return err
	},
}

// PostgresStore reads items from content_items and grants from node_access.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type storedField struct {
	Type     item.FieldType `json:"type"`
	Fulltext bool           `json:"fulltext,omitempty"`
	Values   []any          `json:"values"`
}

func (s *PostgresStore) LoadItems(ctx context.Context, datasource string, ids []string) ([]*item.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, datasource, fields FROM content_items
		 WHERE id = ANY($1) AND ($2 = '' OR datasource = $2)`,
		pq.Array(ids), datasource)
	if err != nil {
		return nil, fmt.Errorf("querying content items: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*item.Item, len(ids))
	for rows.Next() {
		var (
			id, ds string
			raw    []byte
		)
		if err := rows.Scan(&id, &ds, &raw); err != nil {
			return nil, fmt.Errorf("scanning content item: %w", err)
		}
		it, err := decodeItem(ds, id, raw)
		if err != nil {
			return nil, err
		}
		byID[id] = it
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating content items: %w", err)
	}

	out := make([]*item.Item, 0, len(byID))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func decodeItem(datasource, id string, raw []byte) (*item.Item, error) {
	var fields map[string]storedField
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decoding fields of item %s: %w", id, err)
	}
	it := item.New(datasource, id)
	for name, sf := range fields {
		values := make([]any, 0, len(sf.Values))
		for _, v := range sf.Values {
			nv, err := item.NormalizeValue(sf.Type, v)
			if err != nil {
				return nil, fmt.Errorf("item %s field %s: %w", id, name, err)
			}
			values = append(values, nv)
		}
		it.Set(name, sf.Type, values...).Fulltext = sf.Fulltext
	}
	return it, nil
}

func (s *PostgresStore) UpsertItem(ctx context.Context, it *item.Item) error {
	fields := make(map[string]storedField, len(it.Fields))
	for name, f := range it.Fields {
		values := make([]any, len(f.Values))
		for i, v := range f.Values {
			if t, ok := v.(time.Time); ok {
				v = t.UTC().Format(time.RFC3339)
			}
			values[i] = v
		}
		fields[name] = storedField{Type: f.Type, Fulltext: f.Fulltext, Values: values}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding item %s: %w", it.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO content_items (id, datasource, fields, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE
		 SET datasource = EXCLUDED.datasource, fields = EXCLUDED.fields, updated_at = now()`,
		it.ID, it.Datasource, raw)
	if err != nil {
		return fmt.Errorf("upserting item %s: %w", it.ID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteItem(ctx context.Context, datasource, id string) error {
	return postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM content_items WHERE id = $1 AND ($2 = '' OR datasource = $2)`, id, datasource); err != nil {
			return fmt.Errorf("deleting item %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM node_access WHERE nid = $1`, id); err != nil {
			return fmt.Errorf("deleting grants of item %s: %w", id, err)
		}
		return nil
	})
}

func (s *PostgresStore) AnonymousAccount(ctx context.Context) (*Account, error) {
	return s.Account(ctx, AnonymousID)
}

func (s *PostgresStore) Account(ctx context.Context, id int64) (*Account, error) {
	acct := &Account{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT bypass FROM accounts WHERE id = $1`, id).Scan(&acct.Bypass)
	if errors.Is(err, sql.ErrNoRows) {
		return acct, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT realm, gid FROM account_grants WHERE account_id = $1 ORDER BY realm, gid`, id)
	if err != nil {
		return nil, fmt.Errorf("loading grants of account %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.Realm, &g.GID); err != nil {
			return nil, fmt.Errorf("scanning account grant: %w", err)
		}
		acct.Grants = append(acct.Grants, g)
	}
	return acct, rows.Err()
}

func (s *PostgresStore) CanView(ctx context.Context, acct *Account, itemID string) (bool, error) {
	grants, err := s.ViewGrants(ctx, itemID)
	if err != nil {
		return false, err
	}
	if acct.Bypass {
		return true, nil
	}
	return hasAny(grants, acct.Grants), nil
}

// ViewGrants returns the view grants of itemID, including wildcard grants.
func (s *PostgresStore) ViewGrants(ctx context.Context, itemID string) ([]Grant, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM content_items WHERE id = $1)`, itemID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking item %s: %w", itemID, err)
	}
	if !exists {
		return nil, apperrors.ErrItemNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT realm, gid FROM node_access
		 WHERE nid IN ($1, $2) AND grant_view
		 ORDER BY nid DESC, realm, gid`, itemID, WildcardItem)
	if err != nil {
		return nil, fmt.Errorf("loading grants of item %s: %w", itemID, err)
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.Realm, &g.GID); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
