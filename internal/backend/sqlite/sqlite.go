// Package sqlite is an embedded search backend on SQLite FTS5. All indexes
// of a server share one database file: a registry table, an item table
// holding the JSON encoded fields used for filtering, and one FTS5 table
// with a row per (index, item, fulltext field).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	sqlitedb "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sapi_indexes (
		id     TEXT PRIMARY KEY,
		fields TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sapi_items (
		index_id TEXT NOT NULL,
		item_id  TEXT NOT NULL,
		fields   TEXT NOT NULL,
		PRIMARY KEY (index_id, item_id)
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS sapi_fts USING fts5(
		index_id UNINDEXED,
		item_id UNINDEXED,
		field UNINDEXED,
		content,
		tokenize='unicode61'
	)`,
}

type Backend struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New opens the database at path. ":memory:" keeps it in process.
func New(ctx context.Context, path string, busyTimeout time.Duration) (*Backend, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sqlitedb.Open(ctx, path, busyTimeout, schema...)
	if err != nil {
		return nil, err
	}
	return &Backend{db: db, logger: slog.Default().With("component", "sqlite-backend")}, nil
}

func (b *Backend) requireIndex(ctx context.Context, indexID string) error {
	var one int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM sapi_indexes WHERE id = ?`, indexID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", apperrors.ErrIndexNotFound, indexID)
	}
	if err != nil {
		return fmt.Errorf("looking up index %s: %w", indexID, err)
	}
	return nil
}

func (b *Backend) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// AddIndex registers the index, replacing its stored field configuration.
func (b *Backend) AddIndex(ctx context.Context, idx *catalog.Index) error {
	fields, err := json.Marshal(idx.Fields)
	if err != nil {
		return fmt.Errorf("encoding fields: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO sapi_indexes (id, fields) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET fields = excluded.fields`,
		idx.ID, string(fields))
	if err != nil {
		return fmt.Errorf("registering index %s: %w", idx.ID, err)
	}
	return nil
}

// UpdateIndex rebuilds the fulltext rows of every stored item from its
// saved fields, so that changed fulltext flags take effect immediately.
func (b *Backend) UpdateIndex(ctx context.Context, idx *catalog.Index, _ *catalog.Index) error {
	if err := b.AddIndex(ctx, idx); err != nil {
		return err
	}
	return b.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT fields FROM sapi_items WHERE index_id = ?`, idx.ID)
		if err != nil {
			return fmt.Errorf("reading items: %w", err)
		}
		var items []*item.Item
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				rows.Close()
				return fmt.Errorf("scanning item: %w", err)
			}
			it, err := decodeItem(raw)
			if err != nil {
				rows.Close()
				return err
			}
			items = append(items, it)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sapi_fts WHERE index_id = ?`, idx.ID); err != nil {
			return fmt.Errorf("clearing fulltext rows: %w", err)
		}
		for _, it := range items {
			if err := insertFulltext(ctx, tx, idx, it); err != nil {
				return err
			}
		}
		b.logger.Info("fulltext rows rebuilt", "index_id", idx.ID, "items", len(items))
		return nil
	})
}

func (b *Backend) RemoveIndex(ctx context.Context, indexID string) error {
	return b.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM sapi_fts WHERE index_id = ?`,
			`DELETE FROM sapi_items WHERE index_id = ?`,
			`DELETE FROM sapi_indexes WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, indexID); err != nil {
				return fmt.Errorf("removing index %s: %w", indexID, err)
			}
		}
		return nil
	})
}

func decodeItem(raw string) (*item.Item, error) {
	var it item.Item
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		return nil, fmt.Errorf("decoding item: %w", err)
	}
	if err := it.Normalize(); err != nil {
		return nil, err
	}
	return &it, nil
}

func insertFulltext(ctx context.Context, tx *sql.Tx, idx *catalog.Index, it *item.Item) error {
	for _, name := range idx.FulltextFields() {
		f := it.Field(name)
		if f == nil {
			continue
		}
		content := strings.Join(f.Strings(), " ")
		if content == "" {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sapi_fts (index_id, item_id, field, content) VALUES (?, ?, ?, ?)`,
			idx.ID, it.ID, name, content)
		if err != nil {
			return fmt.Errorf("indexing %s.%s: %w", it.ID, name, err)
		}
	}
	return nil
}

func (b *Backend) IndexItems(ctx context.Context, idx *catalog.Index, items []*item.Item) ([]string, error) {
	if err := b.requireIndex(ctx, idx.ID); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	err := b.inTx(ctx, func(tx *sql.Tx) error {
		for _, it := range items {
			raw, err := json.Marshal(it)
			if err != nil {
				return fmt.Errorf("encoding item %s: %w", it.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM sapi_fts WHERE index_id = ? AND item_id = ?`, idx.ID, it.ID); err != nil {
				return fmt.Errorf("clearing item %s: %w", it.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO sapi_items (index_id, item_id, fields) VALUES (?, ?, ?)
				 ON CONFLICT (index_id, item_id) DO UPDATE SET fields = excluded.fields`,
				idx.ID, it.ID, string(raw)); err != nil {
				return fmt.Errorf("storing item %s: %w", it.ID, err)
			}
			if err := insertFulltext(ctx, tx, idx, it); err != nil {
				return err
			}
			ids = append(ids, it.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (b *Backend) DeleteItems(ctx context.Context, idx *catalog.Index, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, idx.ID)
	for _, id := range ids {
		args = append(args, id)
	}
	in := placeholders(len(ids))
	return b.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"sapi_fts", "sapi_items"} {
			stmt := fmt.Sprintf(`DELETE FROM %s WHERE index_id = ? AND item_id IN (%s)`, table, in)
			if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
				return fmt.Errorf("deleting items: %w", err)
			}
		}
		return nil
	})
}

func (b *Backend) DeleteAllIndexItems(ctx context.Context, idx *catalog.Index) error {
	return b.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"sapi_fts", "sapi_items"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE index_id = ?`, idx.ID); err != nil {
				return fmt.Errorf("clearing index %s: %w", idx.ID, err)
			}
		}
		return nil
	})
}

// ftsPhrase quotes term as an FTS5 string so operators inside it are
// taken literally.
func ftsPhrase(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}

// termScores returns the items whose searched fields contain term, with
// the boosted and negated bm25 score summed over fields.
func (b *Backend) termScores(ctx context.Context, idx *catalog.Index, fields map[string]bool, term string) (map[string]float64, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT item_id, field, bm25(sapi_fts) FROM sapi_fts WHERE sapi_fts MATCH ? AND index_id = ?`,
		ftsPhrase(term), idx.ID)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			id, field string
			score     float64
		)
		if err := rows.Scan(&id, &field, &score); err != nil {
			return nil, fmt.Errorf("scanning fts row: %w", err)
		}
		if !fields[field] {
			continue
		}
		boost := idx.Fields[field].Boost
		if boost == 0 {
			boost = 1
		}
		// FTS5 bm25 is lower-is-better.
		out[id] += -score * boost
	}
	return out, rows.Err()
}

func (b *Backend) allItems(ctx context.Context, indexID string) (map[string]float64, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT item_id FROM sapi_items WHERE index_id = ?`, indexID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()
	out := make(map[string]float64)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = 0
	}
	return out, rows.Err()
}

func (b *Backend) searchFields(idx *catalog.Index, requested []string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range requested {
		if spec, ok := idx.Fields[f]; ok && spec.Fulltext {
			out[f] = true
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, f := range idx.FulltextFields() {
		out[f] = true
	}
	return out
}

func (b *Backend) match(ctx context.Context, idx *catalog.Index, q *query.Query) (map[string]float64, error) {
	keys := q.Keys
	if keys == nil {
		keys = &query.Keys{}
	}
	fields := b.searchFields(idx, q.Fields)

	var scores map[string]float64
	if keys.Empty() {
		all, err := b.allItems(ctx, idx.ID)
		if err != nil {
			return nil, err
		}
		scores = all
	}
	for i, term := range keys.Terms {
		hits, err := b.termScores(ctx, idx, fields, term)
		if err != nil {
			return nil, err
		}
		switch {
		case i == 0:
			scores = hits
		case keys.Conjunction == query.OR:
			for id, s := range hits {
				scores[id] += s
			}
		default:
			for id := range scores {
				s, ok := hits[id]
				if !ok {
					delete(scores, id)
					continue
				}
				scores[id] += s
			}
		}
	}
	for _, term := range keys.Negated {
		hits, err := b.termScores(ctx, idx, fields, term)
		if err != nil {
			return nil, err
		}
		for id := range hits {
			delete(scores, id)
		}
	}
	return scores, nil
}

func (b *Backend) filter(ctx context.Context, indexID string, g *query.ConditionGroup, scores map[string]float64) error {
	if g == nil || len(g.Conditions)+len(g.Groups) == 0 || len(scores) == 0 {
		return nil
	}
	rows, err := b.db.QueryContext(ctx, `SELECT item_id, fields FROM sapi_items WHERE index_id = ?`, indexID)
	if err != nil {
		return fmt.Errorf("reading items: %w", err)
	}
	defer rows.Close()
	keep := make(map[string]bool, len(scores))
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return fmt.Errorf("scanning item: %w", err)
		}
		if _, ok := scores[id]; !ok {
			continue
		}
		it, err := decodeItem(raw)
		if err != nil {
			return err
		}
		keep[id] = g.Match(func(field string) []any {
			if f := it.Field(field); f != nil {
				return f.Values
			}
			return nil
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for id := range scores {
		if !keep[id] {
			delete(scores, id)
		}
	}
	return nil
}

func (b *Backend) Search(ctx context.Context, idx *catalog.Index, q *query.Query) (*query.Results, error) {
	if err := b.requireIndex(ctx, idx.ID); err != nil {
		return nil, err
	}
	scores, err := b.match(ctx, idx, q)
	if err != nil {
		return nil, err
	}
	if err := b.filter(ctx, idx.ID, q.Filter, scores); err != nil {
		return nil, err
	}
	all := make([]query.Result, 0, len(scores))
	for id, s := range scores {
		all = append(all, query.Result{ID: id, Score: s})
	}
	query.SortResults(all)
	return &query.Results{ResultCount: len(all), Results: backend.Page(all, q.Offset, q.Limit)}, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
