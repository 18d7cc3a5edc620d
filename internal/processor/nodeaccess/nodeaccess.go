// Package nodeaccess tags every item with the grants that allow viewing it
// and restricts queries to items the querying account may see.
package nodeaccess

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/processor"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
)

const (
	ID            = "node_access"
	DefaultWeight = -10

	// AllToken marks an item the anonymous viewer may see.
	AllToken = "node_access__all"

	StatusField = "status"
	AuthorField = "author"

	anonymousKey = "node_access.anonymous"
)

type NodeAccess struct {
	weight int
	store  content.AccessStore
}

func New(store content.AccessStore, weight int) *NodeAccess {
	return &NodeAccess{weight: weight, store: store}
}

// Applicable reports whether idx lists items that carry node grants.
func Applicable(idx *catalog.Index) bool {
	return idx.Datasource.Has(catalog.CapabilityNodeAccess)
}

func (n *NodeAccess) ID() string  { return ID }
func (n *NodeAccess) Weight() int { return n.weight }

func (n *NodeAccess) Validate(context.Context) error {
	if n.store == nil {
		return &processor.ConfigError{Processor: ID, Err: errors.New("no access store configured")}
	}
	return nil
}

// RequiredFields forces the status and author fields, which the query-time
// filter depends on, and the access field itself.
func (n *NodeAccess) RequiredFields(*catalog.Index) map[string]catalog.FieldSpec {
	return map[string]catalog.FieldSpec{
		StatusField:      {Type: item.TypeBoolean, Indexed: true},
		AuthorField:      {Type: item.TypeInteger, Indexed: true},
		item.AccessField: {Type: item.TypeString, Indexed: true},
	}
}

func (n *NodeAccess) anonymous(ctx context.Context, rc *processor.RunContext) (*content.Account, error) {
	return processor.Memo(rc, anonymousKey, func() (*content.Account, error) {
		return n.store.AnonymousAccount(ctx)
	})
}

// Tokens computes the access tokens of one item.
func (n *NodeAccess) Tokens(ctx context.Context, anon *content.Account, itemID string) ([]any, error) {
	visible, err := n.store.CanView(ctx, anon, itemID)
	if err != nil {
		return nil, err
	}
	if visible {
		return []any{AllToken}, nil
	}
	grants, err := n.store.ViewGrants(ctx, itemID)
	if err != nil {
		return nil, err
	}
	tokens := make([]any, 0, len(grants))
	for _, g := range grants {
		tokens = append(tokens, g.Token())
	}
	return tokens, nil
}

// ProcessItems replaces the access field of every item. Items the store
// does not know are removed from the set.
func (n *NodeAccess) ProcessItems(ctx context.Context, rc *processor.RunContext, set *item.Set) error {
	anon, err := n.anonymous(ctx, rc)
	if err != nil {
		return fmt.Errorf("loading anonymous account: %w", err)
	}
	for _, id := range set.IDs() {
		tokens, err := n.Tokens(ctx, anon, id)
		if errors.Is(err, apperrors.ErrItemNotFound) {
			set.Remove(id)
			continue
		}
		if err != nil {
			return fmt.Errorf("resolving access for item %s: %w", id, err)
		}
		set.Get(id).Set(item.AccessField, item.TypeString, tokens...)
	}
	return nil
}

// PreprocessQuery adds the access filter for the query's account: items
// tagged visible to all or with one of the account's grants, that are
// published or authored by the account.
func (n *NodeAccess) PreprocessQuery(ctx context.Context, rc *processor.RunContext, q *query.Query) error {
	acct, err := n.account(ctx, rc, q.Account)
	if err != nil {
		return err
	}
	if acct.Bypass {
		return nil
	}

	access := query.NewConditionGroup(query.OR).Add(item.AccessField, AllToken)
	for _, g := range acct.Grants {
		access.Add(item.AccessField, g.Token())
	}
	q.AddFilter(access)

	published := query.NewConditionGroup(query.OR).Add(StatusField, true)
	if !acct.Anonymous() {
		published.Add(AuthorField, acct.ID)
	}
	q.AddFilter(published)
	return nil
}

func (n *NodeAccess) account(ctx context.Context, rc *processor.RunContext, raw string) (*content.Account, error) {
	if raw == "" {
		return n.anonymous(ctx, rc)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: account %q is not numeric", apperrors.ErrInvalidInput, raw)
	}
	if id == content.AnonymousID {
		return n.anonymous(ctx, rc)
	}
	acct, err := n.store.Account(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading account %d: %w", id, err)
	}
	return acct, nil
}
