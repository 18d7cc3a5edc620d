// Package content is the item source: it loads field values by item id and
// answers access-control questions about items.
package content

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
)

// Grant is one (realm, grant id) pair that gives view access.
type Grant struct {
	Realm string `json:"realm"`
	GID   int64  `json:"gid"`
}

// Token formats the grant as stored in the access field.
func (g Grant) Token() string {
	return fmt.Sprintf("%s:%d", g.Realm, g.GID)
}

// AnonymousID is the account id of the default viewer.
const AnonymousID int64 = 0

// WildcardItem is the item id of grants that apply to every item.
const WildcardItem = "0"

// Account is a viewer with the grants it holds.
type Account struct {
	ID     int64   `json:"id"`
	Grants []Grant `json:"grants"`
	// Bypass skips access filtering entirely.
	Bypass bool `json:"bypass"`
}

func (a *Account) Anonymous() bool {
	return a.ID == AnonymousID
}

// Loader loads items by id. Ids that do not exist are left out of the
// result rather than reported as errors.
type Loader interface {
	LoadItems(ctx context.Context, datasource string, ids []string) ([]*item.Item, error)
}

// AccessStore resolves view permissions. CanView and ViewGrants return
// apperrors.ErrItemNotFound for unknown items.
type AccessStore interface {
	AnonymousAccount(ctx context.Context) (*Account, error)
	Account(ctx context.Context, id int64) (*Account, error)
	CanView(ctx context.Context, acct *Account, itemID string) (bool, error)
	ViewGrants(ctx context.Context, itemID string) ([]Grant, error)
}

// Writer stores items coming in through ingestion.
type Writer interface {
	UpsertItem(ctx context.Context, it *item.Item) error
	DeleteItem(ctx context.Context, datasource, id string) error
}

// Store is everything a content backend provides.
type Store interface {
	Loader
	AccessStore
	Writer
}

func hasAny(have []Grant, want []Grant) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
