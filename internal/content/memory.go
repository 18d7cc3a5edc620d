package content

import (
	"context"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
)

// MemoryStore keeps items, grants and accounts in memory. It backs tests and
// single-process deployments without PostgreSQL.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]*item.Item
	grants   map[string][]Grant
	accounts map[int64]*Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:    make(map[string]*item.Item),
		grants:   make(map[string][]Grant),
		accounts: map[int64]*Account{AnonymousID: {ID: AnonymousID}},
	}
}

func (s *MemoryStore) UpsertItem(_ context.Context, it *item.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = it.Clone()
	return nil
}

func (s *MemoryStore) DeleteItem(_ context.Context, _ string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	delete(s.grants, id)
	return nil
}

// SetGrants replaces the view grants of itemID. WildcardItem grants apply to
// every item.
func (s *MemoryStore) SetGrants(itemID string, grants ...Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[itemID] = append([]Grant(nil), grants...)
}

func (s *MemoryStore) SetAccount(acct *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *acct
	c.Grants = append([]Grant(nil), acct.Grants...)
	s.accounts[acct.ID] = &c
}

func (s *MemoryStore) LoadItems(_ context.Context, datasource string, ids []string) ([]*item.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*item.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok && (datasource == "" || it.Datasource == datasource) {
			out = append(out, it.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) AnonymousAccount(ctx context.Context) (*Account, error) {
	return s.Account(ctx, AnonymousID)
}

func (s *MemoryStore) Account(_ context.Context, id int64) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return &Account{ID: id}, nil
	}
	c := *acct
	c.Grants = append([]Grant(nil), acct.Grants...)
	return &c, nil
}

func (s *MemoryStore) CanView(ctx context.Context, acct *Account, itemID string) (bool, error) {
	grants, err := s.ViewGrants(ctx, itemID)
	if err != nil {
		return false, err
	}
	if acct.Bypass {
		return true, nil
	}
	return hasAny(grants, acct.Grants), nil
}

func (s *MemoryStore) ViewGrants(_ context.Context, itemID string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.items[itemID]; !ok {
		return nil, apperrors.ErrItemNotFound
	}
	out := append([]Grant(nil), s.grants[itemID]...)
	out = append(out, s.grants[WildcardItem]...)
	return out, nil
}
