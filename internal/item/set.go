package item

import "slices"

// Set is the ordered working set of an index pass. Processors remove items
// they do not want indexed; removed items are invisible to later processors.
type Set struct {
	order []string
	items map[string]*Item
}

// NewSet builds a set preserving the order of items. Later duplicates
// replace earlier ones in place.
func NewSet(items ...*Item) *Set {
	s := &Set{items: make(map[string]*Item, len(items))}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add appends it, or replaces the item with the same id keeping its position.
func (s *Set) Add(it *Item) {
	if _, ok := s.items[it.ID]; !ok {
		s.order = append(s.order, it.ID)
	}
	s.items[it.ID] = it
}

// Get returns the item with id, or nil.
func (s *Set) Get(id string) *Item {
	return s.items[id]
}

// Remove drops id from the set. It is safe to call from inside Each.
func (s *Set) Remove(id string) {
	if _, ok := s.items[id]; !ok {
		return
	}
	delete(s.items, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(slices.Clone(s.order), i, i+1)
	}
}

// Len returns the number of items still in the set.
func (s *Set) Len() int {
	return len(s.items)
}

// IDs returns the remaining ids in insertion order.
func (s *Set) IDs() []string {
	return slices.Clone(s.order)
}

// Items returns the remaining items in insertion order.
func (s *Set) Items() []*Item {
	out := make([]*Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

// Each calls fn for every remaining item in insertion order. Items removed
// during iteration, including by fn itself, are not visited afterwards.
func (s *Set) Each(fn func(*Item)) {
	for _, id := range s.order {
		if it, ok := s.items[id]; ok {
			fn(it)
		}
	}
}
