package stock

import (
	"context"
	"sync"
)

// MemRepository keeps entries in a map with a per-entry mutex, so Mutate gives
// callers the same exclusive-ownership guarantee the Postgres repository gets
// from row locks. Used by tests and local runs without a database.
type MemRepository struct {
	mu      sync.RWMutex
	entries map[EntryKey]*memEntry
}

type memEntry struct {
	mu sync.Mutex
	e  Entry
}

func NewMemRepository() *MemRepository {
	return &MemRepository{entries: make(map[EntryKey]*memEntry)}
}

// Put creates or overwrites an entry. Provisioning-time operation; not part of
// the Repository interface.
func (r *MemRepository) Put(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Key] = &memEntry{e: e}
}

func (r *MemRepository) get(key EntryKey) (*memEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	me, ok := r.entries[key]
	return me, ok
}

func (r *MemRepository) Get(ctx context.Context, key EntryKey) (Entry, error) {
	me, ok := r.get(key)
	if !ok {
		return Entry{}, ErrStockEntryNotFound
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.e, nil
}

func (r *MemRepository) Mutate(ctx context.Context, key EntryKey, fn func(*Entry) error) error {
	me, ok := r.get(key)
	if !ok {
		return ErrStockEntryNotFound
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	next := me.e
	if err := fn(&next); err != nil {
		return err
	}
	me.e = next
	return nil
}

func (r *MemRepository) List(ctx context.Context) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, me := range r.entries {
		me.mu.Lock()
		out = append(out, me.e)
		me.mu.Unlock()
	}
	return out, nil
}

func (r *MemRepository) Stats(ctx context.Context, lowStockThreshold int) (Stats, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, e := range entries {
		s.Entries++
		s.TotalStock += e.CurrentStock
		s.TotalReserved += e.ReservedStock
		switch avail := e.Available(); {
		case avail == 0:
			s.OutOfStock++
		case avail <= lowStockThreshold:
			s.LowStock++
		}
	}
	return s, nil
}
