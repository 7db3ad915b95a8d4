package reservation

import (
	"context"
	"sync"
)

// MemStore is the in-memory Store used by tests and database-free runs.
type MemStore struct {
	mu   sync.Mutex
	recs map[string][]record // keyed by order id
}

type record struct {
	line   Line
	status string
}

func NewMemStore() *MemStore {
	return &MemStore{recs: make(map[string][]record)}
}

func (s *MemStore) Record(ctx context.Context, orderID string, lines []Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.recs[orderID]
next:
	for _, ln := range lines {
		for _, r := range existing {
			if r.line.Key == ln.Key {
				continue next // same conflict-do-nothing semantics as the DB store
			}
		}
		existing = append(existing, record{line: ln, status: StatusReserved})
	}
	s.recs[orderID] = existing
	return nil
}

func (s *MemStore) MarkReleased(ctx context.Context, orderID string) ([]Line, error) {
	return s.mark(orderID, StatusReleased)
}

func (s *MemStore) MarkCommitted(ctx context.Context, orderID string) ([]Line, error) {
	return s.mark(orderID, StatusCommitted)
}

// mark claims RESERVED lines under the lock, same arbitration as the DB
// store's conditional UPDATE.
func (s *MemStore) mark(orderID, to string) ([]Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.recs[orderID]
	var out []Line
	for i := range recs {
		if recs[i].status == StatusReserved {
			recs[i].status = to
			out = append(out, recs[i].line)
		}
	}
	return out, nil
}
