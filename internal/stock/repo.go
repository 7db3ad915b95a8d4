package stock

import "context"

// Repository is the storage boundary for stock entries. Mutate must give fn
// exclusive ownership of the entry for the duration of the call (row lock,
// per-key mutex, or equivalent) so concurrent reservations cannot lose updates.
// fn returning an error discards the mutation.
type Repository interface {
	Get(ctx context.Context, key EntryKey) (Entry, error)
	Mutate(ctx context.Context, key EntryKey, fn func(*Entry) error) error
	List(ctx context.Context) ([]Entry, error)
	Stats(ctx context.Context, lowStockThreshold int) (Stats, error)
}
