package stock

import (
	"errors"
	"fmt"
)

var (
	ErrStockEntryNotFound   = errors.New("stock entry not found")
	ErrRestockLimitExceeded = errors.New("restock limit exceeded")
	ErrInsufficientStock    = errors.New("insufficient stock")
)

// InsufficientStockError carries the line detail callers report back to the
// storefront (which item failed, how short the stock was).
type InsufficientStockError struct {
	Key       EntryKey
	Required  int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: required=%d available=%d", e.Key, e.Required, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
