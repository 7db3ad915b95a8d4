package stock

import "time"

// EntryKey identifies one stock-keeping row: a product in a given portion size.
type EntryKey struct {
	ProductID     string
	PortionSizeID string
}

func (k EntryKey) String() string { return k.ProductID + "/" + k.PortionSizeID }

type Entry struct {
	Key               EntryKey
	CurrentStock      int
	ReservedStock     int
	WeeklyLimit       int // <= 0 means uncapped
	RestockedThisWeek int
	WeekStart         time.Time
	LastRestocked     time.Time
}

// Available is what new reservations can still claim.
func (e *Entry) Available() int { return e.CurrentStock - e.ReservedStock }

type Stats struct {
	Entries       int `json:"entries"`
	TotalStock    int `json:"total_stock"`
	TotalReserved int `json:"total_reserved"`
	LowStock      int `json:"low_stock"`
	OutOfStock    int `json:"out_of_stock"`
}
