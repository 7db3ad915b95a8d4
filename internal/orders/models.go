package orders

import "time"

type Product struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	AgeGroup  string    `json:"age_group"`
	Texture   string    `json:"texture"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PortionSize struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	UnitGrams int    `json:"unit_grams"`
}

type Order struct {
	ID           string    `json:"id"`
	ExternalID   string    `json:"external_id"`
	CustomerID   string    `json:"customer_id"`
	AddressID    string    `json:"address_id"`
	Status       Status    `json:"status"`
	CancelReason string    `json:"cancel_reason,omitempty"`
	TotalCents   int       `json:"total_cents"`
	PaymentDueAt time.Time `json:"payment_due_at"`
	DeliveryDate time.Time `json:"delivery_date"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Items        []Item    `json:"items,omitempty"`
}

// Item snapshots the unit price at order time; it is never recalculated from
// the live price table.
type Item struct {
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	PortionSizeID string `json:"portion_size_id"`
	Qty           int    `json:"qty"`
	PriceCents    int    `json:"price_cents"`
}
