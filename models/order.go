package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a placed order. Items are copied from the products at commit
// time and are never updated afterwards.
type Order struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Items           []OrderLine    `json:"items"`
	ShippingAddress Address        `json:"shipping_address"`
	Payment         Payment        `json:"payment"`
	Price           PriceBreakdown `json:"price"`
	IsDelivered     bool           `json:"is_delivered"`
	DeliveredAt     *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// OrderLine is the snapshot of one ordered product.
type OrderLine struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image"`
	Quantity  int             `json:"quantity"`
}

// Payment is the confirmation handed over by the payment provider.
type Payment struct {
	ID           string `json:"id"`
	Method       string `json:"method"`
	Status       string `json:"status"`
	EmailAddress string `json:"email_address"`
}

// PriceBreakdown holds the computed order amounts.
type PriceBreakdown struct {
	Items    decimal.Decimal `json:"items"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Clone returns a deep copy of the order.
func (o Order) Clone() Order {
	o.Items = slices.Clone(o.Items)
	if o.DeliveredAt != nil {
		at := *o.DeliveredAt
		o.DeliveredAt = &at
	}
	return o
}
