// Package checkout checks a cart against live stock before payment. It never
// writes and reserves nothing: stock is enforced again when the order is
// committed.
package checkout

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"marketplace/apperror"
	"marketplace/models"
	"marketplace/storage"
)

// Quote is a validated cart with its subtotal.
type Quote struct {
	Items    []models.CartItem `json:"items"`
	Subtotal decimal.Decimal   `json:"subtotal"`
}

// Breakdown combines the subtotal with caller-supplied shipping and tax.
func (q Quote) Breakdown(shipping, tax decimal.Decimal) models.PriceBreakdown {
	return models.PriceBreakdown{
		Items:    q.Subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    q.Subtotal.Add(shipping).Add(tax),
	}
}

// OrderLines returns the order lines for the quoted items. Snapshot fields
// are filled in by the store at commit time.
func (q Quote) OrderLines() []models.OrderLine {
	lines := make([]models.OrderLine, 0, len(q.Items))
	for _, it := range q.Items {
		lines = append(lines, models.OrderLine{ProductID: it.Product.ID, Quantity: it.Quantity})
	}
	return lines
}

// Validator checks cart lines against current stock.
type Validator struct {
	store storage.Store
}

// NewValidator creates a Validator reading stock from store.
func NewValidator(store storage.Store) *Validator {
	return &Validator{store: store}
}

// Validate fails with OutOfStock, naming the product, for the first line
// whose product has no stock or less stock than requested.
func (v *Validator) Validate(ctx context.Context, lines []models.CartLine) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, apperror.New(apperror.InvalidInput, "cart is empty")
	}

	ids := make([]string, 0, len(lines))
	want := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 {
			return Quote{}, apperror.New(apperror.InvalidInput, "quantity must be at least 1")
		}
		if _, seen := want[l.ProductID]; !seen {
			ids = append(ids, l.ProductID)
		}
		want[l.ProductID] += l.Quantity
	}

	live, err := v.store.GetProducts(ctx, ids)
	if err != nil {
		return Quote{}, apperror.Internal(fmt.Errorf("checkout: load products: %w", err))
	}

	q := Quote{Items: make([]models.CartItem, 0, len(ids)), Subtotal: decimal.Zero}
	for _, id := range ids {
		p, ok := live[id]
		if !ok {
			e := apperror.New(apperror.NotFound, "product not found")
			e.ProductID = id
			return Quote{}, e
		}
		if p.Quantity == 0 || want[id] > p.Quantity {
			return Quote{}, apperror.Stock(apperror.OutOfStock, id)
		}
		q.Items = append(q.Items, models.CartItem{Product: p, Quantity: want[id]})
		q.Subtotal = q.Subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(want[id]))))
	}
	return q, nil
}
