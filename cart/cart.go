// Package cart keeps each user's cart: one line per product, quantities of
// at least one, and no lines for products that no longer exist.
package cart

import (
	"context"
	"errors"
	"fmt"

	"marketplace/apperror"
	"marketplace/locker"
	"marketplace/models"
	"marketplace/storage"
)

var errLineNotFound = errors.New("cart line not found")

// Engine edits carts. Every mutation holds the user's cart lock and is
// written through a single Store.UpdateCart call.
type Engine struct {
	store storage.Store
	locks locker.Locker
}

// NewEngine creates an Engine backed by the provided store. Cart edits for
// one user are serialised through locks.
func NewEngine(store storage.Store, locks locker.Locker) *Engine {
	return &Engine{store: store, locks: locks}
}

// Add puts quantity units of productID into the cart, coalescing with an
// existing line. A positive target caps the resulting line quantity, so a
// client that sends the total it wants instead of a delta cannot overshoot.
func (e *Engine) Add(ctx context.Context, userID, productID string, quantity, target int) ([]models.CartItem, error) {
	if quantity < 1 {
		return nil, apperror.New(apperror.InvalidInput, "quantity must be at least 1")
	}
	if target < 0 {
		return nil, apperror.New(apperror.InvalidInput, "target quantity cannot be negative")
	}
	if _, err := e.store.GetProduct(ctx, productID); err != nil {
		return nil, translate(err)
	}

	return e.mutate(ctx, userID, func(lines []models.CartLine) ([]models.CartLine, error) {
		i := models.IndexOf(lines, productID)
		if i < 0 {
			lines = append(lines, models.CartLine{ProductID: productID, Quantity: 0})
			i = len(lines) - 1
		}
		next := lines[i].Quantity + quantity
		if target > 0 && next > target {
			next = target
		}
		lines[i].Quantity = next
		return lines, nil
	})
}

// Merge folds lines collected before sign-in into the stored cart. Incoming
// quantities are deltas. Products that no longer exist are skipped and an
// empty merge writes nothing.
func (e *Engine) Merge(ctx context.Context, userID string, incoming []models.CartLine) ([]models.CartItem, error) {
	for _, l := range incoming {
		if l.ProductID == "" {
			return nil, apperror.New(apperror.InvalidInput, "product id is required")
		}
		if l.Quantity < 1 {
			return nil, apperror.New(apperror.InvalidInput, "quantity must be at least 1")
		}
	}

	deltas := coalesce(incoming)
	if len(deltas) == 0 {
		return e.Get(ctx, userID)
	}

	ids := make([]string, 0, len(deltas))
	for _, l := range deltas {
		ids = append(ids, l.ProductID)
	}
	live, err := e.store.GetProducts(ctx, ids)
	if err != nil {
		return nil, translate(err)
	}
	kept := deltas[:0]
	for _, l := range deltas {
		if _, ok := live[l.ProductID]; ok {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		return e.Get(ctx, userID)
	}

	return e.mutate(ctx, userID, func(lines []models.CartLine) ([]models.CartLine, error) {
		for _, d := range kept {
			if i := models.IndexOf(lines, d.ProductID); i >= 0 {
				lines[i].Quantity += d.Quantity
				continue
			}
			lines = append(lines, d)
		}
		return lines, nil
	})
}

// SetQuantity replaces the quantity of an existing line.
func (e *Engine) SetQuantity(ctx context.Context, userID, productID string, quantity int) ([]models.CartItem, error) {
	if quantity < 1 {
		return nil, apperror.New(apperror.InvalidInput, "quantity must be at least 1")
	}
	return e.mutate(ctx, userID, func(lines []models.CartLine) ([]models.CartLine, error) {
		i := models.IndexOf(lines, productID)
		if i < 0 {
			return nil, errLineNotFound
		}
		lines[i].Quantity = quantity
		return lines, nil
	})
}

// Remove drops the line for productID. Removing a product that is not in
// the cart is not an error.
func (e *Engine) Remove(ctx context.Context, userID, productID string) ([]models.CartItem, error) {
	return e.mutate(ctx, userID, func(lines []models.CartLine) ([]models.CartLine, error) {
		kept := lines[:0]
		for _, l := range lines {
			if l.ProductID != productID {
				kept = append(kept, l)
			}
		}
		return kept, nil
	})
}

// Get returns the cart with products resolved. Lines whose product has been
// deleted are dropped and the pruned cart is saved.
func (e *Engine) Get(ctx context.Context, userID string) ([]models.CartItem, error) {
	unlock, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	live, err := e.products(ctx, u.Cart)
	if err != nil {
		return nil, err
	}

	lines := u.Cart
	if len(live) < len(u.Cart) {
		lines, err = e.store.UpdateCart(ctx, userID, func(cur []models.CartLine) ([]models.CartLine, error) {
			kept := cur[:0]
			for _, l := range cur {
				if _, ok := live[l.ProductID]; ok {
					kept = append(kept, l)
				}
			}
			return kept, nil
		})
		if err != nil {
			return nil, translate(err)
		}
	}
	return resolve(lines, live), nil
}

func (e *Engine) mutate(ctx context.Context, userID string, fn storage.CartFunc) ([]models.CartItem, error) {
	unlock, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	lines, err := e.store.UpdateCart(ctx, userID, fn)
	if err != nil {
		return nil, translate(err)
	}
	live, err := e.products(ctx, lines)
	if err != nil {
		return nil, err
	}
	return resolve(lines, live), nil
}

func (e *Engine) lock(ctx context.Context, userID string) (func(), error) {
	unlock, err := e.locks.Lock(ctx, locker.CartKey(userID))
	if err != nil {
		return nil, apperror.Wrap(apperror.TransactionFailure, "cart is busy, please retry", err)
	}
	return unlock, nil
}

func (e *Engine) products(ctx context.Context, lines []models.CartLine) (map[string]models.Product, error) {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	live, err := e.store.GetProducts(ctx, ids)
	if err != nil {
		return nil, translate(err)
	}
	return live, nil
}

func resolve(lines []models.CartLine, live map[string]models.Product) []models.CartItem {
	items := make([]models.CartItem, 0, len(lines))
	for _, l := range lines {
		if p, ok := live[l.ProductID]; ok {
			items = append(items, models.CartItem{Product: p, Quantity: l.Quantity})
		}
	}
	return items
}

// coalesce sums duplicate lines, keeping first-seen order.
func coalesce(lines []models.CartLine) []models.CartLine {
	out := make([]models.CartLine, 0, len(lines))
	for _, l := range lines {
		if i := models.IndexOf(out, l.ProductID); i >= 0 {
			out[i].Quantity += l.Quantity
			continue
		}
		out = append(out, l)
	}
	return out
}

// Lines strips resolved items back to cart lines.
func Lines(items []models.CartItem) []models.CartLine {
	lines := make([]models.CartLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, models.CartLine{ProductID: it.Product.ID, Quantity: it.Quantity})
	}
	return lines
}

func translate(err error) error {
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		return apperror.Wrap(apperror.NotFound, "user not found", err)
	case errors.Is(err, storage.ErrProductNotFound):
		return apperror.Wrap(apperror.NotFound, "product not found", err)
	case errors.Is(err, errLineNotFound):
		return apperror.Wrap(apperror.NotFound, "product is not in the cart", err)
	default:
		return apperror.From(fmt.Errorf("cart: %w", err))
	}
}
