// Package review accepts product reviews from users who have ordered the
// product.
package review

import (
	"context"
	"errors"
	"strings"
	"time"

	"marketplace/apperror"
	"marketplace/models"
	"marketplace/storage"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Gate decides whether a user may review a product and records the review.
type Gate struct {
	store storage.Store
	now   func() time.Time
}

// NewGate creates a Gate backed by the provided store.
func NewGate(store storage.Store) *Gate {
	return &Gate{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Create adds the user's review and returns the product with its updated
// rating. The user must have ordered the product and may review it once.
func (g *Gate) Create(ctx context.Context, userID, productID string, rating int, comment string) (models.Product, error) {
	u, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return models.Product{}, translate(err)
	}

	ordered, err := g.store.HasOrdered(ctx, userID, productID)
	if err != nil {
		return models.Product{}, translate(err)
	}
	if !ordered {
		return models.Product{}, apperror.New(apperror.Forbidden, "only customers who ordered this product can review it")
	}

	p, err := g.store.GetProduct(ctx, productID)
	if err != nil {
		return models.Product{}, translate(err)
	}
	if _, dup := p.ReviewBy(userID); dup {
		return models.Product{}, apperror.New(apperror.Conflict, "product already reviewed")
	}

	if rating < MinRating || rating > MaxRating {
		return models.Product{}, apperror.New(apperror.InvalidInput, "rating must be between 1 and 5")
	}

	p, err = g.store.AddReview(ctx, productID, models.Review{
		UserID:    userID,
		Name:      u.Name,
		Rating:    rating,
		Comment:   strings.TrimSpace(comment),
		CreatedAt: g.now(),
	})
	if err != nil {
		return models.Product{}, translate(err)
	}
	return p, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		return apperror.Wrap(apperror.NotFound, "user not found", err)
	case errors.Is(err, storage.ErrProductNotFound):
		return apperror.Wrap(apperror.NotFound, "product not found", err)
	case errors.Is(err, storage.ErrDuplicateReview):
		return apperror.Wrap(apperror.Conflict, "product already reviewed", err)
	default:
		return apperror.From(err)
	}
}
