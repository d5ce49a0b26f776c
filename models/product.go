package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product listed on the marketplace.
type Product struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Brand       string          `json:"brand"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Images      []string        `json:"images"`
	Quantity    int             `json:"quantity"`
	Reviews     []Review        `json:"reviews"`
	Rating      float64         `json:"rating"`
	SellerID    string          `json:"seller_id,omitempty"`
}

// Review is a single rating left by a user who ordered the product.
type Review struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecomputeRating sets Rating to the arithmetic mean of all review ratings,
// or 0 when the product has no reviews.
func (p *Product) RecomputeRating() {
	if len(p.Reviews) == 0 {
		p.Rating = 0
		return
	}
	sum := 0
	for _, r := range p.Reviews {
		sum += r.Rating
	}
	p.Rating = float64(sum) / float64(len(p.Reviews))
}

// ReviewBy returns the review left by userID, if any.
func (p *Product) ReviewBy(userID string) (Review, bool) {
	for _, r := range p.Reviews {
		if r.UserID == userID {
			return r, true
		}
	}
	return Review{}, false
}

// FirstImage returns the cover image reference, or "" when there is none.
func (p *Product) FirstImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Clone returns a deep copy so callers can't alias stored slices.
func (p Product) Clone() Product {
	p.Images = slices.Clone(p.Images)
	p.Reviews = slices.Clone(p.Reviews)
	return p
}
