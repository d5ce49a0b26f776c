package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"marketplace/models"
)

var (
	// ErrUserNotFound is returned when a user record does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrProductNotFound is returned when a product record does not exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound is returned when an order record does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotOwner is returned when a seller touches a product they don't own.
	ErrNotOwner = errors.New("product is owned by another seller")
	// ErrDuplicateReview is returned when the user already reviewed the product.
	ErrDuplicateReview = errors.New("product already reviewed by user")
	// ErrAlreadyDelivered is returned when an order is marked delivered twice.
	ErrAlreadyDelivered = errors.New("order already delivered")
	// ErrNegativeStock is returned when a write would leave stock below zero.
	ErrNegativeStock = errors.New("stock quantity cannot be negative")
)

// InsufficientStockError reports the first product whose stock could not
// cover an order.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// CartFunc receives the current cart lines and returns the lines to store.
// Returning an error aborts the update and leaves the cart untouched.
type CartFunc func(lines []models.CartLine) ([]models.CartLine, error)

// ProductFunc edits a product in place. Returning an error aborts the update.
type ProductFunc func(p *models.Product) error

// Store defines the operations the marketplace core needs from its storage.
// Every method that touches more than one record is atomic: either all of
// its writes are visible or none are.
type Store interface {
	// CreateUser inserts a user and returns it with its generated ID.
	CreateUser(ctx context.Context, u models.User) (models.User, error)

	// GetUser returns ErrUserNotFound if missing.
	GetUser(ctx context.Context, id string) (models.User, error)

	// AddAddress appends a shipping address to the user.
	AddAddress(ctx context.Context, userID string, a models.Address) (models.User, error)

	// GetProduct returns ErrProductNotFound if missing.
	GetProduct(ctx context.Context, id string) (models.Product, error)

	// GetProducts returns the products that exist among ids, keyed by ID.
	// Missing IDs are simply absent from the result.
	GetProducts(ctx context.Context, ids []string) (map[string]models.Product, error)

	// UpdateCart applies fn to the user's cart as one read-modify-write unit.
	UpdateCart(ctx context.Context, userID string, fn CartFunc) ([]models.CartLine, error)

	// PlaceOrder creates the order with line snapshots taken from the live
	// products, empties the user's cart and decrements stock for every line.
	// The items subtotal and total are recomputed from those snapshots.
	// It returns *InsufficientStockError and changes nothing if any line
	// cannot be covered.
	PlaceOrder(ctx context.Context, o models.Order) (models.Order, error)

	// GetOrder returns ErrOrderNotFound if missing.
	GetOrder(ctx context.Context, id string) (models.Order, error)

	// ListOrdersByUser returns the user's orders, oldest first.
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)

	// ListOrders returns every order, oldest first.
	ListOrders(ctx context.Context) ([]models.Order, error)

	// HasOrdered reports whether any order of userID contains productID.
	HasOrdered(ctx context.Context, userID, productID string) (bool, error)

	// MarkDelivered flips the delivered flag once.
	MarkDelivered(ctx context.Context, orderID string, at time.Time) (models.Order, error)

	// AddReview appends r and recomputes the aggregate rating. It returns
	// ErrDuplicateReview if r.UserID already reviewed the product.
	AddReview(ctx context.Context, productID string, r models.Review) (models.Product, error)

	// CreateProduct inserts p and, when p.SellerID is set, appends it to the
	// seller's product list in the same transaction.
	CreateProduct(ctx context.Context, p models.Product) (models.Product, error)

	// UpdateProduct applies fn to the product. A non-empty sellerID must match
	// the product's owner.
	UpdateProduct(ctx context.Context, id, sellerID string, fn ProductFunc) (models.Product, error)

	// DeleteProduct removes the product and the seller's reference to it in
	// the same transaction. A non-empty sellerID must match the owner.
	DeleteProduct(ctx context.Context, id, sellerID string) (models.Product, error)

	// ListProducts returns every product ordered by title, then ID.
	ListProducts(ctx context.Context) ([]models.Product, error)

	// ListSellerProducts resolves the seller's owned product list.
	ListSellerProducts(ctx context.Context, sellerID string) ([]models.Product, error)
}

// requestedByProduct sums line quantities per product and returns the
// product IDs in ascending order, the order in which stock is locked.
func requestedByProduct(items []models.OrderLine) (map[string]int, []string) {
	want := make(map[string]int, len(items))
	for _, it := range items {
		want[it.ProductID] += it.Quantity
	}
	ids := make([]string, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return want, ids
}

// priceFromSnapshots sets the items subtotal and total from the line
// snapshots, keeping the caller's shipping and tax.
func priceFromSnapshots(o *models.Order) {
	items := decimal.Zero
	for _, it := range o.Items {
		items = items.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	o.Price.Items = items
	o.Price.Total = items.Add(o.Price.Shipping).Add(o.Price.Tax)
}
