package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketplace/models"
)

// MemoryStore is an in-memory implementation of Store.
// It is safe for concurrent use via internal RWMutex. Multi-record writes
// validate everything before applying anything, so a failed call leaves no
// trace.
type MemoryStore struct {
	mu sync.RWMutex

	users    map[string]models.User
	products map[string]models.Product
	orders   map[string]models.Order

	// placement order, oldest first
	orderIDs []string

	// order-by-user indexes
	ordersByUser map[string][]string
	purchased    map[string]map[string]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates and returns a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]models.User),
		products:     make(map[string]models.Product),
		orders:       make(map[string]models.Order),
		ordersByUser: make(map[string][]string),
		purchased:    make(map[string]map[string]struct{}),
	}
}

// CreateUser stores a new user. An empty ID is generated.
func (s *MemoryStore) CreateUser(_ context.Context, u models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u = u.Clone()
	s.users[u.ID] = u
	return u.Clone(), nil
}

// GetUser returns the user with the specified ID.
func (s *MemoryStore) GetUser(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return u.Clone(), nil
}

// AddAddress appends a to the user's address book.
func (s *MemoryStore) AddAddress(_ context.Context, userID string, a models.Address) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	u = u.Clone()
	u.Addresses = append(u.Addresses, a)
	s.users[userID] = u
	return u.Clone(), nil
}

// GetProduct retrieves a product by its ID.
func (s *MemoryStore) GetProduct(_ context.Context, id string) (models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return models.Product{}, ErrProductNotFound
	}
	return p.Clone(), nil
}

// GetProducts returns every existing product among ids.
func (s *MemoryStore) GetProducts(_ context.Context, ids []string) (map[string]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p.Clone()
		}
	}
	return out, nil
}

// UpdateCart runs fn against a copy of the cart and stores its result.
func (s *MemoryStore) UpdateCart(_ context.Context, userID string, fn CartFunc) ([]models.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}

	next, err := fn(models.CloneLines(u.Cart))
	if err != nil {
		return nil, err
	}

	u = u.Clone()
	u.Cart = models.CloneLines(next)
	s.users[userID] = u
	return models.CloneLines(u.Cart), nil
}

// PlaceOrder commits the order, clears the cart and decrements stock.
func (s *MemoryStore) PlaceOrder(_ context.Context, o models.Order) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[o.UserID]
	if !ok {
		return models.Order{}, ErrUserNotFound
	}

	want, ids := requestedByProduct(o.Items)

	// Validate every line before touching anything.
	for _, id := range ids {
		p, ok := s.products[id]
		if !ok {
			return models.Order{}, ErrProductNotFound
		}
		if p.Quantity < want[id] {
			return models.Order{}, &InsufficientStockError{ProductID: id, Requested: want[id], Available: p.Quantity}
		}
	}

	o = o.Clone()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	for i, it := range o.Items {
		p := s.products[it.ProductID]
		o.Items[i].Title = p.Title
		o.Items[i].Price = p.Price
		o.Items[i].Image = p.FirstImage()
	}
	priceFromSnapshots(&o)

	for _, id := range ids {
		p := s.products[id].Clone()
		p.Quantity -= want[id]
		s.products[id] = p
	}

	u = u.Clone()
	u.Cart = []models.CartLine{}
	s.users[u.ID] = u

	s.orders[o.ID] = o
	s.orderIDs = append(s.orderIDs, o.ID)
	s.ordersByUser[o.UserID] = append(s.ordersByUser[o.UserID], o.ID)
	set, ok := s.purchased[o.UserID]
	if !ok {
		set = make(map[string]struct{})
		s.purchased[o.UserID] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return o.Clone(), nil
}

// GetOrder returns the order with the specified ID.
func (s *MemoryStore) GetOrder(_ context.Context, id string) (models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, ErrOrderNotFound
	}
	return o.Clone(), nil
}

// ListOrdersByUser returns the user's orders in placement order.
func (s *MemoryStore) ListOrdersByUser(_ context.Context, userID string) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	ids := s.ordersByUser[userID]
	out := make([]models.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.orders[id].Clone())
	}
	return out, nil
}

// ListOrders returns every order in placement order.
func (s *MemoryStore) ListOrders(_ context.Context) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Order, 0, len(s.orderIDs))
	for _, id := range s.orderIDs {
		out = append(out, s.orders[id].Clone())
	}
	return out, nil
}

// HasOrdered looks the pair up in the purchase index.
func (s *MemoryStore) HasOrdered(_ context.Context, userID, productID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.purchased[userID][productID]
	return ok, nil
}

// MarkDelivered sets the delivered flag and timestamp.
func (s *MemoryStore) MarkDelivered(_ context.Context, orderID string, at time.Time) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return models.Order{}, ErrOrderNotFound
	}
	if o.IsDelivered {
		return models.Order{}, ErrAlreadyDelivered
	}
	o = o.Clone()
	o.IsDelivered = true
	o.DeliveredAt = &at
	s.orders[orderID] = o
	return o.Clone(), nil
}

// AddReview appends the review and refreshes the product rating.
func (s *MemoryStore) AddReview(_ context.Context, productID string, r models.Review) (models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return models.Product{}, ErrProductNotFound
	}
	if _, dup := p.ReviewBy(r.UserID); dup {
		return models.Product{}, ErrDuplicateReview
	}
	p = p.Clone()
	p.Reviews = append(p.Reviews, r)
	p.RecomputeRating()
	s.products[productID] = p
	return p.Clone(), nil
}

// CreateProduct stores p and links it to its seller.
func (s *MemoryStore) CreateProduct(_ context.Context, p models.Product) (models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Quantity < 0 {
		return models.Product{}, ErrNegativeStock
	}

	var seller models.User
	if p.SellerID != "" {
		u, ok := s.users[p.SellerID]
		if !ok {
			return models.Product{}, ErrUserNotFound
		}
		seller = u.Clone()
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p = p.Clone()
	if p.Reviews == nil {
		p.Reviews = []models.Review{}
	}
	p.RecomputeRating()

	s.products[p.ID] = p
	if p.SellerID != "" {
		seller.Products = append(seller.Products, p.ID)
		s.users[seller.ID] = seller
	}
	return p.Clone(), nil
}

// UpdateProduct applies fn to a copy of the product and stores the result.
// ID, owner and reviews are not editable through fn.
func (s *MemoryStore) UpdateProduct(_ context.Context, id, sellerID string, fn ProductFunc) (models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.products[id]
	if !ok {
		return models.Product{}, ErrProductNotFound
	}
	if sellerID != "" && cur.SellerID != sellerID {
		return models.Product{}, ErrNotOwner
	}

	next := cur.Clone()
	if err := fn(&next); err != nil {
		return models.Product{}, err
	}
	if next.Quantity < 0 {
		return models.Product{}, ErrNegativeStock
	}
	next.ID = cur.ID
	next.SellerID = cur.SellerID
	next.Reviews = cur.Clone().Reviews
	next.Rating = cur.Rating

	s.products[id] = next
	return next.Clone(), nil
}

// DeleteProduct removes the product and its entry in the seller's list.
func (s *MemoryStore) DeleteProduct(_ context.Context, id, sellerID string) (models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return models.Product{}, ErrProductNotFound
	}
	if sellerID != "" && p.SellerID != sellerID {
		return models.Product{}, ErrNotOwner
	}

	delete(s.products, id)
	if seller, ok := s.users[p.SellerID]; ok {
		seller = seller.Clone()
		kept := seller.Products[:0]
		for _, pid := range seller.Products {
			if pid != id {
				kept = append(kept, pid)
			}
		}
		seller.Products = kept
		s.users[seller.ID] = seller
	}
	return p.Clone(), nil
}

// ListProducts returns every product ordered by title, then ID.
func (s *MemoryStore) ListProducts(_ context.Context) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b models.Product) int {
		return cmp.Or(cmp.Compare(a.Title, b.Title), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// ListSellerProducts returns the seller's products in listing order.
func (s *MemoryStore) ListSellerProducts(_ context.Context, sellerID string) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[sellerID]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := make([]models.Product, 0, len(u.Products))
	for _, id := range u.Products {
		if p, ok := s.products[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}
