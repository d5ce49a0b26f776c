// Package order turns a validated cart into a committed order.
package order

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"marketplace/apperror"
	"marketplace/checkout"
	"marketplace/events"
	"marketplace/locker"
	"marketplace/models"
	"marketplace/storage"
)

const publishTimeout = 5 * time.Second

// PlaceRequest is everything the buyer submits at checkout. The items come
// from the buyer's stored cart; shipping and tax are decided upstream.
type PlaceRequest struct {
	UserID          string
	ShippingAddress models.Address
	Payment         models.Payment
	ShippingPrice   decimal.Decimal
	TaxPrice        decimal.Decimal
}

// Committer places orders and manages their lifecycle.
type Committer struct {
	store     storage.Store
	locks     locker.Locker
	validator *checkout.Validator
	publisher events.Publisher
	log       *slog.Logger
	now       func() time.Time
}

// NewCommitter returns a Committer that serialises placement with cart edits
// through locks and reports committed orders to publisher.
func NewCommitter(store storage.Store, locks locker.Locker, publisher events.Publisher, log *slog.Logger) *Committer {
	return &Committer{
		store:     store,
		locks:     locks,
		validator: checkout.NewValidator(store),
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Place orders the buyer's current cart. The cart is read, checked against
// stock and committed while the cart lock is held, so an edit either lands
// before the read and is ordered, or waits and survives in the emptied cart.
// A product that runs out after the check fails the commit with
// InsufficientStock naming it, and nothing changes.
func (c *Committer) Place(ctx context.Context, req PlaceRequest) (models.Order, error) {
	if err := validate(req); err != nil {
		return models.Order{}, err
	}

	unlock, err := c.locks.Lock(ctx, locker.CartKey(req.UserID))
	if err != nil {
		return models.Order{}, apperror.Wrap(apperror.TransactionFailure, "order could not be placed, please retry", err)
	}
	defer unlock()

	u, err := c.store.GetUser(ctx, req.UserID)
	if err != nil {
		return models.Order{}, translate(err)
	}
	q, err := c.validator.Validate(ctx, u.Cart)
	if err != nil {
		return models.Order{}, err
	}

	o, err := c.store.PlaceOrder(ctx, models.Order{
		UserID:          req.UserID,
		Items:           q.OrderLines(),
		ShippingAddress: req.ShippingAddress,
		Payment:         req.Payment,
		Price:           q.Breakdown(req.ShippingPrice, req.TaxPrice),
		CreatedAt:       c.now(),
	})
	if err != nil {
		return models.Order{}, translatePlace(err)
	}

	c.publish(ctx, o)
	return o, nil
}

// publish reports the order downstream. The order is already committed, so
// a failure here is only logged.
func (c *Committer) publish(ctx context.Context, o models.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := c.publisher.Publish(ctx, events.FromOrder(o)); err != nil {
		c.log.Error("failed to publish order event", "order_id", o.ID, "error", err)
		return
	}
	c.log.Debug("order event published", "order_id", o.ID)
}

// ListForUser returns the user's orders, oldest first.
func (c *Committer) ListForUser(ctx context.Context, userID string) ([]models.Order, error) {
	orders, err := c.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	return orders, nil
}

// ListAll returns every order, oldest first. Admins only.
func (c *Committer) ListAll(ctx context.Context, who models.Identity) ([]models.Order, error) {
	if !who.IsAdmin {
		return nil, apperror.New(apperror.Forbidden, "only admins can list all orders")
	}
	orders, err := c.store.ListOrders(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return orders, nil
}

// Get returns the order if the caller placed it or is an admin.
func (c *Committer) Get(ctx context.Context, who models.Identity, orderID string) (models.Order, error) {
	o, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, translate(err)
	}
	if o.UserID != who.UserID && !who.IsAdmin {
		return models.Order{}, apperror.New(apperror.Forbidden, "not allowed to view this order")
	}
	return o, nil
}

// MarkDelivered records delivery. Admins only; each order is delivered once.
func (c *Committer) MarkDelivered(ctx context.Context, who models.Identity, orderID string) (models.Order, error) {
	if !who.IsAdmin {
		return models.Order{}, apperror.New(apperror.Forbidden, "only admins can mark orders delivered")
	}
	o, err := c.store.MarkDelivered(ctx, orderID, c.now())
	if err != nil {
		return models.Order{}, translate(err)
	}
	return o, nil
}

func validate(req PlaceRequest) error {
	if req.UserID == "" {
		return apperror.New(apperror.Unauthorized, "sign in to place an order")
	}
	if !req.ShippingAddress.Complete() {
		return apperror.New(apperror.InvalidInput, "shipping address is incomplete")
	}
	if req.Payment.ID == "" {
		return apperror.New(apperror.InvalidInput, "payment confirmation is missing")
	}
	if req.ShippingPrice.IsNegative() || req.TaxPrice.IsNegative() {
		return apperror.New(apperror.InvalidInput, "shipping and tax cannot be negative")
	}
	return nil
}

func translatePlace(err error) error {
	var stock *storage.InsufficientStockError
	if errors.As(err, &stock) {
		e := apperror.Stock(apperror.InsufficientStock, stock.ProductID)
		e.Err = err
		return e
	}
	switch {
	case errors.Is(err, storage.ErrUserNotFound), errors.Is(err, storage.ErrProductNotFound):
		return translate(err)
	default:
		return apperror.Wrap(apperror.TransactionFailure, "order could not be placed, please retry", err)
	}
}

func translate(err error) error {
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		return apperror.Wrap(apperror.NotFound, "user not found", err)
	case errors.Is(err, storage.ErrProductNotFound):
		return apperror.Wrap(apperror.NotFound, "product not found", err)
	case errors.Is(err, storage.ErrOrderNotFound):
		return apperror.Wrap(apperror.NotFound, "order not found", err)
	case errors.Is(err, storage.ErrAlreadyDelivered):
		return apperror.Wrap(apperror.Conflict, "order already delivered", err)
	default:
		return apperror.From(err)
	}
}
