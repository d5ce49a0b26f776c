package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"marketplace/apperror"
	"marketplace/cart"
	"marketplace/checkout"
	"marketplace/models"
	"marketplace/order"
)

type checkoutRequest struct {
	ShippingPrice decimal.Decimal `json:"shipping_price"`
	TaxPrice      decimal.Decimal `json:"tax_price"`
}

// CheckoutResponse is the validated cart with the price the buyer will pay.
type CheckoutResponse struct {
	Items []models.CartItem     `json:"items"`
	Price models.PriceBreakdown `json:"price"`
}

type placeOrderRequest struct {
	ShippingAddress models.Address  `json:"shipping_address"`
	Payment         models.Payment  `json:"payment"`
	ShippingPrice   decimal.Decimal `json:"shipping_price"`
	TaxPrice        decimal.Decimal `json:"tax_price"`
}

func (h *Handler) quote(r *http.Request, shipping, tax decimal.Decimal) (checkout.Quote, models.PriceBreakdown, error) {
	if shipping.IsNegative() || tax.IsNegative() {
		return checkout.Quote{}, models.PriceBreakdown{}, apperror.New(apperror.InvalidInput, "shipping and tax cannot be negative")
	}
	items, err := h.carts.Get(r.Context(), identity(r).UserID)
	if err != nil {
		return checkout.Quote{}, models.PriceBreakdown{}, err
	}
	q, err := h.validator.Validate(r.Context(), cart.Lines(items))
	if err != nil {
		return checkout.Quote{}, models.PriceBreakdown{}, err
	}
	return q, q.Breakdown(shipping, tax), nil
}

// handleCheckout implements POST /checkout
// Checks the cart against live stock before the buyer is sent to payment.
func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	q, price, err := h.quote(r, req.ShippingPrice, req.TaxPrice)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckoutResponse{Items: q.Items, Price: price})
}

// handlePlaceOrder implements POST /orders
// The order is built from the caller's current cart once payment has been
// confirmed. The cart is read and checked again inside the commit.
func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	o, err := h.orders.Place(r.Context(), order.PlaceRequest{
		UserID:          identity(r).UserID,
		ShippingAddress: req.ShippingAddress,
		Payment:         req.Payment,
		ShippingPrice:   req.ShippingPrice,
		TaxPrice:        req.TaxPrice,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Info("order placed", "order_id", o.ID, "user_id", o.UserID, "lines", len(o.Items))
	writeJSON(w, http.StatusCreated, o)
}

// handleListOrders implements GET /orders
func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListForUser(r.Context(), identity(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// handleGetOrder implements GET /orders/{orderId}
func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), identity(r), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handleMarkDelivered implements PATCH /orders/{orderId}/delivered
func (h *Handler) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.MarkDelivered(r.Context(), identity(r), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
