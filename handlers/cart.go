package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"marketplace/models"
)

// CartResponse is the resolved cart with its running subtotal.
type CartResponse struct {
	Items    []models.CartItem `json:"items"`
	Subtotal decimal.Decimal   `json:"subtotal"`
}

type addToCartRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	// Target caps the line quantity when set.
	Target int `json:"target,omitempty"`
}

type mergeCartRequest struct {
	Items []models.CartLine `json:"items"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func cartResponse(items []models.CartItem) CartResponse {
	sub := decimal.Zero
	for _, it := range items {
		sub = sub.Add(it.Product.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return CartResponse{Items: items, Subtotal: sub}
}

// handleGetCart implements GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	items, err := h.carts.Get(r.Context(), identity(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse(items))
}

// handleAddToCart implements POST /cart/items
func (h *Handler) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req addToCartRequest
	if !h.decode(w, r, &req) {
		return
	}
	items, err := h.carts.Add(r.Context(), identity(r).UserID, req.ProductID, req.Quantity, req.Target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse(items))
}

// handleMergeCart implements POST /cart/merge
func (h *Handler) handleMergeCart(w http.ResponseWriter, r *http.Request) {
	var req mergeCartRequest
	if !h.decode(w, r, &req) {
		return
	}
	items, err := h.carts.Merge(r.Context(), identity(r).UserID, req.Items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse(items))
}

// handleSetQuantity implements PUT /cart/items/{productId}
func (h *Handler) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	items, err := h.carts.SetQuantity(r.Context(), identity(r).UserID, chi.URLParam(r, "productId"), req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse(items))
}

// handleRemoveFromCart implements DELETE /cart/items/{productId}
func (h *Handler) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	items, err := h.carts.Remove(r.Context(), identity(r).UserID, chi.URLParam(r, "productId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse(items))
}
