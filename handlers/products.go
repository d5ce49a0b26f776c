package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"marketplace/catalog"
)

type createReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// handleGetProduct implements GET /products/{productId}
func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Get(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleCreateReview implements POST /products/{productId}/reviews
func (h *Handler) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var req createReviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.reviews.Create(r.Context(), identity(r).UserID, chi.URLParam(r, "productId"), req.Rating, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleCreateProduct implements POST /seller/products
func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if !h.decode(w, r, &in) {
		return
	}
	p, err := h.catalog.Create(r.Context(), identity(r).UserID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("product created", "product_id", p.ID, "seller_id", p.SellerID)
	writeJSON(w, http.StatusCreated, p)
}

// handleListSellerProducts implements GET /seller/products
func (h *Handler) handleListSellerProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.List(r.Context(), identity(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// handleUpdateProduct implements PATCH /seller/products/{productId}
func (h *Handler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if !h.decode(w, r, &in) {
		return
	}
	p, err := h.catalog.Update(r.Context(), identity(r).UserID, chi.URLParam(r, "productId"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleDeleteProduct implements DELETE /seller/products/{productId}
func (h *Handler) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	if err := h.catalog.Delete(r.Context(), identity(r).UserID, productID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("product deleted", "product_id", productID)
	w.WriteHeader(http.StatusNoContent)
}
