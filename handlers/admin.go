package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"marketplace/catalog"
)

// handleAdminListProducts implements GET /admin/products
func (h *Handler) handleAdminListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.All(r.Context(), identity(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// handleAdminCreateProduct implements POST /admin/products
// Products created here belong to no seller.
func (h *Handler) handleAdminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if !h.decode(w, r, &in) {
		return
	}
	p, err := h.catalog.AdminCreate(r.Context(), identity(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("product created", "product_id", p.ID, "admin_id", identity(r).UserID)
	writeJSON(w, http.StatusCreated, p)
}

// handleAdminUpdateProduct implements PATCH /admin/products/{productId}
func (h *Handler) handleAdminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if !h.decode(w, r, &in) {
		return
	}
	p, err := h.catalog.AdminUpdate(r.Context(), identity(r), chi.URLParam(r, "productId"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleAdminDeleteProduct implements DELETE /admin/products/{productId}
func (h *Handler) handleAdminDeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	if err := h.catalog.AdminDelete(r.Context(), identity(r), productID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("product deleted", "product_id", productID, "admin_id", identity(r).UserID)
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminListOrders implements GET /admin/orders
func (h *Handler) handleAdminListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListAll(r.Context(), identity(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}
