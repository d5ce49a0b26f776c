// Package handlers exposes the marketplace core over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"marketplace/apperror"
	"marketplace/cart"
	"marketplace/catalog"
	"marketplace/checkout"
	"marketplace/models"
	"marketplace/order"
	"marketplace/review"
	"marketplace/storage"
)

// Identity headers are set by the gateway after authentication.
const (
	HeaderUserID  = "X-User-ID"
	HeaderIsAdmin = "X-User-Admin"
)

// ErrorResponse models the error schema returned by every endpoint.
type ErrorResponse struct {
	Error   string  `json:"error"`
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

// Handler exposes HTTP handlers for the marketplace services.
type Handler struct {
	store     storage.Store
	carts     *cart.Engine
	validator *checkout.Validator
	orders    *order.Committer
	reviews   *review.Gate
	catalog   *catalog.Service
	log       *slog.Logger
}

// Services groups the dependencies of a Handler.
type Services struct {
	Store     storage.Store
	Carts     *cart.Engine
	Validator *checkout.Validator
	Orders    *order.Committer
	Reviews   *review.Gate
	Catalog   *catalog.Service
}

// New creates a Handler over the provided services.
func New(s Services, log *slog.Logger) *Handler {
	return &Handler{
		store:     s.Store,
		carts:     s.Carts,
		validator: s.Validator,
		orders:    s.Orders,
		reviews:   s.Reviews,
		catalog:   s.Catalog,
		log:       log,
	}
}

// Routes builds the router with all marketplace endpoints.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(identify)

	r.Get("/health", h.handleHealth)
	r.Get("/products/{productId}", h.handleGetProduct)

	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)

		r.Post("/users", h.handleCreateUser)
		r.Get("/me", h.handleGetMe)
		r.Post("/me/addresses", h.handleAddAddress)

		r.Get("/cart", h.handleGetCart)
		r.Post("/cart/items", h.handleAddToCart)
		r.Post("/cart/merge", h.handleMergeCart)
		r.Put("/cart/items/{productId}", h.handleSetQuantity)
		r.Delete("/cart/items/{productId}", h.handleRemoveFromCart)

		r.Post("/checkout", h.handleCheckout)

		r.Post("/orders", h.handlePlaceOrder)
		r.Get("/orders", h.handleListOrders)
		r.Get("/orders/{orderId}", h.handleGetOrder)
		r.Patch("/orders/{orderId}/delivered", h.handleMarkDelivered)

		r.Post("/products/{productId}/reviews", h.handleCreateReview)

		r.Post("/seller/products", h.handleCreateProduct)
		r.Get("/seller/products", h.handleListSellerProducts)
		r.Patch("/seller/products/{productId}", h.handleUpdateProduct)
		r.Delete("/seller/products/{productId}", h.handleDeleteProduct)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/products", h.handleAdminListProducts)
			r.Post("/products", h.handleAdminCreateProduct)
			r.Patch("/products/{productId}", h.handleAdminUpdateProduct)
			r.Delete("/products/{productId}", h.handleAdminDeleteProduct)
			r.Get("/orders", h.handleAdminListOrders)
		})
	})

	return r
}

// handleHealth provides a health check endpoint for the load balancer.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

type identityKey struct{}

// identify reads the caller identity supplied by the gateway. It does not
// reject anonymous requests; requireUser does that for protected routes.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := models.Identity{UserID: r.Header.Get(HeaderUserID)}
		id.IsAdmin, _ = strconv.ParseBool(r.Header.Get(HeaderIsAdmin))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity(r).UserID == "" {
			h.writeError(w, r, apperror.New(apperror.Unauthorized, "authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identity(r *http.Request) models.Identity {
	id, _ := r.Context().Value(identityKey{}).(models.Identity)
	return id
}

// decode reads a JSON body. It writes a 400 response and returns false when
// the body is malformed.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   string(apperror.InvalidInput),
			Message: "Invalid JSON payload",
		})
		return false
	}
	return true
}

// writeError renders err using its failure kind. Server-side failures are
// logged with their cause, which is never sent to the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperror.From(err)
	status := e.Status()
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"kind", e.Kind,
			"error", err,
		)
	}

	resp := ErrorResponse{Error: string(e.Kind), Message: e.Message}
	if e.ProductID != "" {
		details := e.ProductID
		resp.Details = &details
	}
	writeJSON(w, status, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
