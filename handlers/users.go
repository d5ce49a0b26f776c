package handlers

import (
	"errors"
	"net/http"
	"strings"

	"marketplace/apperror"
	"marketplace/models"
	"marketplace/storage"
)

type createUserRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Image   string `json:"image,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

// handleCreateUser implements POST /users
// Accounts are provisioned by an admin once the identity provider has
// registered the user.
func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !identity(r).IsAdmin {
		h.writeError(w, r, apperror.New(apperror.Forbidden, "only admins can create users"))
		return
	}
	var req createUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeError(w, r, apperror.New(apperror.InvalidInput, "name is required"))
		return
	}

	u, err := h.store.CreateUser(r.Context(), models.User{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Image:   req.Image,
		IsAdmin: req.IsAdmin,
	})
	if err != nil {
		h.writeError(w, r, apperror.Internal(err))
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// handleGetMe implements GET /me
func (h *Handler) handleGetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.GetUser(r.Context(), identity(r).UserID)
	if err != nil {
		h.writeError(w, r, userError(err))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleAddAddress implements POST /me/addresses
func (h *Handler) handleAddAddress(w http.ResponseWriter, r *http.Request) {
	var a models.Address
	if !h.decode(w, r, &a) {
		return
	}
	a = models.Address{
		Address:    strings.TrimSpace(a.Address),
		City:       strings.TrimSpace(a.City),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
	if !a.Complete() {
		h.writeError(w, r, apperror.New(apperror.InvalidInput, "address, city, postal code and country are required"))
		return
	}

	u, err := h.store.AddAddress(r.Context(), identity(r).UserID, a)
	if err != nil {
		h.writeError(w, r, userError(err))
		return
	}
	writeJSON(w, http.StatusCreated, u.Addresses)
}

func userError(err error) error {
	if errors.Is(err, storage.ErrUserNotFound) {
		return apperror.Wrap(apperror.NotFound, "user not found", err)
	}
	return apperror.Internal(err)
}
