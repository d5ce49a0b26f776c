// Package catalog lets sellers manage the products they own and admins
// manage every product. A product and its entry in the seller's product list
// are always written together.
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"marketplace/apperror"
	"marketplace/models"
	"marketplace/storage"
)

// ProductInput is the seller-editable part of a product.
type ProductInput struct {
	Title       string          `json:"title"`
	Brand       string          `json:"brand"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Images      []string        `json:"images"`
	Quantity    int             `json:"quantity"`
}

// ImageCleaner removes image files in the background.
type ImageCleaner interface {
	Schedule(refs []string)
}

// Service applies product writes on behalf of sellers and admins.
type Service struct {
	store   storage.Store
	cleaner ImageCleaner
}

// NewService returns a Service that hands the images of deleted products to
// cleaner.
func NewService(store storage.Store, cleaner ImageCleaner) *Service {
	return &Service{store: store, cleaner: cleaner}
}

// Get returns a single product.
func (s *Service) Get(ctx context.Context, productID string) (models.Product, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return models.Product{}, translate(err)
	}
	return p, nil
}

// Create lists a new product owned by sellerID.
func (s *Service) Create(ctx context.Context, sellerID string, in ProductInput) (models.Product, error) {
	if sellerID == "" {
		return models.Product{}, apperror.New(apperror.Unauthorized, "sign in to sell products")
	}
	return s.create(ctx, sellerID, in)
}

// AdminCreate lists a product that belongs to no seller.
func (s *Service) AdminCreate(ctx context.Context, who models.Identity, in ProductInput) (models.Product, error) {
	if err := requireAdmin(who); err != nil {
		return models.Product{}, err
	}
	return s.create(ctx, "", in)
}

func (s *Service) create(ctx context.Context, sellerID string, in ProductInput) (models.Product, error) {
	if err := validateInput(in, true); err != nil {
		return models.Product{}, err
	}

	p, err := s.store.CreateProduct(ctx, models.Product{
		Title:       strings.TrimSpace(in.Title),
		Brand:       strings.TrimSpace(in.Brand),
		Price:       in.Price,
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Images:      in.Images,
		Quantity:    in.Quantity,
		SellerID:    sellerID,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.Product{}, apperror.Wrap(apperror.NotFound, "seller not found", err)
		}
		return models.Product{}, translate(err)
	}
	return p, nil
}

// Update edits the seller's product. Images are kept as they are.
func (s *Service) Update(ctx context.Context, sellerID, productID string, in ProductInput) (models.Product, error) {
	if sellerID == "" {
		return models.Product{}, apperror.New(apperror.Unauthorized, "sign in to sell products")
	}
	return s.update(ctx, sellerID, productID, in)
}

// AdminUpdate edits any product, whoever sells it.
func (s *Service) AdminUpdate(ctx context.Context, who models.Identity, productID string, in ProductInput) (models.Product, error) {
	if err := requireAdmin(who); err != nil {
		return models.Product{}, err
	}
	return s.update(ctx, "", productID, in)
}

// update applies in to the product. An empty sellerID skips the ownership
// check.
func (s *Service) update(ctx context.Context, sellerID, productID string, in ProductInput) (models.Product, error) {
	if err := validateInput(in, false); err != nil {
		return models.Product{}, err
	}

	p, err := s.store.UpdateProduct(ctx, productID, sellerID, func(p *models.Product) error {
		p.Title = strings.TrimSpace(in.Title)
		p.Brand = strings.TrimSpace(in.Brand)
		p.Price = in.Price
		p.Description = strings.TrimSpace(in.Description)
		p.Category = strings.TrimSpace(in.Category)
		p.Quantity = in.Quantity
		return nil
	})
	if err != nil {
		return models.Product{}, translate(err)
	}
	return p, nil
}

// Delete removes the seller's product, then schedules removal of its images.
// Image removal never fails the request.
func (s *Service) Delete(ctx context.Context, sellerID, productID string) error {
	if sellerID == "" {
		return apperror.New(apperror.Unauthorized, "sign in to sell products")
	}
	return s.delete(ctx, sellerID, productID)
}

// AdminDelete removes any product along with its seller's reference to it.
func (s *Service) AdminDelete(ctx context.Context, who models.Identity, productID string) error {
	if err := requireAdmin(who); err != nil {
		return err
	}
	return s.delete(ctx, "", productID)
}

func (s *Service) delete(ctx context.Context, sellerID, productID string) error {
	p, err := s.store.DeleteProduct(ctx, productID, sellerID)
	if err != nil {
		return translate(err)
	}
	s.cleaner.Schedule(p.Images)
	return nil
}

// List returns the seller's products in the order they were listed.
func (s *Service) List(ctx context.Context, sellerID string) ([]models.Product, error) {
	products, err := s.store.ListSellerProducts(ctx, sellerID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, apperror.Wrap(apperror.NotFound, "seller not found", err)
		}
		return nil, translate(err)
	}
	return products, nil
}

// All returns every product. Admins only.
func (s *Service) All(ctx context.Context, who models.Identity) ([]models.Product, error) {
	if err := requireAdmin(who); err != nil {
		return nil, err
	}
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return products, nil
}

func requireAdmin(who models.Identity) error {
	if !who.IsAdmin {
		return apperror.New(apperror.Forbidden, "admin access required")
	}
	return nil
}

func validateInput(in ProductInput, requireImages bool) error {
	invalid := func(msg string) error { return apperror.New(apperror.InvalidInput, msg) }

	if strings.TrimSpace(in.Title) == "" {
		return invalid("title is required")
	}
	if len(in.Title) > 200 {
		return invalid("title must be 200 characters or fewer")
	}
	if strings.TrimSpace(in.Brand) == "" {
		return invalid("brand is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return invalid("description is required")
	}
	if strings.TrimSpace(in.Category) == "" {
		return invalid("category is required")
	}
	if !in.Price.IsPositive() {
		return invalid("price must be greater than 0")
	}
	if !in.Price.Equal(in.Price.Round(2)) {
		return invalid("price cannot have more than 2 decimal places")
	}
	if in.Quantity < 0 {
		return invalid("quantity must be non-negative")
	}
	if requireImages {
		if len(in.Images) == 0 {
			return invalid("at least one image is required")
		}
		for _, img := range in.Images {
			if strings.TrimSpace(img) == "" {
				return invalid("image references cannot be empty")
			}
		}
	}
	return nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, storage.ErrProductNotFound):
		return apperror.Wrap(apperror.NotFound, "product not found", err)
	case errors.Is(err, storage.ErrNotOwner):
		return apperror.Wrap(apperror.Forbidden, "product belongs to another seller", err)
	case errors.Is(err, storage.ErrNegativeStock):
		return apperror.Wrap(apperror.InvalidInput, "quantity must be non-negative", err)
	default:
		return apperror.Wrap(apperror.TransactionFailure, "product could not be saved, please retry", err)
	}
}
