package products

import (
	"context"
	"fmt"
	"strings"
)

// Service applies product master rules over the Repository.
type Service struct {
	repo Repository
}

// NewService constructs the Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Product, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, fmt.Errorf("%w: invalid product id", ErrValidation)
	}
	return s.repo.Get(ctx, id)
}

// Create registers a product. New products start active; SKUs are
// normalized to upper case before the uniqueness check.
func (s *Service) Create(ctx context.Context, product Product) (Product, error) {
	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	product.Name = strings.TrimSpace(product.Name)
	if err := s.validate(product); err != nil {
		return Product{}, err
	}
	product.Active = true
	return s.repo.Create(ctx, product)
}

func (s *Service) Update(ctx context.Context, id int64, product Product) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid product id", ErrValidation)
	}
	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	product.Name = strings.TrimSpace(product.Name)
	if err := s.validate(product); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, product)
}

// Deactivate hides the product from the active universe scanned by
// reconciliation. Existing stock rows keep their history.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid product id", ErrValidation)
	}
	return s.repo.SetActive(ctx, id, false)
}

func (s *Service) Activate(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid product id", ErrValidation)
	}
	return s.repo.SetActive(ctx, id, true)
}

// ListActiveIDs returns the ids reconciliation scans iterate.
func (s *Service) ListActiveIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListActiveIDs(ctx)
}
