package sku

import (
	"context"
)

// Service handles SKU master data logic.
type Service struct {
	repo Repository
}

// NewService builds Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns SKUs matching the filters plus the total match count.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]SKU, int, error) {
	return s.repo.List(ctx, filters)
}

// Get fetches one SKU.
func (s *Service) Get(ctx context.Context, id int64) (SKU, error) {
	if id <= 0 {
		return SKU{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Create registers a new SKU.
func (s *Service) Create(ctx context.Context, item SKU) (SKU, error) {
	if err := validate(item); err != nil {
		return SKU{}, err
	}
	return s.repo.Create(ctx, item)
}

// Update changes SKU master fields. The cached stock is out of reach here.
func (s *Service) Update(ctx context.Context, id int64, item SKU) error {
	if id <= 0 {
		return ErrNotFound
	}
	if err := validate(item); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, item)
}
