// Package services orchestrates storage, caching, and the pure core logic
// behind the client-facing operations.
package services

import (
	"context"
	"fmt"

	"ricevute/internal/cache"
	"ricevute/internal/core"
)

const taxonomyCacheKey = "taxonomy"

// CategoryReader is the storage port for the taxonomy.
type CategoryReader interface {
	ListCategories(ctx context.Context) ([]core.Category, error)
}

// CategoryService serves the read-mostly category taxonomy, cached per
// session TTL. The taxonomy only changes via migrations, so a stale read is
// harmless and a cached one is the common case.
type CategoryService struct {
	storage CategoryReader
	cache   *cache.LRU[[]core.Category]
}

func NewCategoryService(storage CategoryReader, lru *cache.LRU[[]core.Category]) *CategoryService {
	return &CategoryService{storage: storage, cache: lru}
}

func (s *CategoryService) Categories(ctx context.Context) ([]core.Category, error) {
	if s.cache != nil {
		if cats, ok := s.cache.Get(taxonomyCacheKey); ok {
			return cats, nil
		}
	}
	cats, err := s.storage.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	if s.cache != nil {
		s.cache.Set(taxonomyCacheKey, cats)
	}
	return cats, nil
}
