package storage

import (
	"context"

	"github.com/ilovespectra/solo-silo-sub000/internal/model"
)

// AbandonedRepoAdapter adapts the GormStore to the AbandonedRepo interface
type AbandonedRepoAdapter struct {
	store *GormStore
}

// NewAbandonedRepoAdapter creates a new abandoned-item repository adapter
func NewAbandonedRepoAdapter(store *GormStore) AbandonedRepo {
	return &AbandonedRepoAdapter{store: store}
}

// Save saves an abandoned item record
func (a *AbandonedRepoAdapter) Save(ctx context.Context, record model.AbandonedFeedback) error {
	return a.store.SaveAbandoned(ctx, record)
}

// Compile-time checks
var (
	_ DurableStore  = (*GormStore)(nil)
	_ DurableStore  = (*MemoryStore)(nil)
	_ AbandonedRepo = (*AbandonedRepoAdapter)(nil)
	_ AbandonedRepo = (*MemoryStore)(nil)
)
