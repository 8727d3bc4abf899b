package storage

import (
	"context"

	"github.com/ilovespectra/solo-silo-sub000/internal/model"
)

// DurableStore persists pending feedback items across restarts.
type DurableStore interface {
	// Open is idempotent. It creates the storage if absent and fails with
	// apperrors.ErrStorageUnavailable when persistent storage is denied.
	Open(ctx context.Context) error
	// LoadAll returns every stored item in insertion order.
	LoadAll(ctx context.Context) ([]model.FeedbackItem, error)
	// Put upserts by item ID.
	Put(ctx context.Context, item model.FeedbackItem) error
	// Delete removes the item. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id string) error
	// ClearWhere removes every item matching predicate and returns how many were removed.
	ClearWhere(ctx context.Context, predicate func(model.FeedbackItem) bool) (int, error)
	Close(ctx context.Context) error
}

// AbandonedRepo keeps a record of items dropped after exhausting retries.
type AbandonedRepo interface {
	Save(ctx context.Context, record model.AbandonedFeedback) error
}
