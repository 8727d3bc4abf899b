package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/ilovespectra/solo-silo-sub000/internal/apperrors"
	"github.com/ilovespectra/solo-silo-sub000/internal/model"
)

// MemoryStore keeps items in process memory, in insertion order.
// Data survives Close, so a closed and reopened store behaves like a restarted device.
type MemoryStore struct {
	mu        sync.Mutex
	opened    bool
	openErr   error
	writeErr  error
	items     []model.FeedbackItem
	abandoned []model.AbandonedFeedback
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithOpenError makes every Open fail, as on a platform that denies persistent storage.
func WithOpenError(err error) MemoryOption {
	return func(s *MemoryStore) { s.openErr = err }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetWriteError makes Put, Delete and ClearWhere fail with err until cleared with nil.
func (s *MemoryStore) SetWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *MemoryStore) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStorageUnavailable, s.openErr)
	}
	s.opened = true
	return nil
}

func (s *MemoryStore) checkOpen() error {
	if !s.opened {
		return fmt.Errorf("%w: store is not open", apperrors.ErrStorageUnavailable)
	}
	return nil
}

func (s *MemoryStore) LoadAll(_ context.Context) ([]model.FeedbackItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]model.FeedbackItem, len(s.items))
	for i, item := range s.items {
		out[i] = item.Clone()
	}
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, item model.FeedbackItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.writeErr != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, s.writeErr)
	}
	for i := range s.items {
		if s.items[i].ID == item.ID {
			s.items[i] = item.Clone()
			return nil
		}
	}
	s.items = append(s.items, item.Clone())
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.writeErr != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, s.writeErr)
	}
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) ClearWhere(_ context.Context, predicate func(model.FeedbackItem) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if s.writeErr != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrDatabase, s.writeErr)
	}
	kept := s.items[:0]
	removed := 0
	for _, item := range s.items {
		if predicate(item) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	return removed, nil
}

func (s *MemoryStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

// Save records an abandoned item.
func (s *MemoryStore) Save(_ context.Context, record model.AbandonedFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.ID = uint(len(s.abandoned) + 1)
	s.abandoned = append(s.abandoned, record)
	return nil
}

// Abandoned returns the saved abandoned-item records.
func (s *MemoryStore) Abandoned() []model.AbandonedFeedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AbandonedFeedback, len(s.abandoned))
	copy(out, s.abandoned)
	return out
}
