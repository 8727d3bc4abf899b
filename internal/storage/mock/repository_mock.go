package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ilovespectra/solo-silo-sub000/internal/model"
)

// --- DurableStore Mock ---

// DurableStoreMock mocks the DurableStore interface
type DurableStoreMock struct {
	mock.Mock
}

// Open mocks the Open method
func (m *DurableStoreMock) Open(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// LoadAll mocks the LoadAll method
func (m *DurableStoreMock) LoadAll(ctx context.Context) ([]model.FeedbackItem, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FeedbackItem), args.Error(1)
}

// Put mocks the Put method
func (m *DurableStoreMock) Put(ctx context.Context, item model.FeedbackItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

// Delete mocks the Delete method
func (m *DurableStoreMock) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// ClearWhere mocks the ClearWhere method
func (m *DurableStoreMock) ClearWhere(ctx context.Context, predicate func(model.FeedbackItem) bool) (int, error) {
	args := m.Called(ctx, predicate)
	return args.Int(0), args.Error(1)
}

// Close mocks the Close method
func (m *DurableStoreMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- AbandonedRepo Mock ---

// AbandonedRepoMock mocks the AbandonedRepo interface
type AbandonedRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *AbandonedRepoMock) Save(ctx context.Context, record model.AbandonedFeedback) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}
