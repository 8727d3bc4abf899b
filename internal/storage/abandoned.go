package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ilovespectra/solo-silo-sub000/internal/model"
	"github.com/ilovespectra/solo-silo-sub000/internal/observer"
	"github.com/ilovespectra/solo-silo-sub000/pkg/logger"
	"github.com/ilovespectra/solo-silo-sub000/pkg/utils"
)

const entityAbandonedFeedback = "abandoned_feedbacks"

// SaveAbandoned records an abandoned item in the abandoned_feedbacks table.
func (s *GormStore) SaveAbandoned(ctx context.Context, record model.AbandonedFeedback) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	operation := func() error {
		result := db.WithContext(ctx).Create(&record)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	startTime := utils.Now()
	err = retryableOperation(ctx, newRetryPolicy(ctx, writeRetryMaxElapsedTime), "SaveAbandoned", operation)
	observer.ObserveStoreOperationDuration("save", entityAbandonedFeedback, time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to save abandoned feedback after retries",
			zap.String("item_id", record.ItemID),
			zap.String("action", string(record.Action)),
			zap.Error(err))
		return err
	}

	logger.FromContext(ctx).Info("Saved abandoned feedback", zap.Uint("record_id", record.ID), zap.String("item_id", record.ItemID))
	return nil
}

// ListAbandoned returns the abandoned records, oldest first.
func (s *GormStore) ListAbandoned(ctx context.Context) ([]model.AbandonedFeedback, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var records []model.AbandonedFeedback
	operation := func() error {
		records = nil
		result := db.WithContext(ctx).Order("id asc").Find(&records)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	startTime := utils.Now()
	err = retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ListAbandoned", operation)
	observer.ObserveStoreOperationDuration("list", entityAbandonedFeedback, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return records, nil
}
