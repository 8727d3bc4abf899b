package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ilovespectra/solo-silo-sub000/internal/apperrors"
	"github.com/ilovespectra/solo-silo-sub000/internal/model"
	"github.com/ilovespectra/solo-silo-sub000/internal/observer"
	"github.com/ilovespectra/solo-silo-sub000/pkg/logger"
	"github.com/ilovespectra/solo-silo-sub000/pkg/utils"
)

// Supported store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	entityFeedbackItem = "feedback_item"
	connectMaxElapsed  = 10 * time.Second
)

// GormStore is a DurableStore backed by gorm. SQLite is the on-device default;
// postgres is supported for a shared host.
type GormStore struct {
	driver string
	dsn    string

	mu sync.Mutex
	db *gorm.DB
}

// NewGormStore validates the driver and returns an unopened store.
func NewGormStore(driver, dsn string) (*GormStore, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: unsupported store driver %q", apperrors.ErrBadRequest, driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%w: store dsn is required", apperrors.ErrBadRequest)
	}
	return &GormStore{driver: driver, dsn: dsn}, nil
}

// newGormStoreWithDB wraps an already opened connection.
func newGormStoreWithDB(db *gorm.DB) *GormStore {
	return &GormStore{driver: db.Dialector.Name(), db: db}
}

func (s *GormStore) dialector() (gorm.Dialector, error) {
	switch s.driver {
	case DriverPostgres:
		return postgres.Open(s.dsn), nil
	default:
		if dir := filepath.Dir(s.dsn); !strings.HasPrefix(s.dsn, "file:") && dir != "." && s.dsn != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
			}
		}
		return sqlite.Open(s.dsn), nil
	}
}

// Open connects and migrates the schema. Calling it again after success is a no-op.
func (s *GormStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	log := logger.FromContext(ctx).With(zap.String("driver", s.driver))
	startTime := utils.Now()

	dialector, err := s.dialector()
	if err != nil {
		observer.ObserveStoreOperationDuration("open", entityFeedbackItem, time.Since(startTime), err)
		return fmt.Errorf("%w: %w", apperrors.ErrStorageUnavailable, err)
	}

	connect := func() (*gorm.DB, error) {
		db, err := gorm.Open(dialector, &gorm.Config{
			TranslateError: true,
			Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			if isTransientError(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return db, nil
	}
	notify := func(err error, d time.Duration) {
		log.Warn("Retrying store connection", zap.Error(err), zap.Duration("after", d))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = connectMaxElapsed

	db, err := backoff.RetryNotifyWithData(connect, backoff.WithContext(b, ctx), notify)
	if err != nil {
		observer.ObserveStoreOperationDuration("open", entityFeedbackItem, time.Since(startTime), err)
		return fmt.Errorf("%w: failed to connect: %w", apperrors.ErrStorageUnavailable, err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&model.FeedbackItem{}, &model.AbandonedFeedback{}); err != nil {
		closeDB(db)
		observer.ObserveStoreOperationDuration("open", entityFeedbackItem, time.Since(startTime), err)
		return fmt.Errorf("%w: migration failed: %w", apperrors.ErrStorageUnavailable, err)
	}

	s.db = db
	observer.ObserveStoreOperationDuration("open", entityFeedbackItem, time.Since(startTime), nil)
	log.Info("Durable store opened")
	return nil
}

func (s *GormStore) conn() (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("%w: store is not open", apperrors.ErrStorageUnavailable)
	}
	return s.db, nil
}

// LoadAll returns all items ordered by insertion sequence.
func (s *GormStore) LoadAll(ctx context.Context) ([]model.FeedbackItem, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var items []model.FeedbackItem
	operation := func() error {
		items = nil
		result := db.WithContext(ctx).Order("seq asc, created_at asc").Find(&items)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	startTime := utils.Now()
	err = retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "LoadAll", operation)
	observer.ObserveStoreOperationDuration("load_all", entityFeedbackItem, time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to load feedback items", zap.Error(err))
		return nil, err
	}
	return items, nil
}

// Put inserts the item or replaces the stored copy with the same ID.
func (s *GormStore) Put(ctx context.Context, item model.FeedbackItem) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	operation := func() error {
		result := db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).
			Create(&item)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	startTime := utils.Now()
	err = retryableOperation(ctx, newRetryPolicy(ctx, writeRetryMaxElapsedTime), "Put", operation)
	observer.ObserveStoreOperationDuration("put", entityFeedbackItem, time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to put feedback item", zap.String("item_id", item.ID), zap.Error(err))
		return err
	}
	return nil
}

// Delete removes the item with the given ID.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	operation := func() error {
		result := db.WithContext(ctx).Where("id = ?", id).Delete(&model.FeedbackItem{})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	startTime := utils.Now()
	err = retryableOperation(ctx, newRetryPolicy(ctx, writeRetryMaxElapsedTime), "Delete", operation)
	observer.ObserveStoreOperationDuration("delete", entityFeedbackItem, time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to delete feedback item", zap.String("item_id", id), zap.Error(err))
		return err
	}
	return nil
}

// ClearWhere deletes every stored item matching predicate.
func (s *GormStore) ClearWhere(ctx context.Context, predicate func(model.FeedbackItem) bool) (int, error) {
	items, err := s.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0)
	for _, item := range items {
		if predicate(item) {
			ids = append(ids, item.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	var removed int64
	operation := func() error {
		result := db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.FeedbackItem{})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		removed = result.RowsAffected
		return nil
	}

	startTime := utils.Now()
	err = retryableOperation(ctx, newRetryPolicy(ctx, writeRetryMaxElapsedTime), "ClearWhere", operation)
	observer.ObserveStoreOperationDuration("clear_where", entityFeedbackItem, time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to clear feedback items", zap.Int("candidates", len(ids)), zap.Error(err))
		return 0, err
	}
	return int(removed), nil
}

// Close closes the database connection
func (s *GormStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}
	s.db = nil

	if closeErr := sqlDB.Close(); closeErr != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(closeErr))
		return fmt.Errorf("failed to close SQL DB: %w", closeErr)
	}

	logger.FromContext(ctx).Info("Database connection closed successfully")
	return nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}
