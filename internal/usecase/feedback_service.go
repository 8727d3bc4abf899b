package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ilovespectra/solo-silo-sub000/internal/apperrors"
	"github.com/ilovespectra/solo-silo-sub000/internal/connectivity"
	"github.com/ilovespectra/solo-silo-sub000/internal/delivery"
	"github.com/ilovespectra/solo-silo-sub000/internal/model"
	"github.com/ilovespectra/solo-silo-sub000/internal/notify"
	"github.com/ilovespectra/solo-silo-sub000/internal/queue"
	"github.com/ilovespectra/solo-silo-sub000/internal/storage"
	"github.com/ilovespectra/solo-silo-sub000/internal/syncengine"
	"github.com/ilovespectra/solo-silo-sub000/pkg/logger"
)

// FeedbackAPI is the surface the UI layer talks to.
type FeedbackAPI interface {
	Add(ctx context.Context, req model.AddRequest) (model.FeedbackItem, error)
	GetQueue() []model.FeedbackItem
	GetPendingCount() int
	GetSyncStatus() model.SyncStatus
	GetLastError() string
	Subscribe(cb notify.Callback)
	Unsubscribe()
	TrySync() bool
	SetOnline(online bool)
	IsOnline() bool
	MemoryOnly() bool
}

// Ensure FeedbackService implements FeedbackAPI at compile time.
var _ FeedbackAPI = (*FeedbackService)(nil)

// ServiceOptions carries the queue and engine tuning.
type ServiceOptions struct {
	Queue  queue.Options
	Engine syncengine.Options
}

// FeedbackService wires the queue, the sync engine, the connectivity monitor
// and the observer channel together.
type FeedbackService struct {
	queue   *queue.Queue
	engine  *syncengine.Engine
	monitor *connectivity.Monitor
	channel *notify.Channel
	log     *zap.Logger
}

// NewFeedbackService creates the service. Call Init before use.
func NewFeedbackService(
	store storage.DurableStore,
	deliverer delivery.Deliverer,
	monitor *connectivity.Monitor,
	opts ServiceOptions,
) (*FeedbackService, error) {
	channel := notify.NewChannel(nil)
	q := queue.New(store, channel, opts.Queue)

	engine, err := syncengine.New(q, deliverer, monitor, channel, opts.Engine)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync engine: %w", err)
	}

	s := &FeedbackService{
		queue:   q,
		engine:  engine,
		monitor: monitor,
		channel: channel,
		log:     logger.Log.Named("feedback_service"),
	}
	channel.SetState(s.state)
	q.SetTrigger(s.trigger)
	monitor.OnReconnect(s.trigger)
	return s, nil
}

func (s *FeedbackService) state() notify.State {
	return notify.State{
		Items:     s.queue.Items(),
		Status:    s.engine.Status(),
		LastError: s.engine.LastError(),
	}
}

func (s *FeedbackService) trigger() {
	s.engine.TrySync()
}

// Init loads pending feedback and, when online, starts draining it.
func (s *FeedbackService) Init(ctx context.Context) {
	s.queue.Init(ctx)
	s.log.Info("Feedback service initialized",
		zap.Int("pending", s.queue.Size()),
		zap.Bool("memory_only", s.queue.MemoryOnly()),
		zap.Bool("online", s.monitor.IsOnline()))
	s.trigger()
}

// Add queues one feedback action.
func (s *FeedbackService) Add(ctx context.Context, req model.AddRequest) (model.FeedbackItem, error) {
	return s.queue.Add(ctx, req)
}

func (s *FeedbackService) GetQueue() []model.FeedbackItem { return s.queue.Items() }

func (s *FeedbackService) GetPendingCount() int { return s.queue.Size() }

func (s *FeedbackService) GetSyncStatus() model.SyncStatus { return s.engine.Status() }

func (s *FeedbackService) GetLastError() string { return s.engine.LastError() }

// Subscribe replaces the active observer callback.
func (s *FeedbackService) Subscribe(cb notify.Callback) { s.channel.Subscribe(cb) }

func (s *FeedbackService) Unsubscribe() { s.channel.Unsubscribe() }

// TrySync is the manual retry trigger.
func (s *FeedbackService) TrySync() bool { return s.engine.TrySync() }

// SetOnline feeds the platform connectivity signal. Reconnecting triggers a sync.
func (s *FeedbackService) SetOnline(online bool) { s.monitor.SetOnline(online) }

func (s *FeedbackService) IsOnline() bool { return s.monitor.IsOnline() }

// MemoryOnly reports whether feedback is being kept in memory only this session.
func (s *FeedbackService) MemoryOnly() bool { return s.queue.MemoryOnly() }

// StorageState summarizes the durable store for readiness checks: "durable",
// "unavailable" when the store was denied, or "degraded" for any other failure.
func (s *FeedbackService) StorageState() string {
	if !s.queue.MemoryOnly() {
		return "durable"
	}
	if apperrors.IsStorageUnavailable(s.queue.StoreError()) {
		return "unavailable"
	}
	return "degraded"
}

// Wait blocks until the running sync session, if any, ends.
func (s *FeedbackService) Wait() { s.engine.Wait() }

// Close stops the engine after its running session and closes the store.
func (s *FeedbackService) Close(ctx context.Context) error {
	s.engine.Stop()
	s.channel.Unsubscribe()
	if err := s.queue.Close(ctx); err != nil {
		return fmt.Errorf("failed to close feedback store: %w", err)
	}
	return nil
}
