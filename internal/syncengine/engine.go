package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/ilovespectra/solo-silo-sub000/internal/apperrors"
	"github.com/ilovespectra/solo-silo-sub000/internal/delivery"
	"github.com/ilovespectra/solo-silo-sub000/internal/model"
	"github.com/ilovespectra/solo-silo-sub000/internal/notify"
	"github.com/ilovespectra/solo-silo-sub000/internal/observer"
	"github.com/ilovespectra/solo-silo-sub000/internal/storage"
	"github.com/ilovespectra/solo-silo-sub000/pkg/logger"
	"github.com/ilovespectra/solo-silo-sub000/pkg/utils"
)

const (
	DefaultMaxRetries     = 3
	defaultAttemptTimeout = 8 * time.Second

	// One worker runs the session; the second takes a trigger that lands
	// while the previous worker is still returning.
	poolSize = 2
)

// WorkQueue is the part of the queue the engine drains.
type WorkQueue interface {
	PeekHead() (model.FeedbackItem, bool)
	RemoveHead(ctx context.Context, id string) bool
	RecordFailure(ctx context.Context, id string) (model.FeedbackItem, bool)
	Abandon(ctx context.Context, id, lastErr string) (model.FeedbackItem, bool)
	Size() int
}

// OnlineChecker reports the current connectivity state.
type OnlineChecker interface {
	IsOnline() bool
}

// Options tunes the engine. Zero values take defaults.
type Options struct {
	MaxRetries       int
	AttemptTimeout   time.Duration
	FailFastOnReject bool
	AutoRetry        bool
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	// Abandoned, when set, receives a copy of every item dropped after exhausting retries.
	Abandoned storage.AbandonedRepo
}

// Engine drains the queue head-first, one session at a time.
type Engine struct {
	queue     WorkQueue
	deliverer delivery.Deliverer
	online    OnlineChecker
	notifier  notify.Notifier
	opts      Options
	log       *zap.Logger
	pool      *ants.Pool

	mu   sync.Mutex
	idle *sync.Cond
	// running holds a worker for the session until its last event is out.
	// syncing is what Status reports and drops before sync_finished.
	running             bool
	syncing             bool
	stopped             bool
	lastError           string
	consecutiveFailures int
	retryDelay          *backoff.ExponentialBackOff
	retryTimer          *time.Timer
}

// New creates an engine backed by a small ants pool.
func New(queue WorkQueue, deliverer delivery.Deliverer, online OnlineChecker, notifier notify.Notifier, opts Options) (*Engine, error) {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}

	log := logger.Log.Named("sync_engine")
	pool, err := ants.NewPool(poolSize,
		ants.WithLogger(newAntsLoggerAdapter(log.Named("ants_pool"))),
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(err interface{}) {
			log.Error("Sync worker panic caught", zap.Any("error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	e := &Engine{
		queue:     queue,
		deliverer: deliverer,
		online:    online,
		notifier:  notifier,
		opts:      opts,
		log:       log,
		pool:      pool,
	}
	e.idle = sync.NewCond(&e.mu)
	if opts.AutoRetry {
		e.retryDelay = newRetryDelay(opts.RetryBaseDelay, opts.RetryMaxDelay)
	}
	return e, nil
}

func newRetryDelay(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if base > 0 {
		b.InitialInterval = base
	}
	if max > 0 {
		b.MaxInterval = max
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// TrySync starts a session if none is running, the device is online and
// the queue has work. It never blocks on delivery and reports whether a
// session was started.
func (e *Engine) TrySync() bool {
	e.mu.Lock()
	switch {
	case e.stopped:
		e.mu.Unlock()
		observer.IncSyncTriggerIgnored("stopped")
		return false
	case e.running:
		e.mu.Unlock()
		observer.IncSyncTriggerIgnored("syncing")
		return false
	case !e.online.IsOnline():
		e.mu.Unlock()
		observer.IncSyncTriggerIgnored("offline")
		return false
	case e.queue.Size() == 0:
		e.mu.Unlock()
		observer.IncSyncTriggerIgnored("empty")
		return false
	}
	e.running = true
	e.syncing = true
	e.cancelRetryLocked()
	e.mu.Unlock()

	if err := e.pool.Submit(e.runSession); err != nil {
		e.log.Error("Failed to submit sync session to ants pool", zap.Error(err))
		e.mu.Lock()
		e.running = false
		e.syncing = false
		e.idle.Broadcast()
		e.mu.Unlock()
		return false
	}
	return true
}

// Wait blocks until no session is running and its events are published.
func (e *Engine) Wait() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.running {
		e.idle.Wait()
	}
}

// Status reports syncing while a session runs, error while the most recent
// outcome was an abandoned item, idle otherwise.
func (e *Engine) Status() model.SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.syncing:
		return model.SyncStatusSyncing
	case e.lastError != "":
		return model.SyncStatusError
	}
	return model.SyncStatusIdle
}

// LastError returns the error text of the most recently abandoned item,
// cleared by the next successful delivery.
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

// ConsecutiveFailures counts failed attempts since the last success.
func (e *Engine) ConsecutiveFailures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutiveFailures
}

// Stop cancels any scheduled retry, waits for the running session and releases the pool.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.cancelRetryLocked()
	for e.running {
		e.idle.Wait()
	}
	e.mu.Unlock()

	e.pool.Release()
	e.log.Info("Sync engine stopped")
}

// runSession publishes sync_started and sync_finished around each pass.
// The worker stays marked running until sync_finished is out, so events of
// back-to-back sessions never interleave.
func (e *Engine) runSession() {
	ctx := logger.WithLogger(context.Background(), e.log)

	done := false
	defer func() {
		if !done {
			e.clearSyncing()
			e.notify(ctx, notify.EventSyncFinished, nil)
			e.endSession(ctx, false)
		}
	}()
	defer utils.RecoverWithLog(ctx, "sync session")

	for {
		observer.IncSyncSessions()
		e.log.Debug("Sync session started", zap.Int("pending", e.queue.Size()))
		e.notify(ctx, notify.EventSyncStarted, nil)

		failed := e.drain(ctx)
		e.clearSyncing()
		e.notify(ctx, notify.EventSyncFinished, nil)

		if failed {
			done = true
			e.endSession(ctx, true)
			return
		}
		if e.finishUnlessMoreWork() {
			done = true
			return
		}
		// Work arrived while sync_finished was being published.
	}
}

// drain delivers head items until the queue is empty, the device goes
// offline or the engine stops. It returns true when a failed attempt ended
// the pass with the item still at the head.
func (e *Engine) drain(ctx context.Context) bool {
	for e.hasMoreWork() {
		item, ok := e.queue.PeekHead()
		if !ok {
			continue
		}
		if !e.attempt(ctx, item) {
			return true
		}
	}
	return false
}

// hasMoreWork is checked before each item. Going offline or stopping ends
// the pass after the in-flight request.
func (e *Engine) hasMoreWork() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.moreWorkLocked()
}

func (e *Engine) moreWorkLocked() bool {
	return !e.stopped && e.online.IsOnline() && e.queue.Size() > 0
}

// clearSyncing drops the reported syncing state while the worker still
// holds the session.
func (e *Engine) clearSyncing() {
	e.mu.Lock()
	e.syncing = false
	e.mu.Unlock()
}

// finishUnlessMoreWork releases the session unless work arrived and the
// device is online, in which case a new pass starts on the same worker. The
// check and the release happen under one lock so a trigger that raced with
// the end of the session is never lost.
func (e *Engine) finishUnlessMoreWork() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.moreWorkLocked() {
		e.syncing = true
		return false
	}
	e.running = false
	e.idle.Broadcast()
	return true
}

// endSession releases the session after an early stop. With auto-retry
// enabled, a failed session schedules the next trigger.
func (e *Engine) endSession(ctx context.Context, failed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.syncing = false
	e.idle.Broadcast()
	if failed && e.retryDelay != nil && !e.stopped {
		delay := e.retryDelay.NextBackOff()
		e.retryTimer = time.AfterFunc(delay, func() { e.TrySync() })
		logger.FromContext(ctx).Info("Scheduled sync retry", zap.Duration("delay", delay))
	}
}

func (e *Engine) cancelRetryLocked() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

// attempt delivers item once and applies the outcome to the queue.
// It returns false when the session must stop with item still at the head.
func (e *Engine) attempt(ctx context.Context, item model.FeedbackItem) bool {
	itemCtx := logger.WithItemID(ctx, item.ID)
	log := logger.FromContext(itemCtx)

	attemptCtx, cancel := context.WithTimeout(itemCtx, e.opts.AttemptTimeout)
	start := time.Now()
	// A panicking deliverer counts as a failed attempt against the retry bound.
	err := utils.WrapWithRecovery(func() error {
		return e.deliverer.Deliver(attemptCtx, item)
	})()
	cancel()
	observer.ObserveDeliveryDuration(string(item.Action), time.Since(start))
	observer.IncDeliveryAttempt(string(item.Action), err)

	if err == nil {
		e.queue.RemoveHead(itemCtx, item.ID)
		e.mu.Lock()
		e.consecutiveFailures = 0
		e.lastError = ""
		if e.retryDelay != nil {
			e.retryDelay.Reset()
		}
		e.mu.Unlock()

		log.Debug("Feedback delivered", zap.String("action", string(item.Action)), zap.Int64("subject_id", item.SubjectID))
		e.notify(itemCtx, notify.EventDelivered, &item)
		return true
	}

	failed, ok := e.queue.RecordFailure(itemCtx, item.ID)
	if !ok {
		// Head changed underneath us; move on to the new head.
		return true
	}
	e.mu.Lock()
	e.consecutiveFailures++
	e.mu.Unlock()

	rejected := apperrors.IsFatal(err)
	if failed.RetryCount >= e.opts.MaxRetries || (rejected && e.opts.FailFastOnReject) {
		e.abandon(itemCtx, failed, err, rejected)
		return true
	}

	observer.IncDeliveryRetry(string(item.Action))
	log.Warn("Feedback delivery failed, will retry",
		zap.String("action", string(item.Action)),
		zap.Int("retry_count", failed.RetryCount),
		zap.Int("max_retries", e.opts.MaxRetries),
		zap.Bool("retryable", apperrors.IsRetryable(err)),
		zap.Error(err))
	e.notify(itemCtx, notify.EventRetryScheduled, &failed)
	return false
}

func (e *Engine) abandon(ctx context.Context, item model.FeedbackItem, cause error, rejected bool) {
	lastErr := cause.Error()
	final, ok := e.queue.Abandon(ctx, item.ID, lastErr)
	if !ok {
		return
	}

	e.mu.Lock()
	e.lastError = lastErr
	e.mu.Unlock()

	reason := "exhausted"
	if rejected && e.opts.FailFastOnReject && final.RetryCount < e.opts.MaxRetries {
		reason = "rejected"
	}
	observer.IncItemsAbandoned(string(final.Action), reason)
	logger.FromContext(ctx).Error("Feedback abandoned",
		zap.String("action", string(final.Action)),
		zap.Int64("subject_id", final.SubjectID),
		zap.String("subject_path", final.SubjectPath),
		zap.Int("retry_count", final.RetryCount),
		zap.String("reason", reason),
		zap.Error(fmt.Errorf("%w: %w", apperrors.ErrRetriesExhausted, cause)))

	if e.opts.Abandoned != nil {
		if err := e.opts.Abandoned.Save(ctx, model.NewAbandonedFeedback(final)); err != nil {
			logger.FromContext(ctx).Warn("Failed to save abandoned feedback", zap.Error(err))
		}
	}

	e.notify(ctx, notify.EventAbandoned, &final)
}

func (e *Engine) notify(ctx context.Context, event notify.Event, item *model.FeedbackItem) {
	if e.notifier != nil {
		e.notifier.Notify(ctx, event, item)
	}
}

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func newAntsLoggerAdapter(logger *zap.Logger) *antsLoggerAdapter {
	return &antsLoggerAdapter{logger: logger}
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
