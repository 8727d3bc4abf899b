package queue

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ilovespectra/solo-silo-sub000/internal/model"
	"github.com/ilovespectra/solo-silo-sub000/internal/notify"
	"github.com/ilovespectra/solo-silo-sub000/internal/observer"
	"github.com/ilovespectra/solo-silo-sub000/internal/storage"
	"github.com/ilovespectra/solo-silo-sub000/internal/validator"
	"github.com/ilovespectra/solo-silo-sub000/pkg/logger"
	"github.com/ilovespectra/solo-silo-sub000/pkg/utils"
)

// Options tunes queue startup.
type Options struct {
	// PurgeAbandonedOnStart drops stored items that carry a lastError before loading.
	PurgeAbandonedOnStart bool
}

// Queue is the ordered working set of pending feedback, mirrored to a DurableStore.
// The in-memory order is the delivery order. One mutex guards the list and
// serializes store writes, so the store sees mutations in queue order.
type Queue struct {
	store    storage.DurableStore
	notifier notify.Notifier
	opts     Options
	log      *zap.Logger

	mu         sync.Mutex
	items      []model.FeedbackItem
	nextSeq    int64
	memoryOnly bool
	storeErr   error
	trigger    func()
}

// New creates a queue. Call Init before use.
func New(store storage.DurableStore, notifier notify.Notifier, opts Options) *Queue {
	return &Queue{
		store:    store,
		notifier: notifier,
		opts:     opts,
		log:      logger.Log.Named("queue"),
		nextSeq:  1,
	}
}

// SetTrigger sets the function Add calls after queueing an item. It must not block.
func (q *Queue) SetTrigger(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.trigger = fn
}

// Init opens the store and loads pending items. If the store cannot be opened
// or read, the queue starts empty and runs memory-only for the session.
func (q *Queue) Init(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Open(ctx); err != nil {
		q.degrade("open", err)
		return
	}

	if q.opts.PurgeAbandonedOnStart {
		removed, err := q.store.ClearWhere(ctx, model.HasLastError)
		switch {
		case err != nil:
			q.log.Warn("Failed to purge abandoned items", zap.Error(err))
		case removed > 0:
			q.log.Info("Purged items abandoned in a previous session", zap.Int("count", removed))
		}
	}

	items, err := q.store.LoadAll(ctx)
	if err != nil {
		q.degrade("load", err)
		return
	}

	q.items = items
	for i := range q.items {
		// Rows without a sequence keep their load position
		if q.items[i].Seq < q.nextSeq {
			q.items[i].Seq = q.nextSeq
		}
		q.nextSeq = q.items[i].Seq + 1
	}

	observer.SetQueueLength(len(q.items))
	q.log.Info("Queue loaded", zap.Int("pending", len(q.items)))
}

func (q *Queue) degrade(stage string, err error) {
	q.memoryOnly = true
	q.storeErr = err
	q.items = nil
	q.log.Error("Durable store unavailable, running memory-only for this session",
		zap.String("stage", stage),
		zap.Error(err))
}

// StoreError returns the error that put the queue in memory-only mode, if any.
func (q *Queue) StoreError() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.storeErr
}

// MemoryOnly reports whether the durable store was unavailable at Init.
func (q *Queue) MemoryOnly() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.memoryOnly
}

// Add validates req, appends a new item to the tail, persists it, notifies
// the subscriber and triggers a sync attempt.
func (q *Queue) Add(ctx context.Context, req model.AddRequest) (model.FeedbackItem, error) {
	if err := validator.Validate(req); err != nil {
		return model.FeedbackItem{}, err
	}

	now := utils.NowMillis()
	item := model.FeedbackItem{
		ID:          newItemID(now),
		Action:      req.Action,
		SubjectID:   req.SubjectID,
		SubjectPath: req.SubjectPath,
		Query:       req.Query,
		CreatedAt:   now,
	}
	if req.Action.IsKeyword() {
		item.Keywords = make([]string, len(req.Keywords))
		copy(item.Keywords, req.Keywords)
	}

	q.mu.Lock()
	item.Seq = q.nextSeq
	q.nextSeq++
	q.items = append(q.items, item)
	// The item is queued once Add returns, even if the caller gives up.
	q.persist(context.WithoutCancel(ctx), item)
	size := len(q.items)
	trigger := q.trigger
	q.mu.Unlock()

	observer.IncItemsAdded(string(item.Action))
	observer.SetQueueLength(size)
	logger.FromContext(logger.WithItemID(ctx, item.ID)).Debug("Feedback queued",
		zap.String("action", string(item.Action)),
		zap.Int64("subject_id", item.SubjectID),
		zap.String("subject_path", item.SubjectPath),
		zap.Int("pending", size))

	if q.notifier != nil {
		q.notifier.Notify(ctx, notify.EventAdded, &item)
	}
	if trigger != nil {
		trigger()
	}
	return item.Clone(), nil
}

// PeekHead returns a copy of the oldest pending item.
func (q *Queue) PeekHead() (model.FeedbackItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.FeedbackItem{}, false
	}
	return q.items[0].Clone(), true
}

// RemoveHead removes the head from memory and store if its ID is id.
func (q *Queue) RemoveHead(ctx context.Context, id string) bool {
	q.mu.Lock()
	if len(q.items) == 0 || q.items[0].ID != id {
		q.mu.Unlock()
		return false
	}
	q.popHead()
	q.remove(ctx, id)
	size := len(q.items)
	q.mu.Unlock()

	observer.SetQueueLength(size)
	return true
}

// RecordFailure increments the head's retry count and persists it.
func (q *Queue) RecordFailure(ctx context.Context, id string) (model.FeedbackItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].ID != id {
		return model.FeedbackItem{}, false
	}
	q.items[0].RetryCount++
	q.persist(ctx, q.items[0])
	return q.items[0].Clone(), true
}

// Abandon records lastErr on the head and removes it from memory and store.
// It returns the final state of the item.
func (q *Queue) Abandon(ctx context.Context, id, lastErr string) (model.FeedbackItem, bool) {
	q.mu.Lock()
	if len(q.items) == 0 || q.items[0].ID != id {
		q.mu.Unlock()
		return model.FeedbackItem{}, false
	}
	q.items[0].LastError = lastErr
	final := q.items[0].Clone()
	q.popHead()
	q.remove(ctx, id)
	size := len(q.items)
	q.mu.Unlock()

	observer.SetQueueLength(size)
	return final, true
}

// Size returns the number of pending items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns copies of the pending items in delivery order.
func (q *Queue) Items() []model.FeedbackItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.FeedbackItem, len(q.items))
	for i, item := range q.items {
		out[i] = item.Clone()
	}
	return out
}

// Close closes the underlying store. Pending items stay stored for the next Init.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.memoryOnly {
		return nil
	}
	return q.store.Close(ctx)
}

// popHead must be called with q.mu held.
func (q *Queue) popHead() {
	q.items[0] = model.FeedbackItem{}
	q.items = q.items[1:]
}

// persist and remove are called with q.mu held. Store errors are logged
// only; the in-memory list stays the source of truth for the session.
func (q *Queue) persist(ctx context.Context, item model.FeedbackItem) {
	if q.memoryOnly {
		return
	}
	if err := q.store.Put(ctx, item); err != nil {
		q.log.Warn("Failed to persist feedback item", zap.String("item_id", item.ID), zap.Error(err))
	}
}

func (q *Queue) remove(ctx context.Context, id string) {
	if q.memoryOnly {
		return
	}
	if err := q.store.Delete(ctx, id); err != nil {
		q.log.Warn("Failed to delete feedback item", zap.String("item_id", id), zap.Error(err))
	}
}

// newItemID joins the creation time in milliseconds with a random suffix.
func newItemID(nowMillis int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return strconv.FormatInt(nowMillis, 10) + "-" + suffix
}
