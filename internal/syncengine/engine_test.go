package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilovespectra/solo-silo-sub000/internal/apperrors"
	"github.com/ilovespectra/solo-silo-sub000/internal/connectivity"
	"github.com/ilovespectra/solo-silo-sub000/internal/model"
	"github.com/ilovespectra/solo-silo-sub000/internal/notify"
	"github.com/ilovespectra/solo-silo-sub000/internal/queue"
	"github.com/ilovespectra/solo-silo-sub000/internal/storage"
)

// fakeDeliverer records attempts and answers with respond.
type fakeDeliverer struct {
	mu       sync.Mutex
	attempts []model.FeedbackItem
	respond  func(item model.FeedbackItem, attempt int) error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeDeliverer) Deliver(_ context.Context, item model.FeedbackItem) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.attempts = append(f.attempts, item)
	attempt := len(f.attempts)
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return nil
	}
	return respond(item, attempt)
}

func (f *fakeDeliverer) attemptIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.attempts))
	for i, item := range f.attempts {
		out[i] = item.ID
	}
	return out
}

type harness struct {
	ctx       context.Context
	store     *storage.MemoryStore
	queue     *queue.Queue
	monitor   *connectivity.Monitor
	deliverer *fakeDeliverer
	channel   *notify.Channel
	engine    *Engine

	mu        sync.Mutex
	snapshots []notify.Snapshot
}

func newHarness(t *testing.T, online bool, opts Options) *harness {
	t.Helper()
	h := &harness{
		ctx:       context.Background(),
		store:     storage.NewMemoryStore(),
		monitor:   connectivity.NewMonitor(online),
		deliverer: &fakeDeliverer{},
	}
	channel := notify.NewChannel(nil)
	h.channel = channel
	h.queue = queue.New(h.store, channel, queue.Options{})
	h.queue.Init(h.ctx)

	engine, err := New(h.queue, h.deliverer, h.monitor, channel, opts)
	require.NoError(t, err)
	h.engine = engine
	t.Cleanup(engine.Stop)

	channel.SetState(func() notify.State {
		return notify.State{Items: h.queue.Items(), Status: engine.Status(), LastError: engine.LastError()}
	})
	channel.Subscribe(func(s notify.Snapshot) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.snapshots = append(h.snapshots, s)
	})
	return h
}

func (h *harness) add(t *testing.T, action model.Action, subject int64, query string) model.FeedbackItem {
	t.Helper()
	item, err := h.queue.Add(h.ctx, model.AddRequest{Action: action, SubjectID: subject, Query: query})
	require.NoError(t, err)
	return item
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.True(t, h.engine.TrySync())
	h.engine.Wait()
}

func (h *harness) lastSnapshot(t *testing.T) notify.Snapshot {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.snapshots)
	return h.snapshots[len(h.snapshots)-1]
}

func (h *harness) events() []notify.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]notify.Event, len(h.snapshots))
	for i, s := range h.snapshots {
		out[i] = s.Event
	}
	return out
}

func serverError(_ model.FeedbackItem, _ int) error {
	return fmt.Errorf("%w: api /api/search/dog/reject returned status 500", apperrors.ErrDeliveryTransient)
}

func TestOfflineAddThenReconnectDelivers(t *testing.T) {
	h := newHarness(t, false, Options{})
	h.monitor.OnReconnect(func() { h.engine.TrySync() })

	h.add(t, model.ActionConfirm, 42, "sunset")
	assert.False(t, h.engine.TrySync())
	assert.Equal(t, 1, h.queue.Size())
	assert.Equal(t, model.SyncStatusIdle, h.engine.Status())
	assert.Empty(t, h.deliverer.attemptIDs())

	h.monitor.SetOnline(true)
	h.engine.Wait()

	assert.Zero(t, h.queue.Size())
	assert.Equal(t, model.SyncStatusIdle, h.engine.Status())
	assert.Empty(t, h.engine.LastError())
	assert.Len(t, h.deliverer.attemptIDs(), 1)

	assert.Equal(t, []notify.Event{
		notify.EventAdded,
		notify.EventSyncStarted,
		notify.EventDelivered,
		notify.EventSyncFinished,
	}, h.events())
	h.mu.Lock()
	assert.Equal(t, model.SyncStatusSyncing, h.snapshots[1].Status)
	h.mu.Unlock()
	assert.Zero(t, h.lastSnapshot(t).PendingCount)
}

func TestRetryBoundAbandonsAfterThreeFailures(t *testing.T) {
	h := newHarness(t, false, Options{})
	h.deliverer.respond = serverError
	dog := h.add(t, model.ActionRemove, 7, "dog")
	h.monitor.SetOnline(true)

	for i := 1; i <= 2; i++ {
		h.sync(t)
		assert.Equal(t, 1, h.queue.Size(), "item stays at the head after failure %d", i)
		head, _ := h.queue.PeekHead()
		assert.Equal(t, i, head.RetryCount)
		assert.Equal(t, notify.EventRetryScheduled, h.events()[len(h.events())-2])
	}

	h.sync(t)
	assert.Zero(t, h.queue.Size())
	assert.Equal(t, []string{dog.ID, dog.ID, dog.ID}, h.deliverer.attemptIDs())
	assert.Equal(t, model.SyncStatusError, h.engine.Status())
	assert.Contains(t, h.engine.LastError(), "status 500")
	assert.Equal(t, 3, h.engine.ConsecutiveFailures())

	last := h.lastSnapshot(t)
	assert.Equal(t, notify.EventSyncFinished, last.Event)
	assert.NotEmpty(t, last.LastError)
	assert.Equal(t, model.SyncStatusError, last.Status)

	h.mu.Lock()
	abandoned := h.snapshots[len(h.snapshots)-2]
	h.mu.Unlock()
	require.Equal(t, notify.EventAbandoned, abandoned.Event)
	require.NotNil(t, abandoned.Item)
	assert.Equal(t, dog.ID, abandoned.Item.ID)
	assert.NotEmpty(t, abandoned.Item.LastError)

	// Never attempted again
	assert.False(t, h.engine.TrySync())
	assert.Len(t, h.deliverer.attemptIDs(), 3)

	stored, err := h.store.LoadAll(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestDeliversInFIFOOrder(t *testing.T) {
	h := newHarness(t, false, Options{})
	first := h.add(t, model.ActionConfirm, 1, "first")
	second := h.add(t, model.ActionRemove, 2, "second")
	third := h.add(t, model.ActionConfirm, 3, "third")

	h.monitor.SetOnline(true)
	h.sync(t)

	assert.Equal(t, []string{first.ID, second.ID, third.ID}, h.deliverer.attemptIDs())
	assert.Zero(t, h.queue.Size())
}

func TestFailureStopsSessionAndPreservesOrder(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.deliverer.respond = func(_ model.FeedbackItem, attempt int) error {
		if attempt == 1 {
			return errors.New("connection reset")
		}
		return nil
	}
	first := h.add(t, model.ActionConfirm, 1, "a")
	second := h.add(t, model.ActionConfirm, 2, "b")

	h.sync(t)
	assert.Equal(t, []string{first.ID}, h.deliverer.attemptIDs())
	assert.Equal(t, 2, h.queue.Size())
	assert.Equal(t, 1, h.engine.ConsecutiveFailures())

	h.sync(t)
	assert.Equal(t, []string{first.ID, first.ID, second.ID}, h.deliverer.attemptIDs())
	assert.Zero(t, h.queue.Size())
	assert.Zero(t, h.engine.ConsecutiveFailures())
}

func TestAbandonedItemDoesNotBlockLaterItems(t *testing.T) {
	abandoned := storage.NewMemoryStore()
	h := newHarness(t, false, Options{Abandoned: abandoned})

	bad := h.add(t, model.ActionConfirm, 1, "bad")
	good := h.add(t, model.ActionConfirm, 2, "good")
	h.deliverer.respond = func(item model.FeedbackItem, _ int) error {
		if item.ID == bad.ID {
			return serverError(item, 0)
		}
		return nil
	}
	h.monitor.SetOnline(true)

	h.sync(t)
	h.sync(t)
	h.sync(t)

	assert.Equal(t, []string{bad.ID, bad.ID, bad.ID, good.ID}, h.deliverer.attemptIDs())
	assert.Zero(t, h.queue.Size())

	// Success after the abandonment clears the error state
	assert.Equal(t, model.SyncStatusIdle, h.engine.Status())
	assert.Empty(t, h.engine.LastError())

	records := abandoned.Abandoned()
	require.Len(t, records, 1)
	assert.Equal(t, bad.ID, records[0].ItemID)
	assert.Equal(t, 3, records[0].RetryCount)
	assert.NotEmpty(t, records[0].LastError)
}

func TestAtMostOneSessionInFlight(t *testing.T) {
	h := newHarness(t, true, Options{})
	release := make(chan struct{})
	h.deliverer.respond = func(model.FeedbackItem, int) error {
		<-release
		return nil
	}
	for i := 0; i < 5; i++ {
		h.add(t, model.ActionConfirm, int64(i), "q")
	}
	require.True(t, h.engine.TrySync())
	assert.Equal(t, model.SyncStatusSyncing, h.engine.Status())

	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.engine.TrySync() {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, started.Load())

	close(release)
	h.engine.Wait()

	assert.Equal(t, int32(1), h.deliverer.maxInFlight.Load())
	assert.Len(t, h.deliverer.attemptIDs(), 5)
	assert.Zero(t, h.queue.Size())
}

func TestGoingOfflineStopsAfterInFlightRequest(t *testing.T) {
	h := newHarness(t, false, Options{})
	first := h.add(t, model.ActionConfirm, 1, "a")
	h.add(t, model.ActionConfirm, 2, "b")
	h.deliverer.respond = func(model.FeedbackItem, int) error {
		h.monitor.SetOnline(false)
		return nil
	}
	h.monitor.SetOnline(true)
	h.sync(t)

	assert.Equal(t, []string{first.ID}, h.deliverer.attemptIDs())
	assert.Equal(t, 1, h.queue.Size())
	assert.Equal(t, model.SyncStatusIdle, h.engine.Status())
}

func TestReconnectTriggersExactlyOnePass(t *testing.T) {
	h := newHarness(t, false, Options{})
	var sessions atomic.Int32
	h.monitor.OnReconnect(func() {
		if h.engine.TrySync() {
			sessions.Add(1)
		}
	})
	h.add(t, model.ActionConfirm, 1, "a")

	h.monitor.SetOnline(true)
	h.monitor.SetOnline(true)
	h.monitor.SetOnline(true)
	h.engine.Wait()

	assert.Equal(t, int32(1), sessions.Load())
	assert.Len(t, h.deliverer.attemptIDs(), 1)
}

func TestFailFastOnReject(t *testing.T) {
	h := newHarness(t, true, Options{FailFastOnReject: true})
	h.deliverer.respond = func(item model.FeedbackItem, _ int) error {
		if item.Query == "gone" {
			return apperrors.NewFatal(apperrors.ErrDeliveryRejected, "api returned status %d", 404)
		}
		return nil
	}
	gone := h.add(t, model.ActionConfirm, 1, "gone")
	ok := h.add(t, model.ActionConfirm, 2, "ok")

	h.sync(t)
	assert.Equal(t, []string{gone.ID, ok.ID}, h.deliverer.attemptIDs())
	assert.Zero(t, h.queue.Size())
	assert.Empty(t, h.engine.LastError(), "the later success clears the error")

	h.mu.Lock()
	defer h.mu.Unlock()
	var abandoned *model.FeedbackItem
	for _, s := range h.snapshots {
		if s.Event == notify.EventAbandoned {
			abandoned = s.Item
		}
	}
	require.NotNil(t, abandoned)
	assert.Equal(t, gone.ID, abandoned.ID)
	assert.Equal(t, 1, abandoned.RetryCount)
}

func TestAutoRetrySchedulesNextSession(t *testing.T) {
	h := newHarness(t, false, Options{AutoRetry: true, RetryBaseDelay: 10 * time.Millisecond, RetryMaxDelay: 20 * time.Millisecond})
	h.deliverer.respond = func(_ model.FeedbackItem, attempt int) error {
		if attempt < 3 {
			return errors.New("connection refused")
		}
		return nil
	}
	h.add(t, model.ActionConfirm, 1, "a")
	h.monitor.SetOnline(true)
	h.sync(t)

	assert.Eventually(t, func() bool {
		return h.queue.Size() == 0
	}, 2*time.Second, 5*time.Millisecond)
	h.engine.Wait()
	assert.Len(t, h.deliverer.attemptIDs(), 3)
}

func TestTrySyncGuards(t *testing.T) {
	h := newHarness(t, true, Options{})
	assert.False(t, h.engine.TrySync(), "empty queue")

	h.engine.Stop()
	h.engine.Stop()
	_, err := h.queue.Add(h.ctx, model.AddRequest{Action: model.ActionConfirm, SubjectID: 1, Query: "q"})
	require.NoError(t, err)
	assert.False(t, h.engine.TrySync(), "stopped")
	assert.Equal(t, 1, h.queue.Size())
}

func TestSessionRecoversFromPanic(t *testing.T) {
	h := newHarness(t, false, Options{})
	h.deliverer.respond = func(model.FeedbackItem, int) error { panic("boom") }
	h.add(t, model.ActionConfirm, 1, "a")
	h.monitor.SetOnline(true)
	h.sync(t)

	assert.Equal(t, model.SyncStatusIdle, h.engine.Status())
	require.Equal(t, 1, h.queue.Size())
	head, _ := h.queue.PeekHead()
	assert.Equal(t, 1, head.RetryCount, "a panic counts as a failed attempt")
	assert.Equal(t, notify.EventRetryScheduled, h.events()[len(h.events())-2])
	assert.Equal(t, notify.EventSyncFinished, h.lastSnapshot(t).Event)

	h.deliverer.respond = nil
	h.sync(t)
	assert.Zero(t, h.queue.Size())
}

func TestTransientErrorDoesNotFailFast(t *testing.T) {
	h := newHarness(t, true, Options{FailFastOnReject: true})
	h.deliverer.respond = func(model.FeedbackItem, int) error {
		return apperrors.NewRetryable(apperrors.ErrDeliveryTransient, "api returned status %d", 503)
	}
	h.add(t, model.ActionConfirm, 1, "a")

	h.sync(t)
	require.Equal(t, 1, h.queue.Size())
	head, _ := h.queue.PeekHead()
	assert.Equal(t, 1, head.RetryCount)
	assert.Empty(t, h.engine.LastError())
}

func TestBackToBackSessionEventsDoNotInterleave(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.queue.SetTrigger(func() { h.engine.TrySync() })

	var mu sync.Mutex
	var events []notify.Event
	var finishedStatus []model.SyncStatus
	addedFromCallback := false
	h.channel.Subscribe(func(s notify.Snapshot) {
		mu.Lock()
		events = append(events, s.Event)
		if s.Event == notify.EventSyncFinished {
			finishedStatus = append(finishedStatus, s.Status)
		}
		addNow := s.Event == notify.EventSyncFinished && !addedFromCallback
		if addNow {
			addedFromCallback = true
		}
		mu.Unlock()

		if addNow {
			_, err := h.queue.Add(h.ctx, model.AddRequest{Action: model.ActionConfirm, SubjectID: 2, Query: "b"})
			assert.NoError(t, err)
		}
	})

	h.add(t, model.ActionConfirm, 1, "a")
	h.engine.Wait()

	assert.Zero(t, h.queue.Size())
	assert.Len(t, h.deliverer.attemptIDs(), 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []notify.Event{
		notify.EventAdded,
		notify.EventSyncStarted,
		notify.EventDelivered,
		notify.EventSyncFinished,
		notify.EventAdded,
		notify.EventSyncStarted,
		notify.EventDelivered,
		notify.EventSyncFinished,
	}, events)
	assert.Equal(t, []model.SyncStatus{model.SyncStatusIdle, model.SyncStatusIdle}, finishedStatus)
}
