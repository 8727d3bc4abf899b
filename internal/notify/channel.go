package notify

import (
	"context"
	"sync"

	"github.com/ilovespectra/solo-silo-sub000/internal/model"
	"github.com/ilovespectra/solo-silo-sub000/pkg/utils"
)

// Event names the state change a Snapshot reports.
type Event string

const (
	EventAdded          Event = "added"
	EventSyncStarted    Event = "sync_started"
	EventDelivered      Event = "delivered"
	EventRetryScheduled Event = "retry_scheduled"
	EventAbandoned      Event = "abandoned"
	EventSyncFinished   Event = "sync_finished"
)

// Snapshot is the state handed to the subscriber at the point of change.
type Snapshot struct {
	Event        Event                `json:"event"`
	Items        []model.FeedbackItem `json:"items"`
	PendingCount int                  `json:"pendingCount"`
	Status       model.SyncStatus     `json:"status"`
	LastError    string               `json:"lastError,omitempty"`
	// Item is the item the event is about. For EventAbandoned it carries LastError.
	Item *model.FeedbackItem `json:"item,omitempty"`
}

// State is the part of a Snapshot owned by the queue and the engine.
type State struct {
	Items     []model.FeedbackItem
	Status    model.SyncStatus
	LastError string
}

// StateFunc reads the current State. It must not be called while holding queue or engine locks.
type StateFunc func() State

// Callback receives snapshots.
type Callback func(Snapshot)

// Notifier is what the queue and the engine report changes to.
type Notifier interface {
	Notify(ctx context.Context, event Event, item *model.FeedbackItem)
}

// Channel holds at most one subscriber. A new Subscribe replaces the previous callback.
type Channel struct {
	mu    sync.RWMutex
	cb    Callback
	state StateFunc
}

// NewChannel creates a channel. state may be set later with SetState.
func NewChannel(state StateFunc) *Channel {
	return &Channel{state: state}
}

// SetState replaces the function used to build snapshots.
func (c *Channel) SetState(state StateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// Subscribe registers cb as the single active callback.
func (c *Channel) Subscribe(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

// Unsubscribe clears the callback.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = nil
}

// Notify builds a snapshot from the current state and publishes it.
func (c *Channel) Notify(ctx context.Context, event Event, item *model.FeedbackItem) {
	c.mu.RLock()
	cb, state := c.cb, c.state
	c.mu.RUnlock()

	if cb == nil {
		return
	}

	snap := Snapshot{Event: event, Status: model.SyncStatusIdle}
	if state != nil {
		s := state()
		snap.Items = s.Items
		snap.PendingCount = len(s.Items)
		snap.Status = s.Status
		snap.LastError = s.LastError
	}
	if item != nil {
		cp := item.Clone()
		snap.Item = &cp
	}
	c.deliver(ctx, cb, snap)
}

// Publish hands snap to the subscriber, if any, on the caller's goroutine.
func (c *Channel) Publish(ctx context.Context, snap Snapshot) {
	c.mu.RLock()
	cb := c.cb
	c.mu.RUnlock()

	if cb != nil {
		c.deliver(ctx, cb, snap)
	}
}

func (c *Channel) deliver(ctx context.Context, cb Callback, snap Snapshot) {
	// A panicking subscriber must not take down the sync loop
	defer utils.RecoverWithLog(ctx, "subscriber callback")
	cb(snap)
}
