package connectivity

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ilovespectra/solo-silo-sub000/internal/observer"
	"github.com/ilovespectra/solo-silo-sub000/pkg/logger"
)

// Monitor tracks whether the backend is reachable and runs hooks on reconnect.
type Monitor struct {
	mu     sync.Mutex
	online bool
	hooks  []func()
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(initialOnline bool) *Monitor {
	observer.SetOnline(initialOnline)
	return &Monitor{online: initialOnline}
}

// OnReconnect registers fn to run on every offline to online transition.
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// IsOnline reports the current connectivity.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a platform signal. Hooks run once per false to true
// transition, on the caller's goroutine and outside the monitor lock.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	prev := m.online
	m.online = online
	var hooks []func()
	if !prev && online {
		hooks = make([]func(), len(m.hooks))
		copy(hooks, m.hooks)
	}
	m.mu.Unlock()

	if prev == online {
		return
	}

	observer.SetOnline(online)
	logger.Log.Info("Connectivity changed", zap.Bool("online", online))

	for _, hook := range hooks {
		hook()
	}
}
