package syncrt

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// Status values delivered to connection-status subscribers.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

type StatusEvent struct {
	Status  Status    `json:"status"`
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`
}

// ListenerFactory builds one live subscription. The runtime re-invokes it
// on every reconnect; the returned closer tears the subscription down.
type ListenerFactory func(ctx context.Context) (io.Closer, error)

type Options struct {
	BackoffFloor         time.Duration
	BackoffCeil          time.Duration
	MaxReconnectAttempts int

	// per-listener creation retry (linear backoff)
	ListenerRetryAttempts int
	ListenerRetryDelay    time.Duration

	MaintenanceInterval time.Duration
	ListenerMaxAge      time.Duration
	MaxStatusCallbacks  int
}

func DefaultOptions() Options {
	return Options{
		BackoffFloor:          1000 * time.Millisecond,
		BackoffCeil:           30000 * time.Millisecond,
		MaxReconnectAttempts:  5,
		ListenerRetryAttempts: 3,
		ListenerRetryDelay:    500 * time.Millisecond,
		MaintenanceInterval:   5 * time.Minute,
		ListenerMaxAge:        30 * time.Minute,
		MaxStatusCallbacks:    100,
	}
}

type listenerEntry struct {
	key       string
	factory   ListenerFactory
	closer    io.Closer
	createdAt time.Time
}

type statusCallback struct {
	id int
	fn func(StatusEvent)
}

// Runtime keeps a remote subscriber's listeners alive across connectivity
// loss. One instance per process by design; all registries live on the
// struct, never in package state.
type Runtime struct {
	mu        sync.Mutex
	opts      Options
	listeners map[string]*listenerEntry
	callbacks []statusCallback
	nextCBID  int

	subject      string
	online       bool
	reconnecting bool
	attempts     int
	backoff      time.Duration
	retryTimer   *time.Timer

	maintStop chan struct{}
	destroyed bool

	// injectable for tests
	afterFunc func(time.Duration, func()) *time.Timer
	now       func() time.Time
}

func New(opts Options) *Runtime {
	r := &Runtime{
		opts:      opts,
		listeners: make(map[string]*listenerEntry),
		online:    true,
		backoff:   opts.BackoffFloor,
		maintStop: make(chan struct{}),
		afterFunc: time.AfterFunc,
		now:       time.Now,
	}

	go r.maintenanceLoop()
	return r
}

// SetSubject records the authenticated user the listeners belong to.
// An empty subject (signed out) disables reconnection.
func (r *Runtime) SetSubject(userID string) {
	r.mu.Lock()
	r.subject = userID
	r.mu.Unlock()
}

// SetOnline marks the network restored. Any scheduled backoff wait is
// preempted; if a subject is active a reconnect starts immediately.
func (r *Runtime) SetOnline() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.online = true
	r.attempts = 0
	r.backoff = r.opts.BackoffFloor
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	hasSubject := r.subject != ""
	r.mu.Unlock()

	if hasSubject {
		go func() {
			if err := r.Reconnect(); err != nil {
				log.Printf("Reconnect after online transition failed: %v", err)
			}
		}()
	}
}

// SetOffline marks the network lost. Listeners are not torn down; they are
// simply no longer expected to deliver fresh data.
func (r *Runtime) SetOffline() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.online = false
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	r.mu.Unlock()

	r.emit(StatusEvent{Status: StatusDisconnected, At: r.now()})
}

// Reconnect tears down and recreates every active listener. Calls are
// serialized: a reconnect already in flight makes this a no-op.
func (r *Runtime) Reconnect() error {
	r.mu.Lock()
	if r.destroyed || !r.online || r.reconnecting {
		r.mu.Unlock()
		return nil
	}
	r.reconnecting = true
	attempt := r.attempts + 1
	entries := make([]*listenerEntry, 0, len(r.listeners))
	for _, e := range r.listeners {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	r.emit(StatusEvent{Status: StatusReconnecting, Attempt: attempt, At: r.now()})

	var failed error
	for _, entry := range entries {
		closeQuietly(entry.key, entry.closer)

		closer, err := r.createWithRetry(entry.factory)

		r.mu.Lock()
		if current, ok := r.listeners[entry.key]; ok && current == entry {
			entry.closer = closer
			entry.createdAt = r.now()
		} else if closer != nil {
			// listener was removed while we were rebuilding it
			defer closeQuietly(entry.key, closer)
		}
		r.mu.Unlock()

		if err != nil && failed == nil {
			failed = fmt.Errorf("listener %s: %w", entry.key, err)
		}
	}

	r.mu.Lock()
	r.reconnecting = false
	if failed == nil {
		r.attempts = 0
		r.backoff = r.opts.BackoffFloor
		r.mu.Unlock()

		r.emit(StatusEvent{Status: StatusConnected, At: r.now()})
		return nil
	}

	r.attempts++
	if r.attempts > r.opts.MaxReconnectAttempts {
		attempts := r.attempts
		r.mu.Unlock()

		// terminal until the next external online transition
		r.emit(StatusEvent{Status: StatusFailed, Attempt: attempts, At: r.now()})
		return failed
	}

	delay := r.backoff
	r.backoff = min(r.backoff*2, r.opts.BackoffCeil)
	r.retryTimer = r.afterFunc(delay, func() {
		if err := r.Reconnect(); err != nil {
			log.Printf("Scheduled reconnect failed: %v", err)
		}
	})
	r.mu.Unlock()

	return failed
}

// RegisterListener creates a named subscription through the factory with a
// bounded linear-backoff retry, so one failing listener self-heals without
// affecting others. After Cleanup this is a no-op that logs a warning.
func (r *Runtime) RegisterListener(key string, factory ListenerFactory) error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		log.Printf("Warning: listener %s registered after cleanup, ignoring", key)
		return nil
	}
	if existing, ok := r.listeners[key]; ok {
		delete(r.listeners, key)
		defer closeQuietly(key, existing.closer)
	}
	entry := &listenerEntry{
		key:       key,
		factory:   factory,
		createdAt: r.now(),
	}
	r.listeners[key] = entry
	r.mu.Unlock()

	closer, err := r.createWithRetry(factory)

	r.mu.Lock()
	if current, ok := r.listeners[key]; ok && current == entry {
		entry.closer = closer
	} else if closer != nil {
		defer closeQuietly(key, closer)
	}
	r.mu.Unlock()

	return err
}

func (r *Runtime) RemoveListener(key string) {
	r.mu.Lock()
	entry, ok := r.listeners[key]
	if ok {
		delete(r.listeners, key)
	}
	r.mu.Unlock()

	if ok {
		closeQuietly(key, entry.closer)
	}
}

// OnConnectionStatus subscribes to connection-status events. The returned
// function removes the subscription.
func (r *Runtime) OnConnectionStatus(fn func(StatusEvent)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextCBID++
	id := r.nextCBID
	r.callbacks = append(r.callbacks, statusCallback{id: id, fn: fn})

	// cap retained callbacks, dropping the oldest
	if over := len(r.callbacks) - r.opts.MaxStatusCallbacks; over > 0 {
		r.callbacks = r.callbacks[over:]
	}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, cb := range r.callbacks {
			if cb.id == id {
				r.callbacks = append(r.callbacks[:i], r.callbacks[i+1:]...)
				return
			}
		}
	}
}

// Cleanup is an idempotent, irreversible teardown: every listener is
// unsubscribed, all timers stop, and the runtime is marked destroyed.
func (r *Runtime) Cleanup() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	close(r.maintStop)
	entries := r.listeners
	r.listeners = make(map[string]*listenerEntry)
	r.callbacks = nil
	r.mu.Unlock()

	for key, entry := range entries {
		closeQuietly(key, entry.closer)
	}
}

func (r *Runtime) createWithRetry(factory ListenerFactory) (io.Closer, error) {
	var lastErr error
	for attempt := 1; attempt <= r.opts.ListenerRetryAttempts; attempt++ {
		closer, err := factory(context.Background())
		if err == nil {
			return closer, nil
		}
		lastErr = err
		if attempt < r.opts.ListenerRetryAttempts {
			time.Sleep(r.opts.ListenerRetryDelay * time.Duration(attempt))
		}
	}
	return nil, lastErr
}

// emit delivers a status event to every subscriber. A panicking callback
// must not take down the dispatch loop for the others.
func (r *Runtime) emit(event StatusEvent) {
	r.mu.Lock()
	callbacks := make([]statusCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("Connection status callback panicked: %v", rec)
				}
			}()
			cb.fn(event)
		}()
	}
}

// maintenanceLoop drops stale listener bookkeeping that never produced a
// live subscription and keeps the callback list bounded.
func (r *Runtime) maintenanceLoop() {
	if r.opts.MaintenanceInterval <= 0 {
		return
	}
	ticker := time.NewTicker(r.opts.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.maintStop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Runtime) sweep() {
	cutoff := r.now().Add(-r.opts.ListenerMaxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, entry := range r.listeners {
		if entry.closer == nil && entry.createdAt.Before(cutoff) {
			delete(r.listeners, key)
			log.Printf("Dropped stale listener bookkeeping: %s", key)
		}
	}
	if over := len(r.callbacks) - r.opts.MaxStatusCallbacks; over > 0 {
		r.callbacks = r.callbacks[over:]
	}
}

// closeQuietly tears a listener down defensively: a Close that errors or
// panics must not prevent the remaining teardowns in a batch.
func closeQuietly(key string, closer io.Closer) {
	if closer == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Listener %s teardown panicked: %v", key, rec)
		}
	}()
	if err := closer.Close(); err != nil {
		log.Printf("Listener %s teardown failed: %v", key, err)
	}
}
