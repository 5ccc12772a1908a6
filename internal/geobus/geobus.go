// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wneessen/geotrack/internal/logger"
	"github.com/wneessen/geotrack/internal/position"
)

// EventKind identifies the type of event delivered through the GeoBus.
type EventKind int

const (
	// EventPosition carries a new position sample.
	EventPosition EventKind = iota
	// EventSourceUnavailable signals that the position source failed and tracking stopped.
	EventSourceUnavailable
)

var (
	ErrHandleClosed  = errors.New("geobus: handle has been unregistered")
	ErrForeignHandle = errors.New("geobus: handle belongs to a different bus")
)

// String satisfies the fmt.Stringer interface for the EventKind type.
func (k EventKind) String() string {
	switch k {
	case EventPosition:
		return "position"
	case EventSourceUnavailable:
		return "source_unavailable"
	default:
		return "unknown"
	}
}

// Event is a single message published on the GeoBus. Events are delivered by value.
type Event struct {
	Kind   EventKind
	Sample position.Sample
	Err    error
}

// Handle is a consumer registration on the GeoBus. Events are read from C in publish order.
type Handle struct {
	id  uint64
	bus *GeoBus
	ch  chan Event

	// mu guards the send side of ch against the close in Unregister
	mu       sync.RWMutex
	closed   chan struct{}
	isClosed bool
	once     sync.Once
}

// GeoBus is a process-local publish/subscribe bus for position events. It delivers every published
// event to all handles that were registered when the publish started. Handles registered later do
// not see past events.
type GeoBus struct {
	logger *logger.Logger
	nextID atomic.Uint64

	// mu guards the subscriber set
	mu      sync.RWMutex
	handles map[*Handle]struct{}

	// pubMu serializes publishes so that every handle observes events in publish order
	pubMu sync.Mutex
}

// New initializes and returns a new GeoBus.
func New(log *logger.Logger) (*GeoBus, error) {
	if log == nil {
		return nil, errors.New("geobus: logger is required")
	}
	return &GeoBus{
		logger:  log,
		handles: make(map[*Handle]struct{}),
	}, nil
}

// NewHandle creates a handle with the given channel buffer size. The handle does not receive events
// until it is registered.
func (b *GeoBus) NewHandle(buffer int) *Handle {
	if buffer < 0 {
		buffer = 0
	}
	return &Handle{
		id:     b.nextID.Add(1),
		bus:    b,
		ch:     make(chan Event, buffer),
		closed: make(chan struct{}),
	}
}

// ID returns the bus-unique handle identifier.
func (h *Handle) ID() uint64 {
	return h.id
}

// C returns the event channel of the handle. It is closed once the handle is unregistered.
func (h *Handle) C() <-chan Event {
	return h.ch
}

// Done returns a channel that is closed when the handle is unregistered.
func (h *Handle) Done() <-chan struct{} {
	return h.closed
}

// Register adds the handle to the subscriber set. Registering an already registered handle is a no-op.
// Handles cannot be registered again once they were unregistered.
func (b *GeoBus) Register(h *Handle) error {
	if h.bus != b {
		return ErrForeignHandle
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-h.closed:
		return ErrHandleClosed
	default:
	}
	if _, ok := b.handles[h]; ok {
		return nil
	}
	b.handles[h] = struct{}{}
	b.logger.Debug("geobus handle registered", slog.Uint64("handle", h.id),
		slog.Int("subscribers", len(b.handles)))
	return nil
}

// Unregister removes the handle from the subscriber set and closes its channel. A publish that is
// currently blocked on this handle gives up without delivering. Unregistering is idempotent.
func (b *GeoBus) Unregister(h *Handle) {
	if h.bus != b {
		return
	}
	h.once.Do(func() {
		close(h.closed)

		b.mu.Lock()
		delete(b.handles, h)
		subs := len(b.handles)
		b.mu.Unlock()

		// Wait for a concurrent delivery to this handle to give up before closing the channel
		h.mu.Lock()
		h.isClosed = true
		close(h.ch)
		h.mu.Unlock()

		b.logger.Debug("geobus handle unregistered", slog.Uint64("handle", h.id),
			slog.Int("subscribers", subs))
	})
}

// Subscribe creates and registers a new handle and returns it together with its unsubscribe function.
func (b *GeoBus) Subscribe(buffer int) (*Handle, func()) {
	h := b.NewHandle(buffer)
	// A fresh handle of this bus can always be registered
	_ = b.Register(h)
	return h, func() { b.Unregister(h) }
}

// Subscribers returns the number of currently registered handles.
func (b *GeoBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handles)
}

// Publish delivers the event to every handle registered at the time of the call and returns the
// number of handles it was delivered to. Delivery to a handle blocks until the consumer accepts the
// event, the handle is unregistered or ctx is done. Deliveries to different handles run concurrently.
func (b *GeoBus) Publish(ctx context.Context, ev Event) int {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.RLock()
	targets := make([]*Handle, 0, len(b.handles))
	for h := range b.handles {
		targets = append(targets, h)
	}
	b.mu.RUnlock()

	switch len(targets) {
	case 0:
		return 0
	case 1:
		if targets[0].deliver(ctx, ev) {
			return 1
		}
		return 0
	}

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, h := range targets {
		wg.Go(func() {
			if h.deliver(ctx, ev) {
				delivered.Add(1)
			}
		})
	}
	wg.Wait()

	return int(delivered.Load())
}

// deliver sends the event to the handle. It reports whether the consumer received the event.
func (h *Handle) deliver(ctx context.Context, ev Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.isClosed {
		return false
	}

	select {
	case h.ch <- ev:
		return true
	case <-h.closed:
		return false
	case <-ctx.Done():
		return false
	}
}
