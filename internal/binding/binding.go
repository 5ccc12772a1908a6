// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/wneessen/geotrack/internal/logger"
	"github.com/wneessen/geotrack/internal/metrics"
	"github.com/wneessen/geotrack/internal/tracking"
)

// ConnectionState is the state of a single binding Handle.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
)

// Policy decides what happens to an unsubscribed service when its last handle disconnects.
type Policy int

const (
	// TeardownOnLastDisconnect closes an unsubscribed service once no handle is connected anymore.
	TeardownOnLastDisconnect Policy = iota
	// KeepAlive keeps the service instance until the registry is closed.
	KeepAlive
)

var (
	// ErrServiceUnreachable is returned by Connect if no tracking service could be started.
	ErrServiceUnreachable = errors.New("tracking service unreachable")
	// ErrHandleReleased is returned when a disconnected handle is used.
	ErrHandleReleased = errors.New("binding handle has been released")
	// ErrRegistryClosed is returned by Connect after the registry was closed.
	ErrRegistryClosed = errors.New("binding registry is closed")
)

// Factory starts a new tracking service instance.
type Factory func(ctx context.Context) (*tracking.Service, error)

// String satisfies the fmt.Stringer interface for the ConnectionState type.
func (s ConnectionState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// String satisfies the fmt.Stringer interface for the Policy type.
func (p Policy) String() string {
	if p == KeepAlive {
		return "keep-alive"
	}
	return "teardown"
}

// ParsePolicy returns the Policy for the given name. Unknown names yield TeardownOnLastDisconnect.
func ParsePolicy(name string) Policy {
	if name == KeepAlive.String() {
		return KeepAlive
	}
	return TeardownOnLastDisconnect
}

// Registry is the process-wide access point to the tracking service. The service is started on the
// first Connect and, depending on the Policy, torn down once the last handle disconnects while the
// service is not subscribed.
type Registry struct {
	factory Factory
	policy  Policy
	logger  *logger.Logger

	mu         sync.Mutex
	service    *tracking.Service
	generation uint64
	handles    map[uuid.UUID]*Handle
	closed     bool
}

// Handle is a consumer's connection to a running tracking service. It stays valid until Disconnect
// is called.
type Handle struct {
	id         uuid.UUID
	generation uint64
	registry   *Registry
	service    *tracking.Service

	mu    sync.RWMutex
	state ConnectionState
}

// NewRegistry returns a new Registry that starts services using the given factory.
func NewRegistry(factory Factory, policy Policy, log *logger.Logger) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("binding: service factory is required")
	}
	if log == nil {
		return nil, errors.New("binding: logger is required")
	}
	return &Registry{
		factory: factory,
		policy:  policy,
		logger:  log,
		handles: make(map[uuid.UUID]*Handle),
	}, nil
}

// Connect returns a handle to the running tracking service. If no service is alive, a fresh one is
// started. A failing factory is reported as ErrServiceUnreachable; the caller may retry.
func (r *Registry) Connect(ctx context.Context) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}

	if r.service == nil {
		svc, err := r.factory(ctx)
		if err != nil {
			r.logger.Error("failed to start tracking service", logger.Err(err))
			return nil, fmt.Errorf("%w: %w", ErrServiceUnreachable, err)
		}
		if svc == nil {
			return nil, fmt.Errorf("%w: factory returned no service", ErrServiceUnreachable)
		}
		r.service = svc
		r.generation++
		r.logger.Debug("tracking service started", slog.Uint64("generation", r.generation))
	}

	h := &Handle{
		id:         uuid.New(),
		generation: r.generation,
		registry:   r,
		service:    r.service,
		state:      Connected,
	}
	r.handles[h.id] = h
	metrics.ActiveConnections.Inc()
	r.logger.Debug("binding handle connected", slog.String("handle", h.id.String()),
		slog.Uint64("generation", h.generation), slog.Int("handles", len(r.handles)))
	return h, nil
}

// Connections returns the number of currently connected handles.
func (r *Registry) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Generation returns the generation of the current service instance. Every freshly started service
// gets a new generation; zero means no service was ever started.
func (r *Registry) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// Alive reports whether a service instance is currently running.
func (r *Registry) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.service != nil
}

// Close releases all handles and shuts the running service down.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	svc := r.service
	r.service = nil
	r.mu.Unlock()

	for _, h := range handles {
		h.Disconnect()
	}
	if svc != nil {
		svc.Close()
	}
}

// release removes a disconnected handle and tears the service down if the policy asks for it.
func (r *Registry) release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[h.id]; !ok {
		return
	}
	delete(r.handles, h.id)
	metrics.ActiveConnections.Dec()
	r.logger.Debug("binding handle disconnected", slog.String("handle", h.id.String()),
		slog.Int("handles", len(r.handles)))

	if len(r.handles) > 0 || r.service == nil || r.service != h.service {
		return
	}
	if r.policy == KeepAlive || r.service.State() == tracking.Subscribed {
		return
	}
	r.service.Close()
	r.service = nil
	r.logger.Debug("tracking service torn down", slog.Uint64("generation", r.generation))
}

// ID returns the unique identifier of the handle.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Generation returns the generation of the service instance this handle is bound to.
func (h *Handle) Generation() uint64 {
	return h.generation
}

// State returns the connection state of the handle.
func (h *Handle) State() ConnectionState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Service returns the tracking service the handle is bound to.
func (h *Handle) Service() (*tracking.Service, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state != Connected {
		return nil, ErrHandleReleased
	}
	return h.service, nil
}

// Subscribe subscribes the bound tracking service.
func (h *Handle) Subscribe(ctx context.Context) error {
	svc, err := h.Service()
	if err != nil {
		return err
	}
	return svc.Subscribe(ctx)
}

// Unsubscribe unsubscribes the bound tracking service.
func (h *Handle) Unsubscribe() error {
	svc, err := h.Service()
	if err != nil {
		return err
	}
	svc.Unsubscribe()
	return nil
}

// Disconnect releases the handle. It does not unsubscribe the tracking service. Disconnect is
// idempotent.
func (h *Handle) Disconnect() {
	h.mu.Lock()
	if h.state == Disconnected {
		h.mu.Unlock()
		return
	}
	h.state = Disconnected
	h.mu.Unlock()

	h.registry.release(h)
}
