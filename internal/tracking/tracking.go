// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wneessen/geotrack/internal/geobus"
	"github.com/wneessen/geotrack/internal/logger"
	"github.com/wneessen/geotrack/internal/metrics"
	"github.com/wneessen/geotrack/internal/position"
)

// SubscriptionState is the subscription state of a Service.
type SubscriptionState int

const (
	Unsubscribed SubscriptionState = iota
	Subscribed
)

var (
	// ErrSourceUnavailable is returned or published when the position source cannot deliver samples.
	ErrSourceUnavailable = errors.New("position source unavailable")
	// ErrServiceClosed is returned when subscribing on a Service that has been closed.
	ErrServiceClosed = errors.New("tracking service is closed")
)

// String satisfies the fmt.Stringer interface for the SubscriptionState type.
func (s SubscriptionState) String() string {
	switch s {
	case Subscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

// Service owns at most one active subscription to a position source and publishes every sample the
// source produces to the GeoBus. Its lifetime is independent of the consumers of the bus.
type Service struct {
	source position.Source
	bus    *geobus.GeoBus
	logger *logger.Logger

	// base is the context all subscriptions derive from. It is not tied to any caller.
	base     context.Context
	shutdown context.CancelFunc

	mu     sync.Mutex
	state  SubscriptionState
	epoch  uint64
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// New returns a new tracking Service for the given position source.
func New(source position.Source, bus *geobus.GeoBus, log *logger.Logger) (*Service, error) {
	if source == nil {
		return nil, errors.New("tracking: position source is required")
	}
	if bus == nil {
		return nil, errors.New("tracking: geobus is required")
	}
	if log == nil {
		return nil, errors.New("tracking: logger is required")
	}

	base, shutdown := context.WithCancel(context.Background())
	return &Service{
		source:   source,
		bus:      bus,
		logger:   log,
		base:     base,
		shutdown: shutdown,
	}, nil
}

// State returns the current subscription state.
func (s *Service) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Epoch returns the current subscription epoch. The epoch is incremented on every subscribe and
// unsubscribe, so samples published under an older epoch can be told apart by consumers.
func (s *Service) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Subscribe starts the delivery of samples from the position source. It is a no-op if the service is
// already subscribed. If the source implements position.Prober, it is probed first and a failing
// probe is returned as ErrSourceUnavailable without changing the subscription state. ctx only bounds
// the probe; the subscription itself lives until Unsubscribe or Close.
func (s *Service) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServiceClosed
	}
	if s.state == Subscribed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if prober, ok := s.source.(position.Prober); ok {
		if err := prober.Probe(ctx); err != nil {
			s.logger.Error("position source probe failed", slog.String("source", s.source.Name()),
				logger.Err(err))
			metrics.SourceFailures.WithLabelValues(s.source.Name()).Inc()
			return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A concurrent Subscribe or Close may have won while probing
	if s.closed {
		return ErrServiceClosed
	}
	if s.state == Subscribed {
		return nil
	}

	s.epoch++
	subCtx, cancel := context.WithCancel(s.base)
	done := make(chan struct{})
	s.state = Subscribed
	s.cancel = cancel
	s.done = done
	epoch := s.epoch

	go s.track(subCtx, epoch, done)
	s.logger.Info("tracking subscribed", slog.String("source", s.source.Name()),
		slog.Uint64("epoch", epoch))
	return nil
}

// Unsubscribe stops the delivery of samples from the position source. It is a no-op if the service is
// not subscribed. Once Unsubscribe returns, the service does not publish any further samples.
func (s *Service) Unsubscribe() {
	s.mu.Lock()
	if s.state == Unsubscribed {
		s.mu.Unlock()
		return
	}
	cancel, done := s.detach()
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("tracking unsubscribed", slog.String("source", s.source.Name()))
}

// Close unsubscribes and shuts the service down. A closed service cannot be subscribed again.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var cancel context.CancelFunc
	var done chan struct{}
	if s.state == Subscribed {
		cancel, done = s.detach()
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.shutdown()
}

// detach transitions to Unsubscribed and returns the cancel func and done channel of the running
// subscription. The caller must hold s.mu.
func (s *Service) detach() (context.CancelFunc, chan struct{}) {
	cancel, done := s.cancel, s.done
	s.state = Unsubscribed
	s.epoch++
	s.cancel = nil
	s.done = nil
	return cancel, done
}

// track reads the source stream and publishes every sample until ctx is cancelled or the source fails.
func (s *Service) track(ctx context.Context, epoch uint64, done chan struct{}) {
	defer close(done)

	stream, err := s.safeLookup(ctx)
	if err != nil {
		s.fail(epoch, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				s.fail(epoch, errors.New("position stream closed unexpectedly"))
				return
			}
			if update.Err != nil {
				s.fail(epoch, update.Err)
				return
			}
			if !update.Sample.Valid() {
				s.logger.Warn("discarding invalid position sample", slog.String("source", s.source.Name()),
					slog.Float64("lat", update.Sample.Lat), slog.Float64("lon", update.Sample.Lon))
				continue
			}

			ev := geobus.Event{Kind: geobus.EventPosition, Sample: update.Sample.WithEpoch(epoch)}
			n := s.bus.Publish(ctx, ev)
			metrics.SamplesPublished.WithLabelValues(update.Sample.Source).Inc()
			s.logger.Debug("position sample published", slog.String("source", update.Sample.Source),
				slog.Float64("lat", update.Sample.Lat), slog.Float64("lon", update.Sample.Lon),
				slog.Uint64("epoch", epoch), slog.Int("deliveries", n))
		}
	}
}

// fail marks the subscription as ended by a source failure and notifies consumers. It does nothing if
// the subscription of the given epoch was already ended by Unsubscribe or Close.
func (s *Service) fail(epoch uint64, err error) {
	s.mu.Lock()
	if s.state != Subscribed || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	// The tracking goroutine is the one calling fail, so it closes done on return
	cancel, _ := s.detach()
	s.mu.Unlock()
	cancel()

	s.logger.Error("position source failed, tracking stopped", slog.String("source", s.source.Name()),
		logger.Err(err))
	metrics.SourceFailures.WithLabelValues(s.source.Name()).Inc()

	// Consumers must learn about the failure even though the subscription context is already gone
	s.bus.Publish(s.base, geobus.Event{
		Kind: geobus.EventSourceUnavailable,
		Err:  fmt.Errorf("%w: %w", ErrSourceUnavailable, err),
	})
}

// safeLookup invokes LookupStream on the source and recovers from panics in the provider.
func (s *Service) safeLookup(ctx context.Context) (stream <-chan position.Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			stream = nil
			err = fmt.Errorf("position source panicked: %v", r)
		}
	}()
	stream = s.source.LookupStream(ctx)
	if stream == nil {
		return nil, errors.New("position source returned no stream")
	}
	return stream, nil
}
