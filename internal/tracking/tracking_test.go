// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/geotrack/internal/geobus"
	"github.com/wneessen/geotrack/internal/logger"
	"github.com/wneessen/geotrack/internal/position"
)

type fakeSource struct {
	feed     chan position.Update
	probeErr error
	panics   bool
	closeOn  bool
	started  atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{feed: make(chan position.Update, 10)}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) LookupStream(ctx context.Context) <-chan position.Update {
	if f.panics {
		panic("provider exploded")
	}
	f.started.Add(1)
	out := make(chan position.Update)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-f.feed:
				if !ok {
					return
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

type probingSource struct {
	*fakeSource
}

func (p probingSource) Probe(context.Context) error {
	return p.probeErr
}

func sample(lat, lon float64) position.Update {
	return position.Update{Sample: position.NewSample(lat, lon, time.Now(), nil, "fake")}
}

func testService(t *testing.T, src position.Source) (*Service, *geobus.GeoBus) {
	t.Helper()
	log := logger.NewLogger(slog.LevelDebug, io.Discard)
	bus, err := geobus.New(log)
	if err != nil {
		t.Fatalf("failed to create geobus: %s", err)
	}
	svc, err := New(src, bus, log)
	if err != nil {
		t.Fatalf("failed to create tracking service: %s", err)
	}
	t.Cleanup(svc.Close)
	return svc, bus
}

func TestNew(t *testing.T) {
	log := logger.NewLogger(slog.LevelDebug, io.Discard)
	bus, err := geobus.New(log)
	if err != nil {
		t.Fatalf("failed to create geobus: %s", err)
	}
	t.Run("missing source fails", func(t *testing.T) {
		if _, err = New(nil, bus, log); err == nil {
			t.Error("expected service creation to fail")
		}
	})
	t.Run("missing bus fails", func(t *testing.T) {
		if _, err = New(newFakeSource(), nil, log); err == nil {
			t.Error("expected service creation to fail")
		}
	})
	t.Run("missing logger fails", func(t *testing.T) {
		if _, err = New(newFakeSource(), bus, nil); err == nil {
			t.Error("expected service creation to fail")
		}
	})
	t.Run("new service starts unsubscribed", func(t *testing.T) {
		svc, err := New(newFakeSource(), bus, log)
		if err != nil {
			t.Fatalf("failed to create tracking service: %s", err)
		}
		defer svc.Close()
		if svc.State() != Unsubscribed {
			t.Errorf("expected state to be %s, got %s", Unsubscribed, svc.State())
		}
	})
}

func TestService_SubscriptionState(t *testing.T) {
	tests := []struct {
		name    string
		calls   []bool // true = subscribe, false = unsubscribe
		want    SubscriptionState
		started int32
	}{
		{"no calls", nil, Unsubscribed, 0},
		{"subscribe", []bool{true}, Subscribed, 1},
		{"duplicate subscribe", []bool{true, true, true}, Subscribed, 1},
		{"unsubscribe only", []bool{false, false}, Unsubscribed, 0},
		{"subscribe then unsubscribe", []bool{true, false}, Unsubscribed, 1},
		{"duplicate unsubscribe", []bool{true, false, false}, Unsubscribed, 1},
		{"resubscribe", []bool{true, false, true}, Subscribed, 2},
		{"mixed duplicates", []bool{true, true, false, false, true, true}, Subscribed, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				src := newFakeSource()
				svc, _ := testService(t, src)
				for _, sub := range tc.calls {
					if sub {
						if err := svc.Subscribe(t.Context()); err != nil {
							t.Fatalf("failed to subscribe: %s", err)
						}
						continue
					}
					svc.Unsubscribe()
				}
				if svc.State() != tc.want {
					t.Errorf("expected state to be %s, got %s", tc.want, svc.State())
				}
				if got := src.started.Load(); got != tc.started {
					t.Errorf("expected source to be started %d times, got %d", tc.started, got)
				}
				svc.Close()
			})
		})
	}
}

func TestService_Publish(t *testing.T) {
	t.Run("samples are published in source order with the current epoch", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			src := newFakeSource()
			svc, bus := testService(t, src)
			h, unsub := bus.Subscribe(10)
			defer unsub()

			if err := svc.Subscribe(t.Context()); err != nil {
				t.Fatalf("failed to subscribe: %s", err)
			}
			for i := 1; i <= 3; i++ {
				src.feed <- sample(float64(i), float64(i))
			}
			synctest.Wait()

			for i := 1; i <= 3; i++ {
				ev := <-h.C()
				if ev.Kind != geobus.EventPosition {
					t.Fatalf("expected event kind to be %s, got %s", geobus.EventPosition, ev.Kind)
				}
				if ev.Sample.Lat != float64(i) {
					t.Errorf("expected latitude %d, got %f", i, ev.Sample.Lat)
				}
				if ev.Sample.Epoch != svc.Epoch() {
					t.Errorf("expected epoch %d, got %d", svc.Epoch(), ev.Sample.Epoch)
				}
			}
			svc.Close()
		})
	})
	t.Run("invalid samples are discarded", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			src := newFakeSource()
			svc, bus := testService(t, src)
			h, unsub := bus.Subscribe(10)
			defer unsub()

			if err := svc.Subscribe(t.Context()); err != nil {
				t.Fatalf("failed to subscribe: %s", err)
			}
			src.feed <- sample(123, 456)
			src.feed <- sample(1, 2)
			synctest.Wait()

			if len(h.C()) != 1 {
				t.Fatalf("expected 1 event, got %d", len(h.C()))
			}
			if ev := <-h.C(); ev.Sample.Lat != 1 {
				t.Errorf("expected latitude 1, got %f", ev.Sample.Lat)
			}
			svc.Close()
		})
	})
	t.Run("no samples are published after unsubscribe returns", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			src := newFakeSource()
			svc, bus := testService(t, src)
			h, unsub := bus.Subscribe(10)
			defer unsub()

			if err := svc.Subscribe(t.Context()); err != nil {
				t.Fatalf("failed to subscribe: %s", err)
			}
			src.feed <- sample(1, 1)
			synctest.Wait()
			svc.Unsubscribe()

			src.feed <- sample(2, 2)
			synctest.Wait()
			if len(h.C()) != 1 {
				t.Errorf("expected exactly 1 event, got %d", len(h.C()))
			}
			svc.Close()
		})
	})
	t.Run("epoch changes across subscriptions", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			svc, _ := testService(t, newFakeSource())
			if err := svc.Subscribe(t.Context()); err != nil {
				t.Fatalf("failed to subscribe: %s", err)
			}
			first := svc.Epoch()
			svc.Unsubscribe()
			if err := svc.Subscribe(t.Context()); err != nil {
				t.Fatalf("failed to subscribe: %s", err)
			}
			if svc.Epoch() <= first {
				t.Errorf("expected epoch to grow beyond %d, got %d", first, svc.Epoch())
			}
			svc.Close()
		})
	})
}

func TestService_SourceUnavailable(t *testing.T) {
	expectUnavailable := func(t *testing.T, svc *Service, h *geobus.Handle) geobus.Event {
		t.Helper()
		synctest.Wait()
		if len(h.C()) != 1 {
			t.Fatalf("expected 1 event, got %d", len(h.C()))
		}
		ev := <-h.C()
		if ev.Kind != geobus.EventSourceUnavailable {
			t.Errorf("expected event kind to be %s, got %s", geobus.EventSourceUnavailable, ev.Kind)
		}
		if !errors.Is(ev.Err, ErrSourceUnavailable) {
			t.Errorf("expected error to be %s, got %v", ErrSourceUnavailable, ev.Err)
		}
		if svc.State() != Unsubscribed {
			t.Errorf("expected state to be %s, got %s", Unsubscribed, svc.State())
		}
		return ev
	}

	t.Run("source error stops tracking", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			src := newFakeSource()
			svc, bus := testService(t, src)
			h, unsub := bus.Subscribe(10)
			defer unsub()

			if err := svc.Subscribe(t.Context()); err != nil {
				t.Fatalf("failed to subscribe: %s", err)
			}
			src.feed <- position.Update{Err: position.ErrUnavailable}
			ev := expectUnavailable(t, svc, h)
			if !errors.Is(ev.Err, position.ErrUnavailable) {
				t.Errorf("expected error to wrap %s, got %v", position.ErrUnavailable, ev.Err)
			}

			// no automatic retry
			src.feed <- sample(1, 1)
			synctest.Wait()
			if len(h.C()) != 0 {
				t.Errorf("expected no events after source failure, got %d", len(h.C()))
			}
			if src.started.Load() != 1 {
				t.Errorf("expected source to be started once, got %d", src.started.Load())
			}
			svc.Close()
		})
	})
	t.Run("closed stream stops tracking", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			src := newFakeSource()
			svc, bus := testService(t, src)
			h, unsub := bus.Subscribe(10)
			defer unsub()

			if err := svc.Subscribe(t.Context()); err != nil {
				t.Fatalf("failed to subscribe: %s", err)
			}
			close(src.feed)
			expectUnavailable(t, svc, h)
			svc.Close()
		})
	})
	t.Run("panicking source is recovered", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			src := newFakeSource()
			src.panics = true
			svc, bus := testService(t, src)
			h, unsub := bus.Subscribe(10)
			defer unsub()

			if err := svc.Subscribe(t.Context()); err != nil {
				t.Fatalf("failed to subscribe: %s", err)
			}
			expectUnavailable(t, svc, h)
			svc.Close()
		})
	})
	t.Run("failing probe is returned synchronously", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			src := newFakeSource()
			src.probeErr = errors.New("permission denied")
			svc, bus := testService(t, probingSource{src})
			h, unsub := bus.Subscribe(10)
			defer unsub()

			err := svc.Subscribe(t.Context())
			if !errors.Is(err, ErrSourceUnavailable) {
				t.Errorf("expected error to be %s, got %v", ErrSourceUnavailable, err)
			}
			if svc.State() != Unsubscribed {
				t.Errorf("expected state to be %s, got %s", Unsubscribed, svc.State())
			}
			if src.started.Load() != 0 {
				t.Errorf("expected source not to be started, got %d", src.started.Load())
			}
			synctest.Wait()
			if len(h.C()) != 0 {
				t.Errorf("expected no events, got %d", len(h.C()))
			}
			svc.Close()
		})
	})
	t.Run("subscribing again after a failure starts a new subscription", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			src := newFakeSource()
			svc, bus := testService(t, src)
			h, unsub := bus.Subscribe(10)
			defer unsub()

			if err := svc.Subscribe(t.Context()); err != nil {
				t.Fatalf("failed to subscribe: %s", err)
			}
			src.feed <- position.Update{Err: position.ErrUnavailable}
			expectUnavailable(t, svc, h)

			if err := svc.Subscribe(t.Context()); err != nil {
				t.Fatalf("failed to subscribe: %s", err)
			}
			src.feed <- sample(1, 1)
			synctest.Wait()
			if len(h.C()) != 1 {
				t.Errorf("expected 1 event, got %d", len(h.C()))
			}
			if svc.State() != Subscribed {
				t.Errorf("expected state to be %s, got %s", Subscribed, svc.State())
			}
			svc.Close()
		})
	})
}

func TestService_Close(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		svc, _ := testService(t, newFakeSource())
		if err := svc.Subscribe(t.Context()); err != nil {
			t.Fatalf("failed to subscribe: %s", err)
		}
		svc.Close()
		svc.Close()
		if svc.State() != Unsubscribed {
			t.Errorf("expected state to be %s, got %s", Unsubscribed, svc.State())
		}
		if err := svc.Subscribe(t.Context()); !errors.Is(err, ErrServiceClosed) {
			t.Errorf("expected error to be %s, got %v", ErrServiceClosed, err)
		}
	})
}
