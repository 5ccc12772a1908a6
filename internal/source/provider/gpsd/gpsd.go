// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/geotrack/internal/position"
)

const (
	DefaultHost  = "localhost"
	DefaultPort  = "2947"
	dialTimeout  = time.Second * 5
	probeTimeout = time.Second * 3
	name         = "gpsd"
)

// ErrConnectionLost is returned when gpsd hangs up on a watching session.
var ErrConnectionLost = errors.New("connection to gpsd lost")

// Provider streams fixes from a gpsd daemon. A lost connection to gpsd ends the stream with an
// error update; reconnecting is left to the caller.
type Provider struct {
	name string
	host string
	port string
}

// New returns a gpsd provider for the given host and port. Empty values select the gpsd defaults.
func New(host, port string) *Provider {
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	return &Provider{
		name: name,
		host: host,
		port: port,
	}
}

func (p *Provider) Name() string {
	return p.name
}

// Probe checks that gpsd is reachable and reports TPV data.
func (p *Provider) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	reported := make(chan struct{}, 1)
	lost, err := p.watch(ctx, func(*gpsd.TPVReport) {
		select {
		case reported <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}

	select {
	case <-reported:
		return nil
	case <-lost:
		select {
		case <-reported:
			return nil
		default:
		}
		return fmt.Errorf("%w: gpsd at %s: %w", position.ErrUnavailable, p.addr(), ErrConnectionLost)
	case <-ctx.Done():
		return fmt.Errorf("%w: no TPV report from gpsd at %s: %w", position.ErrUnavailable, p.addr(),
			ctx.Err())
	}
}

// LookupStream connects to gpsd and emits a sample for every TPV report with at least a 2D fix that
// differs from the previous one.
func (p *Provider) LookupStream(ctx context.Context) <-chan position.Update {
	out := make(chan position.Update)

	// The TPV filter runs on the go-gpsd reader goroutine, which may still deliver a buffered report
	// after the session is closed. mu and closed keep it from sending on out once the stream is closed.
	var mu sync.Mutex
	closed := false
	send := func(u position.Update) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case <-ctx.Done():
		case out <- u:
		}
	}

	go func() {
		defer func() {
			mu.Lock()
			closed = true
			close(out)
			mu.Unlock()
		}()

		var stateMu sync.Mutex
		state := position.State{}
		lost, err := p.watch(ctx, func(tpv *gpsd.TPVReport) {
			if tpv.Mode < gpsd.Mode2D {
				return
			}
			sample := p.sampleFromReport(tpv)

			stateMu.Lock()
			changed := state.HasChanged(sample)
			if changed {
				state.Update(sample)
			}
			stateMu.Unlock()
			if changed {
				send(position.Update{Sample: sample})
			}
		})
		if err != nil {
			send(position.Update{Err: err})
			return
		}

		select {
		case <-ctx.Done():
		case <-lost:
			send(position.Update{Err: fmt.Errorf("%w: %w", position.ErrUnavailable, ErrConnectionLost)})
		}
	}()

	return out
}

// watch opens a gpsd session and hands every TPV report to onTPV. The session is closed once ctx is
// done or gpsd hangs up; the returned channel is closed only in the latter case.
func (p *Provider) watch(ctx context.Context, onTPV func(*gpsd.TPVReport)) (<-chan struct{}, error) {
	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	session, err := gpsd.DialTimeout(p.addr(), timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to gpsd at %q: %w", position.ErrUnavailable, p.addr(), err)
	}
	session.AddFilter("TPV", func(r interface{}) {
		if tpv, ok := r.(*gpsd.TPVReport); ok {
			onTPV(tpv)
		}
	})

	done := session.Watch()
	lost := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
			// the reader sends on done once it sees the closed socket
			<-done
		case <-done:
			_ = session.Close()
			close(lost)
		}
	}()
	return lost, nil
}

func (p *Provider) addr() string {
	return net.JoinHostPort(p.host, p.port)
}

func (p *Provider) sampleFromReport(tpv *gpsd.TPVReport) position.Sample {
	var acc *float64
	if tpv.Epx > 0 && tpv.Epy > 0 {
		hypot := position.Truncate(math.Hypot(tpv.Epx, tpv.Epy), 2)
		acc = &hypot
	}
	return position.NewSample(position.Truncate(tpv.Lat, position.TruncPrecision),
		position.Truncate(tpv.Lon, position.TruncPrecision), time.Now(), acc, p.name)
}
