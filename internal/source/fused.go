// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/geotrack/internal/logger"
	"github.com/wneessen/geotrack/internal/metrics"
	"github.com/wneessen/geotrack/internal/position"
)

const (
	fusedName       = "fused"
	accuracyEpsilon = 1.0
	DefaultMaxAge   = time.Hour
)

var ErrNoProviders = errors.New("no position providers enabled")

// Fused merges the streams of several providers into a single source. It keeps the best known fix
// and only emits a sample if it replaces that fix: a fix from another provider has to be more accurate
// and significantly different, a fix from the same provider has to move significantly. The best fix
// expires after maxAge, after which any new fix replaces it.
type Fused struct {
	providers []position.Source
	maxAge    time.Duration
	logger    *logger.Logger
}

type providerUpdate struct {
	provider string
	update   position.Update
}

func NewFused(log *logger.Logger, maxAge time.Duration, providers ...position.Source) (*Fused, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Fused{
		providers: providers,
		maxAge:    maxAge,
		logger:    log,
	}, nil
}

func (f *Fused) Name() string {
	return fusedName
}

// Providers returns the names of the merged providers.
func (f *Fused) Providers() []string {
	names := make([]string, 0, len(f.providers))
	for _, p := range f.providers {
		names = append(names, p.Name())
	}
	return names
}

// Probe succeeds if at least one provider is able to deliver positions. Providers that cannot be
// probed are assumed to be available.
func (f *Fused) Probe(ctx context.Context) error {
	var errs []error
	for _, p := range f.providers {
		prober, ok := p.(position.Prober)
		if !ok {
			return nil
		}
		err := prober.Probe(ctx)
		if err == nil {
			return nil
		}
		f.logger.Debug("position provider failed probe", slog.String("provider", p.Name()),
			logger.Err(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return fmt.Errorf("%w: %w", position.ErrUnavailable, errors.Join(errs...))
}

// LookupStream starts all providers and emits the fixes that replace the best known one. A provider
// that fails is dropped; once every provider has failed, the stream ends with an error update.
func (f *Fused) LookupStream(ctx context.Context) <-chan position.Update {
	out := make(chan position.Update)
	merged := make(chan providerUpdate)

	var wg sync.WaitGroup
	for _, p := range f.providers {
		wg.Go(func() {
			forward := func(u position.Update) bool {
				select {
				case <-ctx.Done():
					return false
				case merged <- providerUpdate{provider: p.Name(), update: u}:
					return true
				}
			}

			stream, err := safeLookup(ctx, p)
			if err != nil {
				forward(position.Update{Err: err})
				return
			}
			for u := range stream {
				if !forward(u) || u.Err != nil {
					return
				}
			}
			if ctx.Err() == nil {
				forward(position.Update{Err: errors.New("provider stream closed")})
			}
		})
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	go func() {
		defer close(out)
		var best position.Sample
		var have bool
		var errs []error

		for pu := range merged {
			if pu.update.Err != nil {
				f.logger.Warn("position provider failed", slog.String("provider", pu.provider),
					logger.Err(pu.update.Err))
				metrics.SourceFailures.WithLabelValues(pu.provider).Inc()
				errs = append(errs, fmt.Errorf("%s: %w", pu.provider, pu.update.Err))
				continue
			}

			sample := pu.update.Sample
			if !sample.Valid() {
				continue
			}
			if !f.replaces(best, have, sample) {
				if have && sample.Source == best.Source && sample.Timestamp.After(best.Timestamp) {
					best.Timestamp = sample.Timestamp
				}
				continue
			}
			best, have = sample, true
			f.logger.Debug("new best position fix", slog.String("provider", sample.Source),
				slog.Float64("lat", sample.Lat), slog.Float64("lon", sample.Lon),
				slog.String("accuracy", sample.Accuracy.String()))

			select {
			case <-ctx.Done():
			case out <- position.Update{Sample: sample}:
			}
		}

		if ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case out <- position.Update{Err: fmt.Errorf("%w: all position providers failed: %w",
				position.ErrUnavailable, errors.Join(errs...))}:
			}
		}
	}()

	return out
}

// replaces reports whether candidate should replace the best known fix.
func (f *Fused) replaces(best position.Sample, have bool, candidate position.Sample) bool {
	switch {
	case !have:
		return true
	case time.Since(best.Timestamp) > f.maxAge:
		return true
	case candidate.Timestamp.Before(best.Timestamp):
		return false
	case candidate.Source == best.Source:
		return candidate.HasSignificantChange(best)
	default:
		return moreAccurate(candidate, best) && candidate.HasSignificantChange(best)
	}
}

func moreAccurate(candidate, prev position.Sample) bool {
	acc, ok := candidate.Accuracy.Get()
	if !ok {
		return false
	}
	prevAcc, prevOK := prev.Accuracy.Get()
	if !prevOK {
		return true
	}
	return acc < prevAcc-accuracyEpsilon
}

// safeLookup starts the provider and recovers from panics in its LookupStream.
func safeLookup(ctx context.Context, p position.Source) (stream <-chan position.Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			stream, err = nil, fmt.Errorf("position provider panicked: %v", r)
		}
	}()
	stream = p.LookupStream(ctx)
	if stream == nil {
		return nil, errors.New("position provider returned no stream")
	}
	return stream, nil
}
