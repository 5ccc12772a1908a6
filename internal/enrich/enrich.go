// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wneessen/geotrack/internal/geocode"
	"github.com/wneessen/geotrack/internal/logger"
	"github.com/wneessen/geotrack/internal/metrics"
	"github.com/wneessen/geotrack/internal/position"
	"github.com/wneessen/geotrack/internal/postal"
)

const (
	// DefaultLookupTimeout bounds a single lookup including the wait for a free lookup slot.
	DefaultLookupTimeout = 10 * time.Second
	// DefaultMaxConcurrent is the default number of lookups that may run at the same time.
	DefaultMaxConcurrent = 4

	ReasonAddressUnavailable = "address unavailable"
	ReasonAddressNotFound    = "address not found"
	ReasonPostalUnavailable  = "postal code unavailable"

	NeighbourhoodNotFound = "neighbourhood not found"
	CityNotFound          = "city not found"
)

// LookupFailed describes why a single enrichment lookup did not produce a value. It is a value, not
// an error: failed lookups never abort the enrichment of a sample.
type LookupFailed struct {
	Reason string
}

func (l LookupFailed) String() string {
	return l.Reason
}

// AddressResult is the outcome of the reverse geocoding lookup for a sample. Exactly one of Text and
// Failed is set.
type AddressResult struct {
	Sample position.Sample
	Text   string
	Failed *LookupFailed
	// Address is the resolved address Text was formatted from.
	Address geocode.Address
}

// PostalResult is the outcome of the postal code lookup for a sample. Exactly one of Code and Failed
// is set.
type PostalResult struct {
	Sample position.Sample
	Code   string
	Failed *LookupFailed
}

// Result joins both lookups of a sample.
type Result struct {
	Sample     position.Sample
	Address    AddressResult
	PostalCode PostalResult
}

// String returns the address text or the failure reason.
func (r AddressResult) String() string {
	if r.Failed != nil {
		return r.Failed.Reason
	}
	return r.Text
}

// String returns the postal code or the failure reason.
func (r PostalResult) String() string {
	if r.Failed != nil {
		return r.Failed.Reason
	}
	return r.Code
}

// Sink receives the two independent completions of an enrichment. The methods are called from the
// lookup goroutines and must not block for long.
type Sink interface {
	OnAddressResolved(AddressResult)
	OnPostalCodeResolved(PostalResult)
}

// Pending holds the two one-shot result channels of a sample. Each channel receives exactly one
// value and is never closed.
type Pending struct {
	sample  position.Sample
	address chan AddressResult
	postal  chan PostalResult
}

// Sample returns the sample that is being enriched.
func (p *Pending) Sample() position.Sample {
	return p.sample
}

// Address returns the channel that receives the address result.
func (p *Pending) Address() <-chan AddressResult {
	return p.address
}

// PostalCode returns the channel that receives the postal code result.
func (p *Pending) PostalCode() <-chan PostalResult {
	return p.postal
}

// Wait blocks until both lookups completed and returns the joined result. It must not be combined
// with reading from Address or PostalCode.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	result := Result{Sample: p.sample}
	for range 2 {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case addr := <-p.address:
			result.Address = addr
		case code := <-p.postal:
			result.PostalCode = code
		}
	}
	return result, nil
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLookupTimeout sets the upper bound for a single lookup. Non-positive values are ignored.
func WithLookupTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithMaxConcurrent limits the number of lookups running at the same time. Non-positive values are
// ignored.
func WithMaxConcurrent(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxConcurrent = n
		}
	}
}

// WithLogger sets the logger of the Pipeline.
func WithLogger(log *logger.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.logger = log
		}
	}
}

// Pipeline enriches position samples with an address and a postal code. Both lookups run in their
// own goroutine, so the caller never blocks on the network.
type Pipeline struct {
	geocoder geocode.Geocoder
	postal   postal.Lookup
	logger   *logger.Logger

	timeout       time.Duration
	maxConcurrent int
	sem           *semaphore.Weighted
	wg            sync.WaitGroup
}

// New returns a new enrichment Pipeline.
func New(geocoder geocode.Geocoder, lookup postal.Lookup, opts ...Option) (*Pipeline, error) {
	if geocoder == nil {
		return nil, errors.New("enrich: geocoder is required")
	}
	if lookup == nil {
		return nil, errors.New("enrich: postal code lookup is required")
	}

	p := &Pipeline{
		geocoder:      geocoder,
		postal:        lookup,
		logger:        logger.NewLogger(slog.LevelError, io.Discard),
		timeout:       DefaultLookupTimeout,
		maxConcurrent: DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sem = semaphore.NewWeighted(int64(p.maxConcurrent))
	return p, nil
}

// Enrich schedules both lookups for the sample and returns immediately.
func (p *Pipeline) Enrich(ctx context.Context, sample position.Sample) *Pending {
	return p.EnrichTo(ctx, sample, nil)
}

// EnrichTo works like Enrich and additionally reports each completion to sink, if not nil.
// Cancelling ctx fails the lookups that are still running.
func (p *Pipeline) EnrichTo(ctx context.Context, sample position.Sample, sink Sink) *Pending {
	pending := &Pending{
		sample:  sample,
		address: make(chan AddressResult, 1),
		postal:  make(chan PostalResult, 1),
	}

	p.wg.Go(func() {
		res := p.resolveAddress(ctx, sample)
		pending.address <- res
		if sink != nil {
			sink.OnAddressResolved(res)
		}
	})
	p.wg.Go(func() {
		res := p.resolvePostalCode(ctx, sample)
		pending.postal <- res
		if sink != nil {
			sink.OnPostalCodeResolved(res)
		}
	})

	return pending
}

// Wait blocks until all scheduled lookups have completed.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) resolveAddress(ctx context.Context, sample position.Sample) AddressResult {
	result := AddressResult{Sample: sample}
	addr, err := lookup(ctx, p, metrics.LookupAddress, func(ctx context.Context) (geocode.Address, error) {
		return p.geocoder.Reverse(ctx, sample.Lat, sample.Lon)
	})
	switch {
	case err != nil:
		p.logger.Debug("address lookup failed", slog.String("geocoder", p.geocoder.Name()),
			slog.Float64("lat", sample.Lat), slog.Float64("lon", sample.Lon), logger.Err(err))
		result.Failed = &LookupFailed{Reason: ReasonAddressUnavailable}
	case !addr.AddressFound:
		result.Failed = &LookupFailed{Reason: ReasonAddressNotFound}
	default:
		result.Text = FormatAddress(addr)
		result.Address = addr
	}
	observe(metrics.LookupAddress, result.Failed)
	return result
}

func (p *Pipeline) resolvePostalCode(ctx context.Context, sample position.Sample) PostalResult {
	result := PostalResult{Sample: sample}
	code, err := lookup(ctx, p, metrics.LookupPostalCode, func(ctx context.Context) (string, error) {
		return p.postal.PostalCode(ctx, sample.Lat, sample.Lon)
	})
	if err != nil {
		p.logger.Debug("postal code lookup failed", slog.String("lookup", p.postal.Name()),
			slog.Float64("lat", sample.Lat), slog.Float64("lon", sample.Lon), logger.Err(err))
		result.Failed = &LookupFailed{Reason: ReasonPostalUnavailable}
	} else {
		result.Code = code
	}
	observe(metrics.LookupPostalCode, result.Failed)
	return result
}

// lookup runs fn bounded by the lookup timeout and the concurrency limit of p. Panics in fn are
// returned as errors. A fn that ignores ctx keeps running in the background after the timeout and
// holds its slot until it returns; its result is discarded.
func lookup[T any](ctx context.Context, p *Pipeline, kind string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	defer func() {
		metrics.LookupDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, fmt.Errorf("no free %s lookup slot: %w", kind, err)
	}

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%s lookup panicked: %v", kind, r)}
			}
		}()
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		return zero, fmt.Errorf("%s lookup: %w", kind, ctx.Err())
	}
}

// FormatAddress renders an address as "<neighbourhood>, <city>". Missing parts are replaced with a
// fixed placeholder.
func FormatAddress(addr geocode.Address) string {
	return FormatLocalizedAddress(addr, func(s string) string { return s })
}

// FormatLocalizedAddress is FormatAddress with the placeholders passed through localize.
func FormatLocalizedAddress(addr geocode.Address, localize func(string) string) string {
	locality := addr.Locality()
	if locality == "" {
		locality = localize(NeighbourhoodNotFound)
	}
	city := addr.City
	if city == "" {
		city = localize(CityNotFound)
	}
	return locality + ", " + city
}

func observe(kind string, failed *LookupFailed) {
	outcome := metrics.OutcomeResolved
	if failed != nil {
		outcome = metrics.OutcomeFailed
	}
	metrics.LookupResults.WithLabelValues(kind, outcome).Inc()
}
