// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package app wires the tracking service, the geobus, the enrichment pipeline and the console
// presenter into the geotrack console consumer.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vorlif/spreak"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/wneessen/geotrack/internal/binding"
	"github.com/wneessen/geotrack/internal/config"
	"github.com/wneessen/geotrack/internal/enrich"
	"github.com/wneessen/geotrack/internal/geobus"
	"github.com/wneessen/geotrack/internal/geocode"
	geocodeearth "github.com/wneessen/geotrack/internal/geocode/provider/geocode-earth"
	"github.com/wneessen/geotrack/internal/geocode/provider/opencage"
	nominatim "github.com/wneessen/geotrack/internal/geocode/provider/osm-nominatim"
	"github.com/wneessen/geotrack/internal/http"
	"github.com/wneessen/geotrack/internal/i18n"
	"github.com/wneessen/geotrack/internal/logger"
	"github.com/wneessen/geotrack/internal/position"
	"github.com/wneessen/geotrack/internal/postal"
	"github.com/wneessen/geotrack/internal/presenter"
	"github.com/wneessen/geotrack/internal/source"
	"github.com/wneessen/geotrack/internal/tracking"
)

const (
	GeocoderNominatim    = "nominatim"
	GeocoderOpenCage     = "opencage"
	GeocoderGeocodeEarth = "geocode-earth"

	consumerBuffer = 32
	statusJobName  = "status_output_job"
	metricsPath    = "/metrics"

	metricsReadHeaderTimeout = 5 * time.Second
	metricsShutdownTimeout   = 5 * time.Second
)

// ErrMissingAPIKey is returned if a geocoder that needs an API key is configured without one.
var ErrMissingAPIKey = errors.New("geocoder requires an API key")

// App is the console consumer. It connects to the tracking service, renders every position event
// and the asynchronous enrichment results, and toggles tracking on SIGUSR1.
type App struct {
	config    *config.Config
	logger    *logger.Logger
	bus       *geobus.GeoBus
	registry  *binding.Registry
	pipeline  *enrich.Pipeline
	presenter *presenter.Presenter
	scheduler gocron.Scheduler
	signals   signalSource

	outLock sync.Mutex
	out     io.Writer

	stateLock sync.RWMutex
	handle    *binding.Handle
	lastFix   time.Time
}

// Option overrides one of the collaborators App would otherwise build from the configuration.
type Option func(*options)

type options struct {
	source    position.Source
	geocoder  geocode.Geocoder
	postal    postal.Lookup
	localizer *spreak.Localizer
	output    io.Writer
}

// WithSource sets the position source instead of selecting the providers from the configuration.
func WithSource(src position.Source) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithGeocoder sets the reverse geocoder.
func WithGeocoder(coder geocode.Geocoder) Option {
	return func(o *options) {
		o.geocoder = coder
	}
}

// WithPostalLookup sets the postal code lookup.
func WithPostalLookup(lookup postal.Lookup) Option {
	return func(o *options) {
		o.postal = lookup
	}
}

// WithLocalizer sets the localizer of the console output instead of loading the catalog of the
// configured locale.
func WithLocalizer(localizer *spreak.Localizer) Option {
	return func(o *options) {
		o.localizer = localizer
	}
}

// WithOutput sets the writer the console lines are written to. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.output = w
	}
}

func New(conf *config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	if conf == nil {
		return nil, errors.New("app: config is required")
	}
	if log == nil {
		return nil, errors.New("app: logger is required")
	}
	o := options{output: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	var err error
	httpClient := http.New(log)
	lang := conf.Language()
	if o.source == nil {
		if o.source, err = source.New(conf, httpClient, log); err != nil {
			return nil, fmt.Errorf("failed to set up position source: %w", err)
		}
	}
	if o.geocoder == nil {
		if o.geocoder, err = newGeocoder(conf, httpClient, lang); err != nil {
			return nil, fmt.Errorf("failed to set up geocoder: %w", err)
		}
	}
	if o.postal == nil {
		o.postal = postal.New(httpClient, conf.Postal.Endpoint, lang)
	}
	if o.localizer == nil {
		if o.localizer, err = i18n.New(conf.Locale); err != nil {
			return nil, fmt.Errorf("failed to load translations: %w", err)
		}
	}

	bus, err := geobus.New(log)
	if err != nil {
		return nil, fmt.Errorf("failed to create geobus: %w", err)
	}
	pipeline, err := enrich.New(o.geocoder, o.postal,
		enrich.WithLookupTimeout(conf.Enrichment.LookupTimeout),
		enrich.WithMaxConcurrent(conf.Enrichment.MaxConcurrent),
		enrich.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create enrichment pipeline: %w", err)
	}
	pres, err := presenter.New(lang, o.localizer)
	if err != nil {
		return nil, fmt.Errorf("failed to create presenter: %w", err)
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	src := o.source
	factory := func(context.Context) (*tracking.Service, error) {
		return tracking.New(src, bus, log)
	}
	registry, err := binding.NewRegistry(factory, binding.ParsePolicy(conf.Binding.Policy), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create binding registry: %w", err)
	}

	return &App{
		config:    conf,
		logger:    log,
		bus:       bus,
		registry:  registry,
		pipeline:  pipeline,
		presenter: pres,
		scheduler: scheduler,
		signals:   stdLibSignalSource{},
		out:       o.output,
	}, nil
}

// Run connects to the tracking service, subscribes and renders events until ctx is cancelled. A
// source that is unavailable at startup is reported on the console; tracking can be retried with
// SIGUSR1.
func (a *App) Run(ctx context.Context) error {
	sub, unsub := a.bus.Subscribe(consumerBuffer)
	defer unsub()

	handle, err := a.registry.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to tracking service: %w", err)
	}
	a.setHandle(handle)
	defer func() {
		handle.Disconnect()
		a.registry.Close()
		a.pipeline.Wait()
	}()

	if err = a.createScheduledJob(ctx, a.config.Intervals.Status, a.printStatus, statusJobName); err != nil {
		return err
	}
	a.scheduler.Start()
	defer func() {
		if shutdownErr := a.scheduler.Shutdown(); shutdownErr != nil {
			a.logger.Error("failed to shut down scheduler", logger.Err(shutdownErr))
		}
	}()

	a.subscribe(ctx)

	sigChan := make(chan os.Signal, 1)
	a.signals.Notify(sigChan, syscall.SIGUSR1)
	defer a.signals.Stop(sigChan)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.consume(groupCtx, sub)
		return nil
	})
	group.Go(func() error {
		a.HandleToggleSignal(groupCtx, sigChan)
		return nil
	})
	if a.config.Metrics.Listen != "" {
		group.Go(func() error {
			return a.serveMetrics(groupCtx, a.config.Metrics.Listen)
		})
	}
	return group.Wait()
}

func (a *App) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := a.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// consume renders the events of the geobus handle until ctx is cancelled or the handle is closed.
// Lookups are handed to the pipeline, so this loop never blocks on the network.
func (a *App) consume(ctx context.Context, sub *geobus.Handle) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			a.handleEvent(ctx, ev)
		}
	}
}

func (a *App) handleEvent(ctx context.Context, ev geobus.Event) {
	switch ev.Kind {
	case geobus.EventPosition:
		a.stateLock.Lock()
		a.lastFix = ev.Sample.Timestamp
		a.stateLock.Unlock()
		a.print(a.presenter.Position(ev.Sample))
		a.pipeline.EnrichTo(ctx, ev.Sample, consoleSink{app: a})
	case geobus.EventSourceUnavailable:
		a.print(a.presenter.Unavailable(ev.Err))
	}
}

// subscribe subscribes the tracking service. An unavailable source is rendered, not returned.
func (a *App) subscribe(ctx context.Context) {
	handle := a.currentHandle()
	if handle == nil {
		return
	}
	if err := handle.Subscribe(ctx); err != nil {
		a.logger.Error("failed to subscribe to position updates", logger.Err(err))
		a.print(a.presenter.Unavailable(err))
	}
}

// toggle unsubscribes a subscribed service and subscribes an unsubscribed one.
func (a *App) toggle(ctx context.Context) {
	handle := a.currentHandle()
	if handle == nil {
		return
	}
	svc, err := handle.Service()
	if err != nil {
		a.logger.Error("failed to toggle tracking", logger.Err(err))
		return
	}
	if svc.State() == tracking.Subscribed {
		if err = handle.Unsubscribe(); err != nil {
			a.logger.Error("failed to unsubscribe from position updates", logger.Err(err))
		}
		a.printStatus(ctx)
		return
	}
	a.subscribe(ctx)
	a.printStatus(ctx)
}

// printStatus renders the current tracking state.
func (a *App) printStatus(context.Context) {
	view := presenter.StatusView{
		State:       tracking.Unsubscribed.String(),
		Connections: a.registry.Connections(),
	}
	if handle := a.currentHandle(); handle != nil {
		if svc, err := handle.Service(); err == nil {
			view.State = svc.State().String()
			view.Epoch = svc.Epoch()
		}
	}
	a.stateLock.RLock()
	view.LastFix = a.lastFix
	a.stateLock.RUnlock()
	a.print(a.presenter.Status(view))
}

// isCurrent reports whether the sample was produced under the current subscription epoch.
func (a *App) isCurrent(sample position.Sample) bool {
	handle := a.currentHandle()
	if handle == nil {
		return false
	}
	svc, err := handle.Service()
	if err != nil {
		return false
	}
	return svc.State() == tracking.Subscribed && svc.Epoch() == sample.Epoch
}

func (a *App) print(line string, err error) {
	if err != nil {
		a.logger.Error("failed to render output line", logger.Err(err))
		return
	}
	a.outLock.Lock()
	defer a.outLock.Unlock()
	if _, err = fmt.Fprintln(a.out, line); err != nil {
		a.logger.Error("failed to write output line", logger.Err(err))
	}
}

func (a *App) setHandle(h *binding.Handle) {
	a.stateLock.Lock()
	a.handle = h
	a.stateLock.Unlock()
}

func (a *App) currentHandle() *binding.Handle {
	a.stateLock.RLock()
	defer a.stateLock.RUnlock()
	return a.handle
}

// serveMetrics serves the Prometheus endpoint until ctx is cancelled.
func (a *App) serveMetrics(ctx context.Context, listen string) error {
	mux := stdhttp.NewServeMux()
	mux.Handle(metricsPath, promhttp.Handler())
	server := &stdhttp.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to shut down metrics endpoint", logger.Err(err))
		}
	})
	defer stop()

	a.logger.Info("serving metrics", slog.String("listen", listen), slog.String("path", metricsPath))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
		return fmt.Errorf("metrics endpoint failed: %w", err)
	}
	return nil
}

// consoleSink renders enrichment results that still belong to the current subscription.
type consoleSink struct {
	app *App
}

func (s consoleSink) OnAddressResolved(result enrich.AddressResult) {
	if !s.app.isCurrent(result.Sample) {
		s.app.logger.Debug("discarding stale address result", slog.Uint64("epoch", result.Sample.Epoch))
		return
	}
	s.app.print(s.app.presenter.Address(result))
}

func (s consoleSink) OnPostalCodeResolved(result enrich.PostalResult) {
	if !s.app.isCurrent(result.Sample) {
		s.app.logger.Debug("discarding stale postal code result", slog.Uint64("epoch", result.Sample.Epoch))
		return
	}
	s.app.print(s.app.presenter.PostalCode(result))
}

// newGeocoder returns the configured reverse geocoder wrapped in the in-memory lookup cache.
func newGeocoder(conf *config.Config, client *http.Client, lang language.Tag) (geocode.Geocoder, error) {
	var coder geocode.Geocoder
	switch conf.GeoCoder.Provider {
	case GeocoderOpenCage:
		if conf.GeoCoder.APIKey == "" {
			return nil, fmt.Errorf("%s: %w", GeocoderOpenCage, ErrMissingAPIKey)
		}
		coder = opencage.New(client, lang, conf.GeoCoder.APIKey)
	case GeocoderGeocodeEarth:
		if conf.GeoCoder.APIKey == "" {
			return nil, fmt.Errorf("%s: %w", GeocoderGeocodeEarth, ErrMissingAPIKey)
		}
		coder = geocodeearth.New(client, lang, conf.GeoCoder.APIKey)
	case GeocoderNominatim, "":
		coder = nominatim.New(client, lang)
		if conf.GeoCoder.Endpoint != "" {
			coder = nominatim.NewWithEndpoint(client, lang, conf.GeoCoder.Endpoint)
		}
	default:
		return nil, fmt.Errorf("unsupported geocoder provider: %q", conf.GeoCoder.Provider)
	}
	return geocode.Wrap(coder, conf.GeoCoder.CacheTTL, conf.GeoCoder.CacheMissTTL), nil
}
