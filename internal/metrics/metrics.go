// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus collectors of geotrack. All collectors are registered with
// the default registry on package initialization and are served by the metrics endpoint of the app.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "geotrack"

const (
	LookupAddress    = "address"
	LookupPostalCode = "postal_code"

	OutcomeResolved = "resolved"
	OutcomeFailed   = "failed"
)

// SamplesPublished counts position samples published to the geobus, by source provider.
var SamplesPublished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_published_total",
		Help:      "Total number of position samples published to consumers.",
	},
	[]string{"source"},
)

// SourceFailures counts failed probes and terminal failures of position sources.
var SourceFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_failures_total",
		Help:      "Total number of position source failures.",
	},
	[]string{"source"},
)

// LookupResults counts completed enrichment lookups.
// Labels:
//   - lookup: "address" or "postal_code"
//   - outcome: "resolved" or "failed"
var LookupResults = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lookups_total",
		Help:      "Total number of enrichment lookups, by lookup and outcome.",
	},
	[]string{"lookup", "outcome"},
)

var LookupDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "lookup_duration_seconds",
		Help:      "Duration of enrichment lookups including time spent waiting for a free slot.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"lookup"},
)

// ActiveConnections tracks the number of live binding handles.
var ActiveConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "binding_connections",
		Help:      "Current number of connected binding handles.",
	},
)
