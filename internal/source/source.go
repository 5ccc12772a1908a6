// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package source

import (
	"fmt"
	"log/slog"

	"github.com/wneessen/geotrack/internal/config"
	"github.com/wneessen/geotrack/internal/http"
	"github.com/wneessen/geotrack/internal/logger"
	"github.com/wneessen/geotrack/internal/position"
	"github.com/wneessen/geotrack/internal/source/provider/geoapi"
	"github.com/wneessen/geotrack/internal/source/provider/geoclue"
	"github.com/wneessen/geotrack/internal/source/provider/geoip"
	"github.com/wneessen/geotrack/internal/source/provider/geolocation_file"
	"github.com/wneessen/geotrack/internal/source/provider/gpsd"
	"github.com/wneessen/geotrack/internal/source/provider/ichnaea"
)

// Providers returns the position providers enabled in the configuration, ordered from the most to
// the least precise.
func Providers(conf *config.Config, client *http.Client, log *logger.Logger) ([]position.Source, error) {
	var providers []position.Source

	if !conf.Source.DisableGeolocationFile {
		providers = append(providers, geolocation_file.New(conf.Source.File))
	}
	if !conf.Source.DisableGPSD {
		providers = append(providers, gpsd.New(conf.Source.GPSDHost, conf.Source.GPSDPort))
	}
	if !conf.Source.DisableGeoclue {
		providers = append(providers, geoclue.New())
	}
	if !conf.Source.DisableICHNAEA {
		mls, err := ichnaea.New(client)
		if err != nil {
			log.Error("failed to create ICHNAEA provider", logger.Err(err))
		} else {
			providers = append(providers, mls)
		}
	}
	if !conf.Source.DisableGeoIP {
		gip, err := geoip.New(client)
		if err != nil {
			return nil, fmt.Errorf("failed to create GeoIP provider: %w", err)
		}
		providers = append(providers, gip)
	}
	if !conf.Source.DisableGeoAPI {
		gap, err := geoapi.New(client)
		if err != nil {
			return nil, fmt.Errorf("failed to create GeoAPI provider: %w", err)
		}
		providers = append(providers, gap)
	}
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	return providers, nil
}

// New returns the position source for the configuration. A single enabled provider is used as is,
// several providers are merged into a Fused source.
func New(conf *config.Config, client *http.Client, log *logger.Logger) (position.Source, error) {
	providers, err := Providers(conf, client, log)
	if err != nil {
		return nil, err
	}
	if len(providers) == 1 {
		log.Debug("using single position provider", slog.String("provider", providers[0].Name()))
		return providers[0], nil
	}

	fused, err := NewFused(log, conf.Source.MaxAge, providers...)
	if err != nil {
		return nil, fmt.Errorf("failed to create fused position source: %w", err)
	}
	log.Debug("using fused position source", slog.Any("providers", fused.Providers()))
	return fused, nil
}
