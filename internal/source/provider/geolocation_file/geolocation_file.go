// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geolocation_file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/geotrack/internal/position"
)

const (
	// Accuracy is reported for every sample read from the file. A position the user wrote down is
	// considered the most accurate data available.
	Accuracy = 5
	name     = "geolocation_file"
)

var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// Provider reads a "lat,lon" pair from a file and emits a sample whenever the coordinates in the file
// change. Empty lines and lines starting with # are ignored; the first valid line wins.
type Provider struct {
	name     string
	path     string
	period   time.Duration
	locateFn position.LocateFunc
}

// New returns a geolocation file provider for the file at path.
func New(path string) *Provider {
	provider := &Provider{
		name:   name,
		path:   path,
		period: time.Minute * 2,
	}
	provider.locateFn = provider.locate
	return provider
}

func (p *Provider) Name() string {
	return p.name
}

// Probe reports the provider as unavailable if the file holds no usable coordinates.
func (p *Provider) Probe(context.Context) error {
	if _, _, err := p.readFile(); err != nil {
		return fmt.Errorf("%w: %w", position.ErrUnavailable, err)
	}
	return nil
}

// LookupStream re-reads the file every period and emits changed coordinates. A missing or malformed
// file is not fatal; the provider keeps polling until the file becomes usable.
func (p *Provider) LookupStream(ctx context.Context) <-chan position.Update {
	return position.Poll(ctx, p.period, p.locateFn)
}

func (p *Provider) locate(context.Context) (position.Sample, error) {
	lat, lon, err := p.readFile()
	if err != nil {
		return position.Sample{}, err
	}
	acc := float64(Accuracy)
	return position.NewSample(lat, lon, time.Now(), &acc, p.name), nil
}

// readFile returns the first valid coordinate pair of the geolocation file.
func (p *Provider) readFile() (lat, lon float64, err error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read geolocation file %q: %w", p.path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		latStr, lonStr, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		if lat, err = strconv.ParseFloat(strings.TrimSpace(latStr), 64); err != nil {
			continue
		}
		if lon, err = strconv.ParseFloat(strings.TrimSpace(lonStr), 64); err != nil {
			continue
		}
		if !(position.Sample{Lat: lat, Lon: lon}).Valid() {
			continue
		}
		return lat, lon, nil
	}
	return 0, 0, ErrNoCoordinates
}
