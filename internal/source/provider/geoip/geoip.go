// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/geotrack/internal/http"
	"github.com/wneessen/geotrack/internal/position"
)

const (
	APIEndpoint   = "https://reallyfreegeoip.org/json/"
	LookupTimeout = time.Second * 5
	name          = "geoip"
)

var ErrNoLocation = errors.New("GeoIP API returned no location")

// Provider locates the device by the public IP address of its network.
type Provider struct {
	name     string
	http     *http.Client
	endpoint string
	period   time.Duration
	locateFn position.LocateFunc
}

type APIResult struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country_name"`
	RegionCode  string  `json:"region_code,omitempty"`
	Region      string  `json:"region_name,omitempty"`
	City        string  `json:"city,omitempty"`
	ZipCode     string  `json:"zip_code,omitempty"`
	TimeZone    string  `json:"time_zone"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	MetroCode   int     `json:"metro_code"`
}

func New(client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	provider := &Provider{
		name:     name,
		http:     client,
		endpoint: APIEndpoint,
		period:   time.Minute * 30,
	}
	provider.locateFn = provider.locate
	return provider, nil
}

func (p *Provider) Name() string {
	return p.name
}

// LookupStream queries the GeoIP API every period and emits the position whenever it changed.
func (p *Provider) LookupStream(ctx context.Context) <-chan position.Update {
	return position.Poll(ctx, p.period, p.locateFn)
}

func (p *Provider) locate(ctx context.Context) (position.Sample, error) {
	result := new(APIResult)
	if _, err := p.http.GetWithTimeout(ctx, p.endpoint, result, nil, nil, LookupTimeout); err != nil {
		return position.Sample{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}
	if result.CountryCode == "" && result.Latitude == 0 && result.Longitude == 0 {
		return position.Sample{}, ErrNoLocation
	}

	acc := position.AreaAccuracy(result.CountryCode != "", result.RegionCode != "", result.City != "",
		result.ZipCode != "")
	return position.NewSample(position.Truncate(result.Latitude, position.TruncPrecision),
		position.Truncate(result.Longitude, position.TruncPrecision), time.Now(), acc, p.name), nil
}
