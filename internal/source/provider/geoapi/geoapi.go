// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/wneessen/geotrack/internal/http"
	"github.com/wneessen/geotrack/internal/position"
)

const (
	APIEndpoint   = "https://geoapi.info/api/geo"
	lookupTimeout = time.Second * 5
	name          = "geoapi"
)

// Provider locates the device by its public IP address using geoapi.info.
type Provider struct {
	name     string
	http     *http.Client
	endpoint string
	period   time.Duration
	locateFn position.LocateFunc
}

type APIResult struct {
	IP       string `json:"ip"`
	Location struct {
		CountryCode string `json:"country,omitempty"`
		Country     string `json:"countryName,omitempty"`
		Region      string `json:"region,omitempty"`
		City        string `json:"city,omitempty"`
		ZipCode     string `json:"postalCode,omitempty"`
		TimeZone    string `json:"timezone"`
		Coordinates struct {
			Latitude  string `json:"latitude"`
			Longitude string `json:"longitude"`
		} `json:"coordinates"`
	} `json:"location"`
}

func New(client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	provider := &Provider{
		name:     name,
		http:     client,
		endpoint: APIEndpoint,
		period:   time.Minute * 10,
	}
	provider.locateFn = provider.locate
	return provider, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) LookupStream(ctx context.Context) <-chan position.Update {
	return position.Poll(ctx, p.period, p.locateFn)
}

func (p *Provider) locate(ctx context.Context) (position.Sample, error) {
	result := new(APIResult)
	if _, err := p.http.GetWithTimeout(ctx, p.endpoint, result, nil, nil, lookupTimeout); err != nil {
		return position.Sample{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}

	loc := result.Location
	lat, err := strconv.ParseFloat(loc.Coordinates.Latitude, 64)
	if err != nil {
		return position.Sample{}, fmt.Errorf("failed to parse latitude from API response: %w", err)
	}
	lon, err := strconv.ParseFloat(loc.Coordinates.Longitude, 64)
	if err != nil {
		return position.Sample{}, fmt.Errorf("failed to parse longitude from API response: %w", err)
	}
	acc := position.AreaAccuracy(loc.CountryCode != "", loc.Region != "", loc.City != "", loc.ZipCode != "")

	return position.NewSample(position.Truncate(lat, position.TruncPrecision),
		position.Truncate(lon, position.TruncPrecision), time.Now(), acc, p.name), nil
}
