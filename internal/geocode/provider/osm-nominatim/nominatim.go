// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nominatim

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/geotrack/internal/geocode"
	"github.com/wneessen/geotrack/internal/http"
)

const (
	APIReverseEndpoint = "https://nominatim.openstreetmap.org/reverse"
	APITimeout         = time.Second * 10
	name               = "osm-nominatim"
)

type Nominatim struct {
	http     *http.Client
	lang     language.Tag
	endpoint string
}

// ReverseResult is the jsonv2 response of the Nominatim reverse endpoint. Error is set when
// Nominatim knows no place at the coordinates, e.g. on open water.
type ReverseResult struct {
	APILat      string  `json:"lat"`
	APILon      string  `json:"lon"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
	Error       string  `json:"error"`
}

type Address struct {
	HouseNumber   string `json:"house_number"`
	Road          string `json:"road"`
	Neighbourhood string `json:"neighbourhood"`
	Quarter       string `json:"quarter"`
	Suburb        string `json:"suburb"`
	Municipality  string `json:"municipality"`
	CityDistrict  string `json:"city_district"`
	City          string `json:"city"`
	Town          string `json:"town"`
	Village       string `json:"village"`
	State         string `json:"state"`
	Postcode      string `json:"postcode"`
	Country       string `json:"country"`
}

// New returns a Nominatim geocoder using the public OSM endpoint.
func New(client *http.Client, lang language.Tag) *Nominatim {
	return NewWithEndpoint(client, lang, APIReverseEndpoint)
}

// NewWithEndpoint returns a Nominatim geocoder for a self-hosted or mirrored reverse endpoint.
func NewWithEndpoint(client *http.Client, lang language.Tag, endpoint string) *Nominatim {
	return &Nominatim{
		lang:     lang,
		http:     client,
		endpoint: endpoint,
	}
}

func (n *Nominatim) Name() string {
	return name
}

func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (geocode.Address, error) {
	var result ReverseResult
	var err error

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("addressdetails", "1")
	query.Set("accept-language", n.lang.String())

	if _, err = n.http.GetWithTimeout(ctx, n.endpoint, &result, query, nil, APITimeout); err != nil {
		return geocode.Address{}, fmt.Errorf("failed to fetch reverse address details from Nominatim API: %w", err)
	}
	if result.Error != "" {
		return geocode.Address{Latitude: lat, Longitude: lon}, nil
	}

	address := geocode.Address{
		AddressFound:  true,
		DisplayName:   result.DisplayName,
		Country:       result.Address.Country,
		State:         result.Address.State,
		Municipality:  result.Address.Municipality,
		CityDistrict:  result.Address.CityDistrict,
		Neighbourhood: result.Address.Neighbourhood,
		Postcode:      result.Address.Postcode,
		City:          result.Address.City,
		Suburb:        result.Address.Suburb,
		Street:        result.Address.Road,
		HouseNumber:   result.Address.HouseNumber,
	}
	if address.Neighbourhood == "" {
		address.Neighbourhood = result.Address.Quarter
	}
	switch {
	case address.City != "":
	case result.Address.Town != "":
		address.City = result.Address.Town
	case result.Address.Village != "":
		address.City = result.Address.Village
	}

	address.Latitude, err = strconv.ParseFloat(result.APILat, 64)
	if err != nil {
		return geocode.Address{}, fmt.Errorf("failed to parse latitude from Nominatim API response: %w", err)
	}
	address.Longitude, err = strconv.ParseFloat(result.APILon, 64)
	if err != nil {
		return geocode.Address{}, fmt.Errorf("failed to parse longitude from Nominatim API response: %w", err)
	}

	return address, nil
}
