// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package opencage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/geotrack/internal/geocode"
	"github.com/wneessen/geotrack/internal/http"
)

const (
	APIEndpoint = "https://api.opencagedata.com/geocode/v1/json"
	APITimeout  = time.Second * 10
	name        = "opencage"
)

// OpenCage is a reverse geocoder backed by the OpenCage geocoding API. It requires an API key.
type OpenCage struct {
	apikey string
	http   *http.Client
	lang   language.Tag
}

type Response struct {
	Results      []Result `json:"results"`
	TotalResults int      `json:"total_results"`
}

type Result struct {
	Components  Components `json:"components"`
	DisplayName string     `json:"formatted"`
	Geometry    Geometry   `json:"geometry"`
}

type Components struct {
	NormalizedCity string `json:"_normalized_city"`
	City           string `json:"city"`
	CityDistrict   string `json:"city_district"`
	Continent      string `json:"continent"`
	Country        string `json:"country"`
	CountryCode    string `json:"country_code"`
	HouseNumber    string `json:"house_number"`
	PoliticalUnion string `json:"political_union"`
	Municipality   string `json:"municipality"`
	Neighbourhood  string `json:"neighbourhood"`
	Quarter        string `json:"quarter"`
	Postcode       string `json:"postcode"`
	Road           string `json:"road"`
	State          string `json:"state"`
	StateCode      string `json:"state_code"`
	Suburb         string `json:"suburb"`
	Town           string `json:"town"`
	Village        string `json:"village"`
}

type Geometry struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lng"`
}

func New(client *http.Client, lang language.Tag, apikey string) *OpenCage {
	return &OpenCage{
		apikey: apikey,
		lang:   lang,
		http:   client,
	}
}

func (o *OpenCage) Name() string {
	return name
}

func (o *OpenCage) Reverse(ctx context.Context, lat, lon float64) (geocode.Address, error) {
	var response Response

	query := url.Values{}
	query.Set("key", o.apikey)
	query.Set("q", fmt.Sprintf("%f,%f", lat, lon))
	query.Set("no_annotations", "1")
	query.Set("no_record", "1")
	query.Set("language", o.lang.String())

	if _, err := o.http.GetWithTimeout(ctx, APIEndpoint, &response, query, nil, APITimeout); err != nil {
		return geocode.Address{}, fmt.Errorf("failed to retrieve address details from OpenCage API: %w", err)
	}
	if response.TotalResults == 0 || len(response.Results) == 0 {
		return geocode.Address{Latitude: lat, Longitude: lon}, nil
	}

	// OpenCage sorts results by relevance, the first one is the best match
	best := response.Results[0]
	result := best.Components
	address := geocode.Address{
		AddressFound:  true,
		Latitude:      best.Geometry.Lat,
		Longitude:     best.Geometry.Lon,
		DisplayName:   best.DisplayName,
		Country:       result.Country,
		State:         result.State,
		Municipality:  result.Municipality,
		CityDistrict:  result.CityDistrict,
		Neighbourhood: result.Neighbourhood,
		Postcode:      result.Postcode,
		City:          result.NormalizedCity,
		Suburb:        result.Suburb,
		Street:        result.Road,
		HouseNumber:   result.HouseNumber,
	}
	if address.Neighbourhood == "" {
		address.Neighbourhood = result.Quarter
	}
	switch {
	case address.City != "":
	case result.City != "":
		address.City = result.City
	case result.Town != "":
		address.City = result.Town
	case result.Village != "":
		address.City = result.Village
	}

	return address, nil
}
