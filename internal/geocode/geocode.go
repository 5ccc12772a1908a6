// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import "context"

// Address is the structured place data returned by a reverse geocoder. AddressFound is false if the
// geocoder answered but knows no place at the requested coordinates.
type Address struct {
	AddressFound  bool
	CacheHit      bool
	Latitude      float64
	Longitude     float64
	DisplayName   string
	Country       string
	State         string
	Municipality  string
	CityDistrict  string
	Neighbourhood string
	Postcode      string
	City          string
	Suburb        string
	Street        string
	HouseNumber   string
}

// Geocoder resolves coordinates into an Address.
type Geocoder interface {
	Name() string
	Reverse(ctx context.Context, lat, lon float64) (Address, error)
}

// Locality returns the most specific sub-city area of the address, or an empty string if the
// geocoder did not report one.
func (a Address) Locality() string {
	switch {
	case a.Neighbourhood != "":
		return a.Neighbourhood
	case a.Suburb != "":
		return a.Suburb
	default:
		return a.CityDistrict
	}
}
