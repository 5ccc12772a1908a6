// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package position

import (
	"math"
	"time"

	"github.com/wneessen/geotrack/internal/vartype"
)

const (
	EarthRadius       = 6371000.0 // meters
	DistanceThreshold = 10.0      // meters
	AccuracyThreshold = 50.0      // meters
	TruncPrecision    = 6
)

// Accuracy radii in meters for sources that only know the area a position lies in.
const (
	AccuracyCountry = 300000
	AccuracyRegion  = 100000
	AccuracyCity    = 15000
	AccuracyZip     = 3000
)

// Sample is a single observation of the device position. Samples are passed by value; every stage
// downstream of the producing provider works on its own copy.
type Sample struct {
	Lat       float64
	Lon       float64
	Timestamp time.Time
	Accuracy  vartype.VarFloat64

	// Source names the provider that produced the sample.
	Source string
	// Epoch is the subscription epoch of the tracking service that published the sample. It is zero
	// until the sample is published.
	Epoch uint64
}

// NewSample returns a Sample for the given values. A nil acc results in an unknown accuracy. A zero
// timestamp is replaced with the current time.
func NewSample(lat, lon float64, ts time.Time, acc *float64, source string) Sample {
	if ts.IsZero() {
		ts = time.Now()
	}
	return Sample{
		Lat:       lat,
		Lon:       lon,
		Timestamp: ts,
		Accuracy:  vartype.FromPointer(acc),
		Source:    source,
	}
}

// WithEpoch returns a copy of the sample tagged with the given subscription epoch.
func (s Sample) WithEpoch(epoch uint64) Sample {
	s.Epoch = epoch
	return s
}

// Valid checks if the coordinate is valid according to the EPSG:4326 bounds.
func (s Sample) Valid() bool {
	if math.IsNaN(s.Lat) || math.IsNaN(s.Lon) {
		return false
	}
	return s.Lat >= -90 && s.Lat <= 90 && s.Lon >= -180 && s.Lon <= 180
}

// Equal reports whether both samples describe the same observation.
func (s Sample) Equal(other Sample) bool {
	return s.Lat == other.Lat && s.Lon == other.Lon && s.Timestamp.Equal(other.Timestamp) &&
		s.Accuracy == other.Accuracy && s.Source == other.Source && s.Epoch == other.Epoch
}

// HasSignificantChange checks if the position differs significantly from another sample. A clearly
// better accuracy always counts as a significant change, otherwise the great-circle distance has to
// exceed the DistanceThreshold.
func (s Sample) HasSignificantChange(other Sample) bool {
	acc, accOK := s.Accuracy.Get()
	otherAcc, otherOK := other.Accuracy.Get()
	if accOK && otherOK && acc < otherAcc && math.Abs(acc-otherAcc) > AccuracyThreshold {
		return true
	}
	if accOK && !otherOK {
		return true
	}
	return Distance(s.Lat, s.Lon, other.Lat, other.Lon) > DistanceThreshold
}

// Distance returns the great-circle distance in meters between two points using the Haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}

// Truncate cuts x to the given number of decimal places.
func Truncate(x float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Trunc(x*p) / p
}

// AreaAccuracy returns the accuracy radius for a position that is only known to lie in an area. The
// smallest known area wins. Nil is returned if not even the country is known.
func AreaAccuracy(country, region, city, zip bool) *float64 {
	var acc float64
	switch {
	case zip:
		acc = AccuracyZip
	case city:
		acc = AccuracyCity
	case region:
		acc = AccuracyRegion
	case country:
		acc = AccuracyCountry
	default:
		return nil
	}
	return &acc
}
