// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package postal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/geotrack/internal/http"
)

const (
	APIEndpoint = "https://nominatim.openstreetmap.org/reverse"
	APITimeout  = time.Second * 10
	name        = "nominatim-postcode"
)

// ErrPostcodeMissing is returned when the lookup service answered but the response carries no
// postal code.
var ErrPostcodeMissing = errors.New("postal code missing in response")

// Lookup resolves coordinates into a postal code.
type Lookup interface {
	Name() string
	PostalCode(ctx context.Context, lat, lon float64) (string, error)
}

// Nominatim looks up postal codes through a Nominatim compatible reverse geocoding endpoint.
type Nominatim struct {
	http     *http.Client
	endpoint string
	lang     language.Tag
}

type Result struct {
	Address *Address `json:"address,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type Address struct {
	Postcode string `json:"postcode"`
}

// New returns a new Nominatim postal code lookup. An empty endpoint selects the public OSM instance.
func New(client *http.Client, endpoint string, lang language.Tag) *Nominatim {
	if endpoint == "" {
		endpoint = APIEndpoint
	}
	return &Nominatim{
		http:     client,
		endpoint: endpoint,
		lang:     lang,
	}
}

func (n *Nominatim) Name() string {
	return name
}

// PostalCode performs a reverse lookup for the given coordinates and extracts address.postcode from
// the response. A response without postal code yields ErrPostcodeMissing.
func (n *Nominatim) PostalCode(ctx context.Context, lat, lon float64) (string, error) {
	var result Result

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("zoom", "18")
	query.Set("addressdetails", "1")
	query.Set("accept-language", n.lang.String())

	if _, err := n.http.GetWithTimeout(ctx, n.endpoint, &result, query, nil, APITimeout); err != nil {
		return "", fmt.Errorf("failed to fetch postal code from reverse geocoding API: %w", err)
	}
	if result.Address == nil {
		return "", ErrPostcodeMissing
	}
	code := strings.TrimSpace(result.Address.Postcode)
	if code == "" {
		return "", ErrPostcodeMissing
	}

	return code, nil
}
