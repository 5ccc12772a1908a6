// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoip

import (
	"context"
	"errors"
	"io"
	"log/slog"
	stdhttp "net/http"
	"os"
	"strings"
	"testing"
	"testing/synctest"

	"github.com/wneessen/geotrack/internal/http"
	"github.com/wneessen/geotrack/internal/logger"
	"github.com/wneessen/geotrack/internal/position"
	"github.com/wneessen/geotrack/internal/testhelper"
)

const (
	testFile = "../../../../testdata/geoip.json"
	testLat  = -23.5475
	testLon  = -46.63611
)

func TestNew(t *testing.T) {
	t.Run("new GeoIP provider succeeds", func(t *testing.T) {
		provider, err := New(http.New(logger.NewLogger(slog.LevelDebug, io.Discard)))
		if err != nil {
			t.Fatalf("failed to create GeoIP provider: %s", err)
		}
		if !strings.EqualFold(provider.Name(), name) {
			t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
		}
	})
	t.Run("GeoIP without http client fails", func(t *testing.T) {
		if _, err := New(nil); err == nil {
			t.Fatal("expected provider creation to fail")
		}
	})
}

func TestProvider_locate(t *testing.T) {
	t.Run("locate succeeds with different accuracies", func(t *testing.T) {
		tests := []struct {
			name string
			body string
			acc  float64
		}{
			{
				"zip code known",
				`{"country_code":"BR","region_code":"SP","city":"São Paulo","zip_code":"01000-000","latitude":-23.5475,"longitude":-46.63611}`,
				position.AccuracyZip,
			},
			{
				"city known",
				`{"country_code":"BR","region_code":"SP","city":"São Paulo","latitude":-23.5475,"longitude":-46.63611}`,
				position.AccuracyCity,
			},
			{
				"region known",
				`{"country_code":"BR","region_code":"SP","latitude":-23.5475,"longitude":-46.63611}`,
				position.AccuracyRegion,
			},
			{
				"country known",
				`{"country_code":"BR","latitude":-23.5475,"longitude":-46.63611}`,
				position.AccuracyCountry,
			},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				provider := testProvider(t, testhelper.JSONResponse(stdhttp.StatusOK, tc.body))
				sample, err := provider.locate(t.Context())
				if err != nil {
					t.Fatalf("failed to locate: %s", err)
				}
				if sample.Lat != testLat || sample.Lon != testLon {
					t.Errorf("expected %f,%f, got %f,%f", testLat, testLon, sample.Lat, sample.Lon)
				}
				if acc, ok := sample.Accuracy.Get(); !ok || acc != tc.acc {
					t.Errorf("expected accuracy to be %f, got %s", tc.acc, sample.Accuracy)
				}
			})
		}
	})
	t.Run("locate without any location fails", func(t *testing.T) {
		provider := testProvider(t, testhelper.JSONResponse(stdhttp.StatusOK, `{"ip":"203.0.113.17"}`))
		if _, err := provider.locate(t.Context()); !errors.Is(err, ErrNoLocation) {
			t.Errorf("expected error to be %s, got %v", ErrNoLocation, err)
		}
	})
	t.Run("locate fails on server errors", func(t *testing.T) {
		provider := testProvider(t, testhelper.JSONResponse(stdhttp.StatusTooManyRequests, `{}`))
		if _, err := provider.locate(t.Context()); !errors.Is(err, http.ErrUnexpectedStatus) {
			t.Errorf("expected error to be %s, got %v", http.ErrUnexpectedStatus, err)
		}
	})
	t.Run("locate fails with broken JSON", func(t *testing.T) {
		provider := testProvider(t, testhelper.JSONResponse(stdhttp.StatusOK, "NOT_JSON"))
		if _, err := provider.locate(t.Context()); err == nil {
			t.Fatal("expected locate to fail")
		}
	})
}

func TestProvider_LookupStream(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		provider := testProvider(t, func(*stdhttp.Request) (*stdhttp.Response, error) {
			data, err := os.Open(testFile)
			if err != nil {
				t.Fatalf("failed to open JSON response file: %s", err)
			}
			return &stdhttp.Response{StatusCode: 200, Body: data, Header: make(stdhttp.Header)}, nil
		})
		update := <-provider.LookupStream(ctx)
		if update.Err != nil {
			t.Fatalf("unexpected error update: %s", update.Err)
		}
		if update.Sample.Lat != testLat || update.Sample.Lon != testLon {
			t.Errorf("expected %f,%f, got %f,%f", testLat, testLon, update.Sample.Lat, update.Sample.Lon)
		}
		if update.Sample.Source != provider.Name() {
			t.Errorf("expected source to be %s, got %s", provider.Name(), update.Sample.Source)
		}
	})
}

func TestProvider_locate_integration(t *testing.T) {
	testhelper.PerformIntegrationTests(t)
	provider, err := New(http.New(logger.NewLogger(slog.LevelDebug, io.Discard)))
	if err != nil {
		t.Fatalf("failed to create GeoIP provider: %s", err)
	}
	sample, err := provider.locate(t.Context())
	if err != nil {
		t.Fatalf("failed to locate: %s", err)
	}
	if !sample.Valid() {
		t.Errorf("expected a valid sample, got %f,%f", sample.Lat, sample.Lon)
	}
}

func testProvider(t *testing.T, fn func(*stdhttp.Request) (*stdhttp.Response, error)) *Provider {
	t.Helper()
	client := http.New(logger.NewLogger(slog.LevelDebug, io.Discard))
	client.Transport = testhelper.MockRoundTripper{Fn: fn}
	provider, err := New(client)
	if err != nil {
		t.Fatalf("failed to create GeoIP provider: %s", err)
	}
	return provider
}
