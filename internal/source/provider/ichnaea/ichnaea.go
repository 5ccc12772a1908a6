// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/geotrack/internal/http"
	"github.com/wneessen/geotrack/internal/job"
	"github.com/wneessen/geotrack/internal/position"
)

const (
	APIEndpoint   = "https://api.beacondb.net/v1/geolocate"
	lookupTimeout = time.Second * 5
	wifiScanTime  = time.Minute * 2
	name          = "ichnaea"
)

// Provider locates the device with an Ichnaea compatible geolocation API (beaconDB by default),
// using the wifi access points in range and the public IP address.
type Provider struct {
	name     string
	http     *http.Client
	wlan     accessPointLister
	endpoint string
	period   time.Duration
	locateFn position.LocateFunc

	apLock sync.RWMutex
	aps    []WirelessNetwork
}

// accessPointLister is the part of the wifi client the provider scans with.
type accessPointLister interface {
	Interfaces() ([]*wifi.Interface, error)
	AccessPoints(*wifi.Interface) ([]*wifi.BSS, error)
}

type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

// New returns an Ichnaea provider. Without wifi support on the system the provider falls back to
// IP based positioning.
func New(client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	provider := &Provider{
		name:     name,
		http:     client,
		endpoint: APIEndpoint,
		period:   time.Minute * 5,
	}
	if wlan, err := wifi.New(); err == nil {
		provider.wlan = wlan
	}
	provider.locateFn = provider.locate
	return provider, nil
}

func (p *Provider) Name() string {
	return p.name
}

// LookupStream queries the API every period. Access points are scanned once before the first query
// and then refreshed in the background.
func (p *Provider) LookupStream(ctx context.Context) <-chan position.Update {
	if p.wlan != nil {
		p.scanAccessPoints(ctx)
		go job.New(wifiScanTime, p.scanAccessPoints).Resume(ctx)
	}
	return position.Poll(ctx, p.period, p.locateFn)
}

func (p *Provider) scanAccessPoints(context.Context) {
	list, err := p.wifiAccessPoints()
	if err != nil {
		return
	}
	p.apLock.Lock()
	p.aps = list
	p.apLock.Unlock()
}

// wifiAccessPoints lists the access points seen by all station interfaces. Hidden networks and
// networks that opted out of mapping with the _nomap suffix are skipped.
func (p *Provider) wifiAccessPoints() ([]WirelessNetwork, error) {
	var list []WirelessNetwork

	ifaces, err := p.wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		aps, err := p.wlan.AccessPoints(iface)
		if err != nil {
			continue
		}
		for _, ap := range aps {
			if !mappable(ap.SSID) {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}

	return list, nil
}

func mappable(ssid string) bool {
	return ssid != "" && ssid[0] != '\x00' && !strings.HasSuffix(ssid, "_nomap")
}

func (p *Provider) locate(ctx context.Context) (position.Sample, error) {
	p.apLock.RLock()
	wifiList := p.aps
	p.apLock.RUnlock()

	type request struct {
		ConsiderIP   bool              `json:"considerIp"`
		Accesspoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
	}
	req := request{
		ConsiderIP:   true,
		Accesspoints: wifiList,
	}
	bodyBuffer := bytes.NewBuffer(nil)
	if err := json.NewEncoder(bodyBuffer).Encode(req); err != nil {
		return position.Sample{}, fmt.Errorf("failed to encode wifi list to JSON: %w", err)
	}

	result := new(APIResult)
	if _, err := p.http.PostWithTimeout(ctx, p.endpoint, result, bodyBuffer,
		nil, lookupTimeout); err != nil {
		return position.Sample{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}

	var acc *float64
	if result.Accuracy > 0 {
		acc = &result.Accuracy
	}
	return position.NewSample(position.Truncate(result.Location.Latitude, position.TruncPrecision),
		position.Truncate(result.Location.Longitude, position.TruncPrecision), time.Now(), acc, p.name), nil
}
