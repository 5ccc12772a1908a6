// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoclue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/geotrack/internal/position"
)

const (
	DBusListNamesAddress = "org.freedesktop.DBus.ListNames"
	GeoclueAgentDBusName = "org.freedesktop.GeoClue2.DemoAgent"
	DesktopID            = "geotrack"

	geoclueService   = "org.freedesktop.GeoClue2"
	managerPath      = "/org/freedesktop/GeoClue2/Manager"
	managerIface     = "org.freedesktop.GeoClue2.Manager"
	clientIface      = "org.freedesktop.GeoClue2.Client"
	locationIface    = "org.freedesktop.GeoClue2.Location"
	locationUpdated  = "LocationUpdated"
	signalBufferSize = 10
	name             = "geoclue"
)

// GeoClue2 accuracy levels as defined by the GClueAccuracyLevel enum.
const (
	AccuracyLevelNone         uint32 = 0
	AccuracyLevelCountry      uint32 = 1
	AccuracyLevelCity         uint32 = 4
	AccuracyLevelNeighborhood uint32 = 5
	AccuracyLevelStreet       uint32 = 6
	AccuracyLevelExact        uint32 = 8
)

var ErrAgentNotRunning = errors.New("no GeoClue agent is running on the session bus")

// Provider streams location updates from the GeoClue2 service on the system bus. GeoClue only hands
// out positions if an agent on the session bus authorizes the application.
type Provider struct {
	name  string
	level uint32
}

func New() *Provider {
	return &Provider{
		name:  name,
		level: AccuracyLevelExact,
	}
}

func (p *Provider) Name() string {
	return p.name
}

// Probe checks that a GeoClue agent is running and able to authorize location requests.
func (p *Provider) Probe(ctx context.Context) error {
	running, err := agentIsRunning(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", position.ErrUnavailable, err)
	}
	if !running {
		return fmt.Errorf("%w: %w", position.ErrUnavailable, ErrAgentNotRunning)
	}
	return nil
}

// LookupStream registers a GeoClue client, starts it and emits a sample for every LocationUpdated
// signal. The client is stopped once ctx is cancelled.
func (p *Provider) LookupStream(ctx context.Context) <-chan position.Update {
	out := make(chan position.Update)
	go func() {
		defer close(out)
		send := func(u position.Update) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- u:
				return true
			}
		}

		conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
		if err != nil {
			send(position.Update{Err: fmt.Errorf("%w: failed to connect to system bus: %w",
				position.ErrUnavailable, err)})
			return
		}
		defer func() { _ = conn.Close() }()

		client, err := p.startClient(ctx, conn)
		if err != nil {
			send(position.Update{Err: fmt.Errorf("%w: %w", position.ErrUnavailable, err)})
			return
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Second*2)
			defer cancel()
			_ = client.CallWithContext(stopCtx, clientIface+".Stop", 0).Err
		}()

		signals := make(chan *dbus.Signal, signalBufferSize)
		conn.Signal(signals)
		defer conn.RemoveSignal(signals)

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					send(position.Update{Err: fmt.Errorf("%w: system bus connection closed",
						position.ErrUnavailable)})
					return
				}
				if sig.Path != client.Path() || sig.Name != clientIface+"."+locationUpdated {
					continue
				}
				path, err := newLocationPath(sig)
				if err != nil {
					continue
				}
				sample, err := p.readLocation(ctx, conn.Object(geoclueService, path))
				if err != nil {
					continue
				}
				if !send(position.Update{Sample: sample}) {
					return
				}
			}
		}
	}()
	return out
}

// startClient asks the manager for a client object, configures it and starts location updates.
func (p *Provider) startClient(ctx context.Context, conn *dbus.Conn) (dbus.BusObject, error) {
	var path dbus.ObjectPath
	manager := conn.Object(geoclueService, managerPath)
	if err := manager.CallWithContext(ctx, managerIface+".GetClient", 0).Store(&path); err != nil {
		return nil, fmt.Errorf("failed to get geoclue client: %w", err)
	}
	client := conn.Object(geoclueService, path)
	if err := client.SetProperty(clientIface+".DesktopId", dbus.MakeVariant(DesktopID)); err != nil {
		return nil, fmt.Errorf("failed to set desktop id: %w", err)
	}
	if err := client.SetProperty(clientIface+".RequestedAccuracyLevel", dbus.MakeVariant(p.level)); err != nil {
		return nil, fmt.Errorf("failed to set requested accuracy level: %w", err)
	}
	if err := conn.AddMatchSignalContext(ctx, dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(clientIface), dbus.WithMatchMember(locationUpdated)); err != nil {
		return nil, fmt.Errorf("failed to subscribe to location updates: %w", err)
	}
	if err := client.CallWithContext(ctx, clientIface+".Start", 0).Err; err != nil {
		return nil, fmt.Errorf("failed to start geoclue client: %w", err)
	}
	return client, nil
}

// readLocation reads the properties of a GeoClue location object.
func (p *Provider) readLocation(ctx context.Context, location dbus.BusObject) (position.Sample, error) {
	props := make(map[string]dbus.Variant)
	if err := location.CallWithContext(ctx, "org.freedesktop.DBus.Properties.GetAll", 0,
		locationIface).Store(&props); err != nil {
		return position.Sample{}, fmt.Errorf("failed to read geoclue location: %w", err)
	}
	return sampleFromProperties(props, p.name)
}

// newLocationPath returns the object path of the new location carried by a LocationUpdated signal.
func newLocationPath(sig *dbus.Signal) (dbus.ObjectPath, error) {
	if len(sig.Body) != 2 {
		return "", fmt.Errorf("unexpected LocationUpdated signal body of length %d", len(sig.Body))
	}
	path, ok := sig.Body[1].(dbus.ObjectPath)
	if !ok || !path.IsValid() {
		return "", fmt.Errorf("invalid location path in LocationUpdated signal: %v", sig.Body[1])
	}
	return path, nil
}

func sampleFromProperties(props map[string]dbus.Variant, source string) (position.Sample, error) {
	lat, err := floatProperty(props, "Latitude")
	if err != nil {
		return position.Sample{}, err
	}
	lon, err := floatProperty(props, "Longitude")
	if err != nil {
		return position.Sample{}, err
	}

	var acc *float64
	if accuracy, err := floatProperty(props, "Accuracy"); err == nil && accuracy > 0 {
		acc = &accuracy
	}

	// Timestamp is a (seconds, microseconds) struct
	var ts time.Time
	if v, ok := props["Timestamp"]; ok {
		if fields, ok := v.Value().([]interface{}); ok && len(fields) == 2 {
			sec, secOK := fields[0].(uint64)
			usec, usecOK := fields[1].(uint64)
			if secOK && usecOK {
				ts = time.Unix(int64(sec), int64(usec)*int64(time.Microsecond))
			}
		}
	}

	return position.NewSample(position.Truncate(lat, position.TruncPrecision),
		position.Truncate(lon, position.TruncPrecision), ts, acc, source), nil
}

func floatProperty(props map[string]dbus.Variant, key string) (float64, error) {
	v, ok := props[key]
	if !ok {
		return 0, fmt.Errorf("geoclue location has no %s property", key)
	}
	f, ok := v.Value().(float64)
	if !ok {
		return 0, fmt.Errorf("geoclue location property %s is of type %s, not double", key, v.Signature())
	}
	return f, nil
}

// agentIsRunning looks for the GeoClue demo agent on the session bus.
func agentIsRunning(ctx context.Context) (isRunning bool, err error) {
	var list []string
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close session bus: %w", closeErr))
		}
	}()

	if err = conn.BusObject().CallWithContext(ctx, DBusListNamesAddress, 0).Store(&list); err != nil {
		return false, fmt.Errorf("failed to call DBus ListNames: %w", err)
	}
	return hasAgent(list), nil
}

func hasAgent(names []string) bool {
	for _, v := range names {
		if strings.EqualFold(v, GeoclueAgentDBusName) {
			return true
		}
	}
	return false
}
