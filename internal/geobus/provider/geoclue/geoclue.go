// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoclue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/geoconv"
	"github.com/wneessen/geoconv/internal/geobus"
	"github.com/wneessen/geoconv/internal/logger"
)

const (
	name = "geoclue"

	dbusListNames    = "org.freedesktop.DBus.ListNames"
	geoclueService   = "org.freedesktop.GeoClue2"
	managerPath      = "/org/freedesktop/GeoClue2/Manager"
	managerGetClient = "org.freedesktop.GeoClue2.Manager.GetClient"
	clientIface      = "org.freedesktop.GeoClue2.Client"
	locationIface    = "org.freedesktop.GeoClue2.Location"

	// DesktopID identifies geoconv towards the GeoClue agent.
	DesktopID = "geoconv"

	// accuracyLevelExact is GCLUE_ACCURACY_LEVEL_EXACT.
	accuracyLevelExact uint32 = 8
)

var (
	ErrServiceUnavailable = errors.New("geoclue service is not available on the system bus")
	ErrNoLocation         = errors.New("geoclue has not determined a location yet")
)

// GeolocationGeoClueProvider reads the position from the GeoClue2 service over D-Bus.
type GeolocationGeoClueProvider struct {
	name     string
	logger   *logger.Logger
	period   time.Duration
	ttl      time.Duration
	locateFn func(ctx context.Context) (geobus.Coordinate, error)

	mu     sync.Mutex
	conn   *dbus.Conn
	client dbus.BusObject
}

func NewGeolocationGeoClueProvider(log *logger.Logger) *GeolocationGeoClueProvider {
	provider := &GeolocationGeoClueProvider{
		name:   name,
		logger: log,
		period: time.Second * 30,
		ttl:    time.Minute * 5,
	}
	provider.locateFn = provider.locate
	return provider
}

func (p *GeolocationGeoClueProvider) Name() string {
	return p.name
}

// LookupStream polls the GeoClue client's current location every p.period and emits changed
// positions. The GeoClue client is stopped and the bus connection closed when ctx is done.
func (p *GeolocationGeoClueProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		defer p.close()
		state := geobus.GeolocationState{}

		for {
			coord, err := p.locateFn(ctx)
			if err != nil {
				p.logger.Debug("failed to look up geoclue location", slog.String("provider", p.name),
					logger.Err(err))
			}
			if err == nil && state.HasChanged(coord) {
				state.Update(coord)
				select {
				case <-ctx.Done():
					return
				case out <- p.createResult(key, coord):
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.period):
			}
		}
	}()
	return out
}

func (p *GeolocationGeoClueProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
	return geobus.Result{
		Key:            key,
		Point:          coord.Point,
		AccuracyMeters: coord.Acc,
		Source:         p.name,
		At:             time.Now(),
		TTL:            p.ttl,
	}
}

// locate returns the current GeoClue location, starting a GeoClue client first if necessary.
func (p *GeolocationGeoClueProvider) locate(ctx context.Context) (geobus.Coordinate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		if err := p.connect(ctx); err != nil {
			return geobus.Coordinate{}, err
		}
	}

	variant, err := p.client.GetProperty(clientIface + ".Location")
	if err != nil {
		p.reset()
		return geobus.Coordinate{}, fmt.Errorf("failed to get geoclue location: %w", err)
	}
	path, ok := variant.Value().(dbus.ObjectPath)
	if !ok || path == "/" || !path.IsValid() {
		return geobus.Coordinate{}, ErrNoLocation
	}

	location := p.conn.Object(geoclueService, path)
	lat, err := floatProperty(location, "Latitude")
	if err != nil {
		return geobus.Coordinate{}, err
	}
	lon, err := floatProperty(location, "Longitude")
	if err != nil {
		return geobus.Coordinate{}, err
	}
	acc, err := floatProperty(location, "Accuracy")
	if err != nil {
		return geobus.Coordinate{}, err
	}
	return coordinate(lat, lon, acc), nil
}

// connect opens the system bus and registers and starts a GeoClue client.
func (p *GeolocationGeoClueProvider) connect(ctx context.Context) (err error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() {
		if err != nil {
			if closeErr := conn.Close(); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("failed to close system bus: %w", closeErr))
			}
		}
	}()

	var names []string
	if err = conn.BusObject().CallWithContext(ctx, dbusListNames, 0).Store(&names); err != nil {
		return fmt.Errorf("failed to call DBus ListNames: %w", err)
	}
	if !hasName(names, geoclueService) {
		return ErrServiceUnavailable
	}

	var clientPath dbus.ObjectPath
	manager := conn.Object(geoclueService, managerPath)
	if err = manager.CallWithContext(ctx, managerGetClient, 0).Store(&clientPath); err != nil {
		return fmt.Errorf("failed to get geoclue client: %w", err)
	}
	client := conn.Object(geoclueService, clientPath)
	if err = client.SetProperty(clientIface+".DesktopId", dbus.MakeVariant(DesktopID)); err != nil {
		return fmt.Errorf("failed to set desktop id: %w", err)
	}
	if err = client.SetProperty(clientIface+".RequestedAccuracyLevel",
		dbus.MakeVariant(accuracyLevelExact)); err != nil {
		return fmt.Errorf("failed to set requested accuracy level: %w", err)
	}
	if err = client.CallWithContext(ctx, clientIface+".Start", 0).Err; err != nil {
		return fmt.Errorf("failed to start geoclue client: %w", err)
	}

	p.conn = conn
	p.client = client
	return nil
}

func (p *GeolocationGeoClueProvider) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		_ = p.client.Call(clientIface+".Stop", 0).Err
	}
	p.reset()
}

// reset drops the connection so the next lookup reconnects. p.mu must be held.
func (p *GeolocationGeoClueProvider) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = nil
	p.client = nil
}

func floatProperty(obj dbus.BusObject, prop string) (float64, error) {
	variant, err := obj.GetProperty(locationIface + "." + prop)
	if err != nil {
		return 0, fmt.Errorf("failed to get geoclue location %s: %w", strings.ToLower(prop), err)
	}
	val, ok := variant.Value().(float64)
	if !ok {
		return 0, fmt.Errorf("unexpected type %s for geoclue location %s", variant.Signature(),
			strings.ToLower(prop))
	}
	return val, nil
}

func coordinate(lat, lon, acc float64) geobus.Coordinate {
	point := geoconv.NewGeoPoint(geobus.Truncate(lat, geobus.TruncPrecision),
		geobus.Truncate(lon, geobus.TruncPrecision))
	if acc <= 0 {
		acc = geobus.AccuracyUnknown
	}
	return geobus.Coordinate{Point: point, Acc: geobus.Truncate(acc, 2)}
}

func hasName(names []string, want string) bool {
	for _, n := range names {
		if strings.EqualFold(n, want) {
			return true
		}
	}
	return false
}
