// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/geoconv"
	"github.com/wneessen/geoconv/internal/geobus"
	"github.com/wneessen/geoconv/internal/logger"
)

const (
	name                  = "gpsd"
	fallbackAccuracy3DFix = 10 // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25
)

// GeolocationGPSDProvider streams position fixes from a gpsd daemon.
type GeolocationGPSDProvider struct {
	name   string
	addr   string
	logger *logger.Logger
	period time.Duration
	ttl    time.Duration
}

func NewGeolocationGPSDProvider(addr string, log *logger.Logger) *GeolocationGPSDProvider {
	return &GeolocationGPSDProvider{
		name:   name,
		addr:   addr,
		logger: log,
		period: time.Second * 30,
		ttl:    time.Minute * 2,
	}
}

func (p *GeolocationGPSDProvider) Name() string {
	return p.name
}

// LookupStream watches gpsd for TPV reports and emits a result for every fix that moved. The
// connection is re-established after p.period if gpsd is unreachable or the watch ends.
func (p *GeolocationGPSDProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)

	// Filters run on the go-gpsd watch goroutine and may still fire after ctx is done, so
	// every send is checked against closed under mu.
	var (
		mu     sync.Mutex
		closed bool
	)
	send := func(r geobus.Result) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case <-ctx.Done():
		case out <- r:
		}
	}

	go func() {
		defer func() {
			mu.Lock()
			closed = true
			close(out)
			mu.Unlock()
		}()
		state := geobus.GeolocationState{}

		for {
			if ctx.Err() != nil {
				return
			}

			session, err := gpsd.Dial(p.addr)
			if err != nil {
				p.logger.Debug("failed to connect to gpsd", slog.String("addr", p.addr), logger.Err(err))
				if !p.wait(ctx) {
					return
				}
				continue
			}

			session.AddFilter("TPV", func(r interface{}) {
				tpv, ok := r.(*gpsd.TPVReport)
				if !ok {
					return
				}
				coord, ok := coordinateFromTPV(tpv)
				if !ok || !state.HasChanged(coord) {
					return
				}
				state.Update(coord)
				send(p.createResult(key, coord))
			})

			done := session.Watch()
			select {
			case <-ctx.Done():
				p.closeSession(session, done)
				return
			case <-done:
				p.closeSession(session, nil)
			}
			if !p.wait(ctx) {
				return
			}
		}
	}()

	return out
}

// closeSession closes the gpsd connection. If the watch is still running, done is drained so
// the watch goroutine can exit.
func (p *GeolocationGPSDProvider) closeSession(session *gpsd.Session, done <-chan bool) {
	if err := session.Close(); err != nil {
		p.logger.Debug("failed to close gpsd session", logger.Err(err))
	}
	if done != nil {
		go func() { <-done }()
	}
}

func (p *GeolocationGPSDProvider) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.period):
		return true
	}
}

// createResult composes and returns a Result using provided geolocation data and metadata.
func (p *GeolocationGPSDProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
	return geobus.Result{
		Key:            key,
		Point:          coord.Point,
		AccuracyMeters: coord.Acc,
		Source:         p.name,
		At:             time.Now(),
		TTL:            p.ttl,
	}
}

// coordinateFromTPV converts a TPV report into a coordinate. Reports without at least a 2D fix
// are rejected. The accuracy is the horizontal error from epx/epy, or a typical value for the
// fix mode if gpsd does not report one.
func coordinateFromTPV(tpv *gpsd.TPVReport) (geobus.Coordinate, bool) {
	if tpv == nil || tpv.Mode < gpsd.Mode2D {
		return geobus.Coordinate{}, false
	}

	acc := math.Hypot(tpv.Epx, tpv.Epy)
	if acc == 0 || math.IsNaN(acc) {
		acc = fallbackAccuracy2DFix
		if tpv.Mode >= gpsd.Mode3D {
			acc = fallbackAccuracy3DFix
		}
	}

	point := geoconv.NewGeoPoint(geobus.Truncate(tpv.Lat, geobus.TruncPrecision),
		geobus.Truncate(tpv.Lon, geobus.TruncPrecision))
	return geobus.Coordinate{Point: point, Acc: geobus.Truncate(acc, 2)}, true
}
