// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geolocation_file

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wneessen/geoconv"
	"github.com/wneessen/geoconv/internal/geobus"
)

const (
	name = "geolocation_file"

	// Accuracy is reported for file positions. A position entered by the user is considered
	// more accurate than any other source.
	Accuracy = 5
)

var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// GeolocationFileProvider periodically reads a fixed position from a file. The first line in
// "lat,lon" form is used, lines starting with # are comments.
type GeolocationFileProvider struct {
	name     string
	path     string
	period   time.Duration
	ttl      time.Duration
	locateFn func() (geoconv.GeoPoint, error)
}

func NewGeolocationFileProvider(path string) *GeolocationFileProvider {
	provider := &GeolocationFileProvider{
		name:   name,
		path:   path,
		period: time.Minute * 2,
		ttl:    time.Hour * 1,
	}
	provider.locateFn = provider.readFile
	return provider
}

func (p *GeolocationFileProvider) Name() string {
	return p.name
}

// LookupStream reads the file on start and every p.period and emits the position whenever it
// changed.
func (p *GeolocationFileProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		state := geobus.GeolocationState{}
		firstRun := true

		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.period):
				}
			}
			firstRun = false

			point, err := p.locateFn()
			if err != nil {
				continue
			}
			coord := geobus.Coordinate{Point: point, Acc: Accuracy}
			if !state.HasChanged(coord) {
				continue
			}
			state.Update(coord)

			select {
			case <-ctx.Done():
				return
			case out <- p.createResult(key, coord):
			}
		}
	}()
	return out
}

func (p *GeolocationFileProvider) createResult(key string, coord geobus.Coordinate) geobus.Result {
	return geobus.Result{
		Key:            key,
		Point:          coord.Point,
		AccuracyMeters: coord.Acc,
		Source:         p.name,
		At:             time.Now(),
		TTL:            p.ttl,
	}
}

func (p *GeolocationFileProvider) readFile() (geoconv.GeoPoint, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return geoconv.GeoPoint{}, fmt.Errorf("failed to read geolocation file %q: %w", p.path, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		point, err := geoconv.ParseGeoPoint(line)
		if err != nil || !point.Valid() {
			continue
		}
		return point, nil
	}
	return geoconv.GeoPoint{}, ErrNoCoordinates
}
