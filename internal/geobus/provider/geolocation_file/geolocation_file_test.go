// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geolocation_file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/geoconv"
)

const (
	testFile = "../../../../testdata/geolocation"
	testLat  = 40.7185
	testLon  = -74.0025
)

func TestNewGeolocationFileProvider(t *testing.T) {
	provider := NewGeolocationFileProvider(testFile)
	if provider == nil {
		t.Fatal("expected provider to be non-nil")
	}
	if provider.Name() != name {
		t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
	}
}

func TestGeolocationFileProvider_readFile(t *testing.T) {
	t.Run("read file succeeds", func(t *testing.T) {
		point, err := NewGeolocationFileProvider(testFile).readFile()
		if err != nil {
			t.Fatalf("failed to read file: %s", err)
		}
		if point != geoconv.NewGeoPoint(testLat, testLon) {
			t.Errorf("expected point to be (%f, %f), got %s", testLat, testLon, point)
		}
	})
	t.Run("read of non-existent file fails", func(t *testing.T) {
		_, err := NewGeolocationFileProvider("non-existent.txt").readFile()
		if err == nil {
			t.Error("expected error, but didn't get one")
		}
	})
	t.Run("file without coordinates fails", func(t *testing.T) {
		_, err := NewGeolocationFileProvider(testFile + "_nocoord").readFile()
		if !errors.Is(err, ErrNoCoordinates) {
			t.Errorf("expected error to be %s, got %s", ErrNoCoordinates, err)
		}
	})
	t.Run("out of range coordinates are skipped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "geolocation")
		if err := os.WriteFile(path, []byte("# home\n95.1,10\n(52.52, 13.405)\n"), 0o600); err != nil {
			t.Fatalf("failed to write test file: %s", err)
		}
		point, err := NewGeolocationFileProvider(path).readFile()
		if err != nil {
			t.Fatalf("failed to read file: %s", err)
		}
		if point != geoconv.NewGeoPoint(52.52, 13.405) {
			t.Errorf("expected point to be (52.52, 13.405), got %s", point)
		}
	})
}

func TestGeolocationFileProvider_LookupStream(t *testing.T) {
	t.Run("only changed positions are emitted", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			points := []geoconv.GeoPoint{
				geoconv.NewGeoPoint(testLat, testLon),
				geoconv.NewGeoPoint(testLat, testLon),
				geoconv.NewGeoPoint(52.52, 13.405),
			}
			calls := 0
			provider := NewGeolocationFileProvider(testFile)
			provider.period = time.Second
			provider.locateFn = func() (geoconv.GeoPoint, error) {
				defer func() { calls++ }()
				if calls == 0 {
					return geoconv.GeoPoint{}, errors.New("intentionally failing")
				}
				if calls-1 < len(points) {
					return points[calls-1], nil
				}
				return points[len(points)-1], nil
			}

			ctx, cancel := context.WithTimeout(t.Context(), time.Second*10)
			defer cancel()
			var got []geoconv.GeoPoint
			for r := range provider.LookupStream(ctx, "test") {
				if r.Source != name || r.Key != "test" || r.AccuracyMeters != Accuracy {
					t.Errorf("unexpected result metadata: %+v", r)
				}
				got = append(got, r.Point)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 results, got %d: %v", len(got), got)
			}
			if got[0] != points[0] || got[1] != points[2] {
				t.Errorf("unexpected results: %v", got)
			}
		})
	})
}
