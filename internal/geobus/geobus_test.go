// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/geoconv"
	"github.com/wneessen/geoconv/internal/logger"
)

const testKey = "test"

var (
	testPoint = geoconv.NewGeoPoint(40.7185, -74.0025)
	// roughly 111 meters north of testPoint
	testPointNorth = geoconv.NewGeoPoint(40.7195, -74.0025)
	// roughly 1 meter north of testPoint
	testPointNear = geoconv.NewGeoPoint(40.71851, -74.0025)
)

type testProvider struct {
	results []Result
	panics  bool
}

func (p *testProvider) Name() string {
	return "test"
}

func (p *testProvider) LookupStream(ctx context.Context, key string) <-chan Result {
	if p.panics {
		panic("intentionally panicking")
	}
	out := make(chan Result)
	go func() {
		defer close(out)
		for _, r := range p.results {
			r.Key = key
			select {
			case <-ctx.Done():
				return
			case out <- r:
			}
		}
		<-ctx.Done()
	}()
	return out
}

func TestGeolocationState_HasChanged(t *testing.T) {
	t.Run("empty state always returns true", func(t *testing.T) {
		state := GeolocationState{}
		if !state.HasChanged(Coordinate{Point: testPoint, Acc: AccuracyZip}) {
			t.Error("expected state to have changed")
		}
	})
	t.Run("same coordinate return false", func(t *testing.T) {
		state := GeolocationState{}
		state.Update(Coordinate{Point: testPoint, Acc: AccuracyZip})
		if state.HasChanged(Coordinate{Point: testPoint, Acc: AccuracyZip}) {
			t.Error("expected state to not have changed")
		}
	})
	t.Run("different coordinate return true", func(t *testing.T) {
		tests := []struct {
			name    string
			point   geoconv.GeoPoint
			acc     float64
			changed bool
		}{
			{"lat changes", geoconv.NewGeoPoint(2, 1), AccuracyZip, true},
			{"lon changes", geoconv.NewGeoPoint(1, 2), AccuracyZip, true},
			{"acc changes", geoconv.NewGeoPoint(1, 1), AccuracyCity, false},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				state := GeolocationState{}
				state.Update(Coordinate{Point: geoconv.NewGeoPoint(1, 1), Acc: AccuracyZip})
				if state.HasChanged(Coordinate{Point: tc.point, Acc: tc.acc}) != tc.changed {
					t.Errorf("expected state change to be %t", tc.changed)
				}
			})
		}
	})
}

func TestCoordinate_PosHasSignificantChange(t *testing.T) {
	tests := []struct {
		name    string
		current Coordinate
		other   Coordinate
		want    bool
	}{
		{"same position", Coordinate{testPoint, 10}, Coordinate{testPoint, 10}, false},
		{"small move", Coordinate{testPointNear, 10}, Coordinate{testPoint, 10}, false},
		{"large move", Coordinate{testPointNorth, 10}, Coordinate{testPoint, 10}, true},
		{"much better accuracy", Coordinate{testPoint, 10}, Coordinate{testPoint, AccuracyCity}, true},
		{"slightly better accuracy", Coordinate{testPoint, 10}, Coordinate{testPoint, 40}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.current.PosHasSignificantChange(tc.other); got != tc.want {
				t.Errorf("expected significant change to be %t, got %t", tc.want, got)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in        float64
		precision int
		want      float64
	}{
		{40.71859999, 4, 40.7185},
		{-74.00259, 4, -74.0025},
		{1.5, 0, 1},
	}
	for _, tc := range tests {
		if got := Truncate(tc.in, tc.precision); got != tc.want {
			t.Errorf("expected %f truncated to %d places to be %f, got %f", tc.in, tc.precision, tc.want, got)
		}
	}
}

func TestResult_BetterThan(t *testing.T) {
	now := time.Now()
	prev := Result{Key: testKey, AccuracyMeters: 100, At: now}
	tests := []struct {
		name string
		r    Result
		prev Result
		want bool
	}{
		{"no previous result", Result{AccuracyMeters: 100, At: now}, Result{}, true},
		{"more accurate", Result{Key: testKey, AccuracyMeters: 10, At: now}, prev, true},
		{"less accurate", Result{Key: testKey, AccuracyMeters: 1000, At: now}, prev, false},
		{"older", Result{Key: testKey, AccuracyMeters: 10, At: now.Add(-time.Minute)}, prev, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.BetterThan(tc.prev); got != tc.want {
				t.Errorf("expected BetterThan to be %t, got %t", tc.want, got)
			}
		})
	}
}

func TestResult_IsExpired(t *testing.T) {
	if (Result{At: time.Now(), TTL: 0}).IsExpired() {
		t.Error("expected result without TTL to never expire")
	}
	if !(Result{At: time.Now().Add(-time.Hour), TTL: time.Minute}).IsExpired() {
		t.Error("expected result to be expired")
	}
	if (Result{At: time.Now(), TTL: time.Minute}).IsExpired() {
		t.Error("expected result to be valid")
	}
}

func TestGeoBus_Publish(t *testing.T) {
	t.Run("first result is broadcast", func(t *testing.T) {
		bus := New(logger.NewLogger(slog.LevelDebug, bytes.NewBuffer(nil)))
		sub, unsub := bus.Subscribe(testKey, 4)
		defer unsub()

		bus.Publish(Result{Key: testKey, Point: testPoint, AccuracyMeters: 10, Source: "gpsd"})
		select {
		case r := <-sub:
			if r.Point != testPoint {
				t.Errorf("expected point to be %s, got %s", testPoint, r.Point)
			}
			if r.At.IsZero() {
				t.Error("expected publish time to be set")
			}
		default:
			t.Fatal("expected result to be broadcast")
		}
		if _, ok := bus.Best(testKey); !ok {
			t.Error("expected best result to be stored")
		}
	})
	t.Run("results without accuracy are ignored", func(t *testing.T) {
		bus := New(nil)
		bus.Publish(Result{Key: testKey, Point: testPoint})
		if _, ok := bus.Best(testKey); ok {
			t.Error("expected result to be ignored")
		}
	})
	t.Run("results with invalid coordinates are ignored", func(t *testing.T) {
		bus := New(logger.NewLogger(slog.LevelDebug, bytes.NewBuffer(nil)))
		sub, unsub := bus.Subscribe(testKey, 4)
		defer unsub()

		invalid := []geoconv.GeoPoint{
			geoconv.NewGeoPoint(91, 0),
			geoconv.NewGeoPoint(0, -181),
			geoconv.NewGeoPoint(math.NaN(), 0),
		}
		for _, point := range invalid {
			bus.Publish(Result{Key: testKey, Point: point, AccuracyMeters: 5, Source: "gpsd"})
		}
		if _, ok := bus.Best(testKey); ok {
			t.Fatal("expected invalid results to be ignored")
		}
		if len(sub) != 0 {
			t.Errorf("expected no broadcast, got %d results", len(sub))
		}

		// A coarse but valid fix must not be blocked by the rejected precise one.
		london := geoconv.NewGeoPoint(51.5, -0.1)
		bus.Publish(Result{Key: testKey, Point: london, AccuracyMeters: AccuracyCity, Source: "geoip"})
		best, ok := bus.Best(testKey)
		if !ok {
			t.Fatal("expected valid result to be stored")
		}
		if best.Point != london {
			t.Errorf("expected best point to be %s, got %s", london, best.Point)
		}
		if len(sub) != 1 {
			t.Errorf("expected one broadcast, got %d results", len(sub))
		}
	})
	t.Run("better result with a significant move replaces the best", func(t *testing.T) {
		bus := New(nil)
		bus.Publish(Result{Key: testKey, Point: testPoint, AccuracyMeters: AccuracyCity, Source: "geoip"})
		bus.Publish(Result{Key: testKey, Point: testPointNorth, AccuracyMeters: 10, Source: "gpsd"})
		best, _ := bus.Best(testKey)
		if best.Source != "gpsd" {
			t.Errorf("expected best source to be gpsd, got %s", best.Source)
		}
	})
	t.Run("worse result is not broadcast", func(t *testing.T) {
		bus := New(nil)
		bus.Publish(Result{Key: testKey, Point: testPoint, AccuracyMeters: 10, Source: "gpsd"})
		sub, unsub := bus.Subscribe(testKey, 4)
		defer unsub()
		<-sub

		bus.Publish(Result{Key: testKey, Point: testPointNorth, AccuracyMeters: AccuracyCity, Source: "geoip"})
		select {
		case r := <-sub:
			t.Errorf("expected no broadcast, got result from %s", r.Source)
		default:
		}
		best, _ := bus.Best(testKey)
		if best.Point != testPoint {
			t.Errorf("expected best point to stay %s, got %s", testPoint, best.Point)
		}
	})
	t.Run("significant move of the current source is broadcast", func(t *testing.T) {
		bus := New(nil)
		bus.Publish(Result{Key: testKey, Point: testPoint, AccuracyMeters: 10, Source: "gpsd"})
		bus.Publish(Result{Key: testKey, Point: testPointNorth, AccuracyMeters: 10, Source: "gpsd"})
		best, _ := bus.Best(testKey)
		if best.Point != testPointNorth {
			t.Errorf("expected best point to be %s, got %s", testPointNorth, best.Point)
		}
	})
	t.Run("jitter of the current source is not broadcast", func(t *testing.T) {
		bus := New(nil)
		bus.Publish(Result{Key: testKey, Point: testPoint, AccuracyMeters: 10, Source: "gpsd"})
		bus.Publish(Result{Key: testKey, Point: testPointNear, AccuracyMeters: 10, Source: "gpsd"})
		best, _ := bus.Best(testKey)
		if best.Point != testPoint {
			t.Errorf("expected best point to stay %s, got %s", testPoint, best.Point)
		}
	})
	t.Run("invalidated key accepts a worse result", func(t *testing.T) {
		bus := New(nil)
		bus.Publish(Result{Key: testKey, Point: testPoint, AccuracyMeters: 10, Source: "gpsd"})
		bus.Invalidate(testKey)
		if _, ok := bus.Best(testKey); ok {
			t.Fatal("expected best result to be dropped")
		}
		bus.Publish(Result{Key: testKey, Point: testPointNorth, AccuracyMeters: AccuracyCity, Source: "geoip"})
		best, _ := bus.Best(testKey)
		if best.Source != "geoip" {
			t.Errorf("expected best source to be geoip, got %s", best.Source)
		}
	})
	t.Run("global subscribers receive all keys", func(t *testing.T) {
		bus := New(nil)
		sub, unsub := bus.SubscribeAll(4)
		defer unsub()
		bus.Publish(Result{Key: "a", Point: testPoint, AccuracyMeters: 10})
		bus.Publish(Result{Key: "b", Point: testPoint, AccuracyMeters: 10})
		if len(sub) != 2 {
			t.Errorf("expected 2 results, got %d", len(sub))
		}
	})
	t.Run("unsubscribe twice does not panic", func(t *testing.T) {
		bus := New(nil)
		_, unsub := bus.Subscribe(testKey, 1)
		unsub()
		unsub()
	})
}

func TestOrchestrator_Track(t *testing.T) {
	t.Run("provider results are published", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			bus := New(nil)
			provider := &testProvider{results: []Result{
				{Point: testPoint, AccuracyMeters: 10, Source: "test", TTL: time.Hour},
			}}
			orch := bus.NewOrchestrator([]Provider{provider})
			sub, unsub := bus.Subscribe(testKey, 4)
			defer unsub()

			ctx, cancel := context.WithCancel(t.Context())
			go orch.Track(ctx, testKey)
			synctest.Wait()

			select {
			case r := <-sub:
				if r.Point != testPoint {
					t.Errorf("expected point to be %s, got %s", testPoint, r.Point)
				}
			default:
				t.Error("expected result to be published")
			}
			cancel()
			synctest.Wait()
		})
	})
	t.Run("panicking provider is recovered", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			bus := New(logger.NewLogger(slog.LevelDebug, bytes.NewBuffer(nil)))
			orch := bus.NewOrchestrator([]Provider{&testProvider{panics: true}})

			ctx, cancel := context.WithTimeout(t.Context(), time.Second*5)
			defer cancel()
			orch.Track(ctx, testKey)
			if _, ok := bus.Best(testKey); ok {
				t.Error("expected no result from a panicking provider")
			}
		})
	})
}

func TestNextBackoff(t *testing.T) {
	if got := nextBackoff(initialBackoff); got != 2*initialBackoff {
		t.Errorf("expected backoff to double, got %s", got)
	}
	if got := nextBackoff(maxBackoff); got != maxBackoff {
		t.Errorf("expected backoff to be capped at %s, got %s", maxBackoff, got)
	}
}
