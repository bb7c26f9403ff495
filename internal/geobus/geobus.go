// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geobus collects position fixes from several location sources and hands the best
// current fix per key to its subscribers.
package geobus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/geoconv"
	"github.com/wneessen/geoconv/internal/logger"
)

const (
	accuracyEpsilon = 1e-6
	initialBackoff  = time.Second
	maxBackoff      = 30 * time.Second
)

// Typical accuracy radii in meters for sources that do not report one.
const (
	AccuracyCountry = 300000
	AccuracyRegion  = 100000
	AccuracyCity    = 15000
	AccuracyZip     = 3000
	AccuracyUnknown = 1000000
	TruncPrecision  = 6
)

// Provider is a location source that streams results for a key until ctx is done.
type Provider interface {
	Name() string
	LookupStream(ctx context.Context, key string) <-chan Result
}

// GeoBus keeps the best result per key and fans updates out to subscribers.
type GeoBus struct {
	mu          sync.RWMutex
	logger      *logger.Logger
	best        map[string]Result
	subscribers map[string]map[chan Result]struct{}
	globalSubs  map[chan Result]struct{}
}

// Result is a single position fix reported by a Provider.
type Result struct {
	Key            string
	Point          geoconv.GeoPoint
	AccuracyMeters float64
	Source         string
	At             time.Time
	TTL            time.Duration
}

// Coordinate returns the point and accuracy of the result.
func (r Result) Coordinate() Coordinate {
	return Coordinate{Point: r.Point, Acc: r.AccuracyMeters}
}

// BetterThan reports whether r should replace prev: it must not be older and must be more
// accurate.
func (r Result) BetterThan(prev Result) bool {
	if prev.Key == "" {
		return true
	}
	if r.At.Before(prev.At) {
		return false
	}
	return r.AccuracyMeters < prev.AccuracyMeters-accuracyEpsilon
}

// IsExpired reports whether the result has outlived its TTL.
func (r Result) IsExpired() bool {
	return r.TTL > 0 && time.Since(r.At) > r.TTL
}

func New(log *logger.Logger) *GeoBus {
	return &GeoBus{
		logger:      log,
		best:        make(map[string]Result),
		subscribers: make(map[string]map[chan Result]struct{}),
		globalSubs:  make(map[chan Result]struct{}),
	}
}

func (b *GeoBus) NewOrchestrator(provider []Provider) *Orchestrator {
	return &Orchestrator{
		Bus:       b,
		Providers: provider,
	}
}

// Subscribe returns a channel with updates for key and a function to cancel the subscription.
// A current best result is delivered immediately.
func (b *GeoBus) Subscribe(key string, size int) (<-chan Result, func()) {
	resultChan := make(chan Result, size)
	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[chan Result]struct{})
	}
	b.subscribers[key][resultChan] = struct{}{}
	if best, ok := b.best[key]; ok && !best.IsExpired() {
		select {
		case resultChan <- best:
		default:
		}
	}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subscribers[key]; ok {
				delete(subs, resultChan)
				if len(subs) == 0 {
					delete(b.subscribers, key)
				}
			}
			b.mu.Unlock()
			close(resultChan)
		})
	}
	return resultChan, unsub
}

// SubscribeAll returns a channel with updates for every key.
func (b *GeoBus) SubscribeAll(size int) (<-chan Result, func()) {
	ch := make(chan Result, size)
	b.mu.Lock()
	b.globalSubs[ch] = struct{}{}
	for _, v := range b.best {
		if v.IsExpired() {
			continue
		}
		select {
		case ch <- v:
		default:
		}
	}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.globalSubs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish offers r to the bus. It is broadcast if there is no usable result for the key yet,
// or if the position moved significantly and r is either better than the current result or
// comes from the same source.
func (b *GeoBus) Publish(r Result) {
	if r.AccuracyMeters == 0 {
		return
	}
	if !r.Point.Valid() {
		if b.logger != nil {
			b.logger.Debug("dropping result with invalid coordinates", slog.String("key", r.Key),
				slog.String("source", r.Source), slog.String("point", r.Point.String()))
		}
		return
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	prev, have := b.best[r.Key]
	moved := r.Coordinate().PosHasSignificantChange(prev.Coordinate())
	if !have || prev.IsExpired() || moved && (r.BetterThan(prev) || r.Source == prev.Source && !r.At.Before(prev.At)) {
		b.best[r.Key] = r
		b.broadcastResult(r)
		if b.logger != nil {
			b.logger.Debug("new best position", slog.String("key", r.Key), slog.String("source", r.Source),
				slog.String("point", r.Point.String()), slog.Float64("accuracy", r.AccuracyMeters))
		}
		return
	}

	// A repeated fix from the current source keeps its result alive.
	if prev.Source == r.Source {
		prev.At = r.At
		b.best[r.Key] = prev
	}
}

func (b *GeoBus) broadcastResult(r Result) {
	for ch := range b.subscribers[r.Key] {
		select {
		case ch <- r:
		default:
		}
	}
	for ch := range b.globalSubs {
		select {
		case ch <- r:
		default:
		}
	}
}

// Invalidate drops the best result for key, so the next published result is accepted
// regardless of its accuracy.
func (b *GeoBus) Invalidate(key string) {
	b.mu.Lock()
	delete(b.best, key)
	b.mu.Unlock()
}

// Best returns the current unexpired best result for key.
func (b *GeoBus) Best(key string) (Result, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.best[key]
	return r, ok && !r.IsExpired()
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
