// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"log/slog"
	"sync"
)

// Orchestrator runs a set of providers and publishes their results on a GeoBus.
type Orchestrator struct {
	Bus       *GeoBus
	Providers []Provider
}

// Track runs all providers for key concurrently and blocks until ctx is done and every
// provider has stopped.
func (o *Orchestrator) Track(ctx context.Context, key string) {
	var wg sync.WaitGroup
	for _, p := range o.Providers {
		wg.Go(func() {
			o.trackProvider(ctx, p, key)
		})
	}
	<-ctx.Done()
	wg.Wait()
}

// trackProvider reads a provider's stream and restarts it with exponential backoff whenever it
// ends or fails to start.
func (o *Orchestrator) trackProvider(ctx context.Context, p Provider, key string) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		lookupChan := o.safeLookup(ctx, p, key)
		if lookupChan == nil {
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

	stream:
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-lookupChan:
				if !ok {
					break stream
				}
				o.Bus.Publish(r)
				backoff = initialBackoff
			}
		}

		if o.Bus.logger != nil {
			o.Bus.logger.Debug("location source stream ended", slog.String("source", p.Name()),
				slog.Duration("backoff", backoff))
		}
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// safeLookup starts the provider's stream and recovers from a panicking provider by returning nil.
func (o *Orchestrator) safeLookup(ctx context.Context, provider Provider, key string) (ch <-chan Result) {
	defer func() {
		if r := recover(); r != nil {
			ch = nil
			if o.Bus.logger != nil {
				o.Bus.logger.Error("location source panicked", slog.String("source", provider.Name()),
					slog.Any("panic", r))
			}
		}
	}()
	return provider.LookupStream(ctx, key)
}
