// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/geoconv/internal/logger"
)

const (
	dbusInterface   = "org.freedesktop.login1.Manager"
	dbusWatchMember = "PrepareForSleep"

	debounceWindow    = 2 // seconds
	signalBufferSize  = 8
	busReconnectDelay = 5 * time.Second
)

var errSignalChannelClosed = errors.New("system bus signal channel closed")

// monitorSleepResume watches logind for resume events until ctx is done. A lost system bus
// connection is re-established after busReconnectDelay.
func (s *Service) monitorSleepResume(ctx context.Context) {
	var lastResume atomic.Int64
	for ctx.Err() == nil {
		if err := s.watchSleepSignals(ctx, &lastResume); err != nil {
			s.logger.Debug("sleep monitoring interrupted", logger.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(busReconnectDelay):
		}
	}
}

func (s *Service) watchSleepSignals(ctx context.Context, lastResume *atomic.Int64) error {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("failed to close system bus connection", logger.Err(err))
		}
	}()

	if err = conn.AddMatchSignalContext(ctx, dbus.WithMatchInterface(dbusInterface),
		dbus.WithMatchMember(dbusWatchMember)); err != nil {
		return fmt.Errorf("failed to subscribe to %s.%s: %w", dbusInterface, dbusWatchMember, err)
	}
	sigCh := make(chan *dbus.Signal, signalBufferSize)
	conn.Signal(sigCh)
	defer conn.RemoveSignal(sigCh)
	s.logger.Debug("subscribed to dbus signal", slog.String("interface", dbusInterface),
		slog.String("member", dbusWatchMember))

	for {
		select {
		case <-ctx.Done():
			return nil
		case sgn, ok := <-sigCh:
			if !ok {
				return errSignalChannelClosed
			}
			if isResumeSignal(sgn) {
				s.handleResumeEvent(lastResume, time.Now())
			}
		}
	}
}

// isResumeSignal reports whether sgn is a PrepareForSleep(false) signal.
func isResumeSignal(sgn *dbus.Signal) bool {
	if sgn == nil || len(sgn.Body) != 1 {
		return false
	}
	sleeping, ok := sgn.Body[0].(bool)
	return ok && !sleeping
}

// handleResumeEvent drops the last known position after a resume, since the device may have been
// moved while suspended. The next fix of any provider then becomes the current position.
func (s *Service) handleResumeEvent(lastResume *atomic.Int64, now time.Time) {
	if now.Unix()-lastResume.Load() < debounceWindow {
		return
	}
	lastResume.Store(now.Unix())

	s.logger.Debug("resuming from sleep, invalidating last known position")
	s.geobus.Invalidate(DesktopID)
}
