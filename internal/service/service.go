// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/vorlif/spreak"

	"github.com/wneessen/geoconv/internal/config"
	"github.com/wneessen/geoconv/internal/geobus"
	"github.com/wneessen/geoconv/internal/logger"
	"github.com/wneessen/geoconv/internal/presenter"
)

const (
	OutputClass = "geoconv"
	DesktopID   = "geoconv"

	subscriberBuffer = 32
)

var ErrNilLogger = errors.New("logger is required")

type outputData struct {
	Text    string `json:"text"`
	Tooltip string `json:"tooltip"`
	Class   string `json:"class"`
}

type Service struct {
	config       *config.Config
	geobus       *geobus.GeoBus
	logger       *logger.Logger
	orchestrator *geobus.Orchestrator
	presenter    *presenter.Presenter
	scheduler    gocron.Scheduler
	sleepMonitor func(context.Context)

	outputLock sync.Mutex
	output     io.Writer

	positionLock  sync.RWMutex
	positionIsSet bool
	position      geobus.Result
}

func New(conf *config.Config, log *logger.Logger, loc *spreak.Localizer) (*Service, error) {
	if log == nil {
		return nil, ErrNilLogger
	}

	pres, err := presenter.New(conf, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	service := &Service{
		config:    conf,
		geobus:    geobus.New(log),
		logger:    log,
		output:    os.Stdout,
		presenter: pres,
	}
	service.sleepMonitor = service.monitorSleepResume
	return service, nil
}

func (s *Service) Run(ctx context.Context) error {
	orchestrator, err := s.createOrchestrator()
	if err != nil {
		return fmt.Errorf("failed to create geobus orchestrator: %w", err)
	}
	s.orchestrator = orchestrator

	// The scheduler starts its own goroutine, so it only exists while the service runs.
	s.scheduler, err = gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err = s.createScheduledJob(ctx, s.config.Intervals.Output, s.printPosition,
		"position_output_job"); err != nil {
		if shutdownErr := s.scheduler.Shutdown(); shutdownErr != nil {
			s.logger.Error("failed to shut down scheduler", logger.Err(shutdownErr))
		}
		return err
	}
	s.scheduler.Start()

	// Subscribe to geolocation updates from the geobus
	sub, unsub := s.geobus.Subscribe(DesktopID, subscriberBuffer)
	go s.processLocationUpdates(ctx, sub)
	go s.orchestrator.Track(ctx, DesktopID)
	go s.sleepMonitor(ctx)

	<-ctx.Done()
	unsub()
	return s.scheduler.Shutdown()
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// printPosition renders the current position relative to the configured reference and writes
// it as a single JSON line.
func (s *Service) printPosition(context.Context) {
	s.positionLock.RLock()
	position, isSet := s.position, s.positionIsSet
	s.positionLock.RUnlock()
	if !isSet {
		return
	}

	tplCtx := s.presenter.BuildContext(s.config.ReferencePoint(), position)
	outMap, err := s.presenter.Render(tplCtx)
	if err != nil {
		s.logger.Error("failed to render position template", logger.Err(err))
		return
	}
	output := outputData{
		Text:    outMap["text"],
		Tooltip: outMap["tooltip"],
		Class:   OutputClass,
	}

	s.outputLock.Lock()
	defer s.outputLock.Unlock()
	if err = json.NewEncoder(s.output).Encode(output); err != nil {
		s.logger.Error("failed to encode position output", logger.Err(err))
	}
}

// updatePosition stores r as the current position. Results outside the geographic ranges are
// rejected.
func (s *Service) updatePosition(r geobus.Result) error {
	if !r.Point.Valid() {
		return fmt.Errorf("invalid coordinates: %s", r.Point)
	}

	s.positionLock.Lock()
	s.position = r
	s.positionIsSet = true
	s.positionLock.Unlock()
	return nil
}

// processLocationUpdates applies every update received from the geobus and prints it right away.
func (s *Service) processLocationUpdates(ctx context.Context, sub <-chan geobus.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-sub:
			if !ok {
				return
			}
			s.logger.Debug("received geolocation update", slog.String("point", r.Point.String()),
				slog.Float64("accuracy", r.AccuracyMeters), slog.String("source", r.Source))
			if err := s.updatePosition(r); err != nil {
				s.logger.Error("failed to apply geo update", logger.Err(err), slog.String("source", r.Source))
				continue
			}
			s.printPosition(ctx)
		}
	}
}
