// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"errors"

	"github.com/wneessen/geoconv/internal/geobus"
	"github.com/wneessen/geoconv/internal/geobus/provider/geoclue"
	"github.com/wneessen/geoconv/internal/geobus/provider/geoip"
	"github.com/wneessen/geoconv/internal/geobus/provider/geolocation_file"
	"github.com/wneessen/geoconv/internal/geobus/provider/gpsd"
	"github.com/wneessen/geoconv/internal/geobus/provider/ichnaea"
	"github.com/wneessen/geoconv/internal/http"
	"github.com/wneessen/geoconv/internal/logger"
)

var ErrNoProviders = errors.New("no geolocation providers enabled")

func (s *Service) createOrchestrator() (*geobus.Orchestrator, error) {
	provider, err := s.selectGeobusProviders()
	if err != nil {
		return nil, err
	}
	return s.geobus.NewOrchestrator(provider), nil
}

func (s *Service) selectGeobusProviders() ([]geobus.Provider, error) {
	httpClient := http.New(s.logger)
	geoConf := s.config.GeoLocation
	var provider []geobus.Provider

	if !geoConf.DisableGeolocationFile {
		provider = append(provider, geolocation_file.NewGeolocationFileProvider(geoConf.File))
	}

	if !geoConf.DisableGPSD {
		provider = append(provider, gpsd.NewGeolocationGPSDProvider(geoConf.GPSDAddress, s.logger))
	}

	if !geoConf.DisableGeoClue {
		provider = append(provider, geoclue.NewGeolocationGeoClueProvider(s.logger))
	}

	if !geoConf.DisableGeoIP {
		provider = append(provider, geoip.NewGeolocationGeoIPProvider(httpClient))
	}

	if !geoConf.DisableICHNAEA {
		mls, err := ichnaea.NewGeolocationICHNAEAProvider(httpClient)
		if err != nil {
			s.logger.Error("failed to create ICHNAEA provider", logger.Err(err))
		} else {
			provider = append(provider, mls)
		}
	}

	if len(provider) == 0 {
		return nil, ErrNoProviders
	}
	return provider, nil
}
