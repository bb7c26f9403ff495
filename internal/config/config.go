// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kkyr/fig"

	"github.com/wneessen/geoconv"
)

const (
	configEnv         = "GEOCONV"
	DefaultTextTpl    = "{{loc .Compass}} {{distance .Distance}}"
	DefaultTooltipTpl = "{{loc \"position\"}}: {{.Position}}\n{{loc \"reference\"}}: {{.Reference}}\n" +
		"{{loc \"north\"}}: {{floatFormat .Local.X 1}} m\n{{loc \"east\"}}: {{floatFormat .Local.Y 1}} m\n" +
		"{{loc \"bearing\"}}: {{floatFormat .Bearing 0}}°\n" +
		"{{loc \"source\"}}: {{.Source}} (±{{floatFormat .Accuracy 0}} m)\n" +
		"{{loc \"lastfix\"}}: {{since .UpdateTime}}"
	DefaultGPSDAddress = "localhost:2947"
	minOutputInterval  = time.Second
)

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	// Reference is the anchor of all local positions.
	Reference struct {
		Latitude  float64 `fig:"latitude"`
		Longitude float64 `fig:"longitude"`
	} `fig:"reference"`

	Projection struct {
		// Compat selects the legacy inverse projection, see geoconv.ToGeoCompat.
		Compat bool `fig:"compat"`
	} `fig:"projection"`

	Intervals struct {
		Output time.Duration `fig:"output" default:"30s"`
	} `fig:"intervals"`

	Templates struct {
		Text    string `fig:"text"`
		Tooltip string `fig:"tooltip"`
	} `fig:"templates"`

	GeoLocation struct {
		File                   string `fig:"file"`
		GPSDAddress            string `fig:"gpsd_address"`
		DisableGeoIP           bool   `fig:"disable_geoip"`
		DisableGeolocationFile bool   `fig:"disable_geolocation_file"`
		DisableICHNAEA         bool   `fig:"disable_ichnaea"`
		DisableGPSD            bool   `fig:"disable_gpsd"`
		DisableGeoClue         bool   `fig:"disable_geoclue"`
	} `fig:"geolocation"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

// ReferencePoint returns the configured reference as a GeoPoint.
func (c *Config) ReferencePoint() geoconv.GeoPoint {
	return geoconv.NewGeoPoint(c.Reference.Latitude, c.Reference.Longitude)
}

// ToGeo applies the configured inverse projection to position.
func (c *Config) ToGeo(position geoconv.LocalPosition) geoconv.GeoPoint {
	if c.Projection.Compat {
		return geoconv.ToGeoCompat(position)
	}
	return geoconv.ToGeo(position)
}

func (c *Config) Validate() error {
	if ref := c.ReferencePoint(); !ref.Valid() {
		return fmt.Errorf("invalid reference point: %s", ref)
	}
	if c.Intervals.Output < minOutputInterval {
		return fmt.Errorf("invalid output interval: %s", c.Intervals.Output)
	}
	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.Tooltip == "" {
		c.Templates.Tooltip = DefaultTooltipTpl
	}
	if c.GeoLocation.GPSDAddress == "" {
		c.GeoLocation.GPSDAddress = DefaultGPSDAddress
	}
	if c.GeoLocation.File == "" {
		home, _ := os.UserHomeDir()
		c.GeoLocation.File = filepath.Join(home, ".config", "geoconv", "geolocation")
	}

	return nil
}
