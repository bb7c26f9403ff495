// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

// Package main implements the geoconv command line tool and tracking service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/wneessen/geoconv"
	"github.com/wneessen/geoconv/internal/config"
	"github.com/wneessen/geoconv/internal/i18n"
	"github.com/wneessen/geoconv/internal/logger"
	"github.com/wneessen/geoconv/internal/service"
)

const usage = `usage: geoconv [-config file] <command> [args]

commands:
  distance <lat,lon> <lat,lon>    great-circle distance in metres
  tolocal <lat,lon> [<lat,lon>]   north and east offset in metres from the reference
  togeo <x,y> [<lat,lon>]         geographic point of a north/east offset from the reference
  track                           continuously print the position relative to the reference
`

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var ErrUsage = errors.New("invalid arguments")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer cancel()

	log := logger.New(slog.LevelError)
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, ErrUsage) {
			_, _ = fmt.Fprint(os.Stderr, usage)
		}
		log.Error("geoconv failed", logger.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("geoconv", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	confPath := flags.String("config", "", "path to the config file")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if flags.NArg() == 0 {
		return fmt.Errorf("%w: missing command", ErrUsage)
	}

	cmd, cmdArgs := flags.Arg(0), flags.Args()[1:]
	switch cmd {
	case "distance":
		// Both points are given explicitly, so the config is not needed.
		return distance(out, cmdArgs)
	case "tolocal", "togeo", "track":
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}

	conf, err := loadConfig(*confPath)
	if err != nil {
		return err
	}
	switch cmd {
	case "tolocal":
		return toLocal(out, conf, cmdArgs)
	case "togeo":
		return toGeo(out, conf, cmdArgs)
	default:
		return track(ctx, conf)
	}
}

func distance(out io.Writer, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: distance expects two points", ErrUsage)
	}
	point, err := parsePoint(args[0])
	if err != nil {
		return err
	}
	reference, err := parsePoint(args[1])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%.3f\n", geoconv.Distance(point, reference))
	return err
}

func toLocal(out io.Writer, conf *config.Config, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: tolocal expects a point and an optional reference", ErrUsage)
	}
	point, err := parsePoint(args[0])
	if err != nil {
		return err
	}
	reference, err := referenceArg(conf, args[1:])
	if err != nil {
		return err
	}
	local := geoconv.ToLocal(point, reference)
	_, err = fmt.Fprintf(out, "%.3f %.3f\n", local.X, local.Y)
	return err
}

func toGeo(out io.Writer, conf *config.Config, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: togeo expects an offset and an optional reference", ErrUsage)
	}
	// Offsets share the "a,b" notation of points but have no range limits.
	offset, err := geoconv.ParseGeoPoint(args[0])
	if err != nil {
		return err
	}
	reference, err := referenceArg(conf, args[1:])
	if err != nil {
		return err
	}
	point := conf.ToGeo(geoconv.NewLocalPosition(offset.Latitude, offset.Longitude, reference))
	_, err = fmt.Fprintln(out, point.String())
	return err
}

func track(ctx context.Context, conf *config.Config) error {
	log := logger.New(conf.LogLevel)
	loc, err := i18n.New(conf.Locale)
	if err != nil {
		return err
	}

	serv, err := service.New(conf, log, loc)
	if err != nil {
		return fmt.Errorf("failed to initialize geoconv service: %w", err)
	}

	log.Info("starting geoconv service", slog.String("version", version),
		slog.String("commit", commit), slog.String("date", date),
		slog.String("reference", conf.ReferencePoint().String()))
	if err = serv.Run(ctx); err != nil {
		return fmt.Errorf("failed to run geoconv service: %w", err)
	}
	log.Info("shutting down geoconv service")
	return nil
}

func parsePoint(s string) (geoconv.GeoPoint, error) {
	point, err := geoconv.ParseGeoPoint(s)
	if err != nil {
		return point, err
	}
	if !point.Valid() {
		return point, fmt.Errorf("coordinates out of range: %s", point)
	}
	return point, nil
}

// referenceArg returns the reference given on the command line, or the configured one.
func referenceArg(conf *config.Config, args []string) (geoconv.GeoPoint, error) {
	if len(args) == 0 {
		return conf.ReferencePoint(), nil
	}
	return parsePoint(args[0])
}

// loadConfig reads the config from path, from the default location or from the environment
// only, in that order of preference.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		conf, err := config.NewFromFile(filepath.Dir(path), filepath.Base(path))
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		return conf, nil
	}
	if dir, file := findConfigFile(); dir != "" && file != "" {
		conf, err := config.NewFromFile(dir, file)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		return conf, nil
	}
	conf, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return conf, nil
}

func findConfigFile() (string, string) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	for _, ext := range []string{"toml", "yaml", "yml", "json"} {
		path := filepath.Join(homedir, ".config", "geoconv", "config."+ext)
		if _, err = os.Stat(path); err == nil {
			return filepath.Dir(path), filepath.Base(path)
		}
	}
	return "", ""
}
