// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/vorlif/humanize"
)

var compassPoints = []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

func (p *Presenter) templateFuncMap() template.FuncMap {
	return template.FuncMap{
		"timeFormat":    timeFormat,
		"localizedTime": p.localizedTime,
		"floatFormat":   floatFormat,
		"distance":      distance,
		"compass":       compass,
		"since":         p.since,
		"pad":           pad,
		"loc":           p.loc,
		"lc":            strings.ToLower,
		"uc":            strings.ToUpper,
	}
}

// loc translates one of the known labels or compass points. Unknown values are returned as is.
func (p *Presenter) loc(val string) string {
	if raw, ok := i18nVars[strings.ToLower(val)]; ok {
		return p.localizer.Get(raw)
	}
	return val
}

func (p *Presenter) localizedTime(val time.Time) string {
	return p.humanizer.FormatTime(val, humanize.TimeFormat)
}

// since returns a natural language description of how long ago val was.
func (p *Presenter) since(val time.Time) string {
	if val.IsZero() {
		return "-"
	}
	return p.humanizer.NaturalTime(val)
}

func timeFormat(val time.Time, fmt string) string {
	return val.Format(fmt)
}

func floatFormat(val float64, precision int) string {
	return fmt.Sprintf("%.*f", precision, val)
}

// distance formats metres, switching to kilometres from 1 km on.
func distance(meters float64) string {
	if math.Abs(meters) < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// compass maps a bearing in degrees to one of eight compass points.
func compass(deg float64) string {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	idx := int(math.Round(deg/45)) % len(compassPoints)
	return compassPoints[idx]
}

// pad fills val with spaces up to the given display width.
func pad(val string, width int) string {
	return runewidth.FillRight(val, width)
}
