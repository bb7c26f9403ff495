// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"bytes"
	"fmt"
	"math"
	"text/template"
	"time"

	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/spreak"

	"github.com/wneessen/geoconv"
	"github.com/wneessen/geoconv/internal/config"
	"github.com/wneessen/geoconv/internal/geobus"
)

// TemplateContext holds everything a text or tooltip template can refer to.
type TemplateContext struct {
	Reference geoconv.GeoPoint
	Position  geoconv.GeoPoint
	Local     geoconv.LocalPosition

	// Distance is in metres, Bearing in degrees clockwise from north within [0, 360).
	Distance float64
	Bearing  float64
	Compass  string

	Source     string
	Accuracy   float64
	UpdateTime time.Time
}

type Presenter struct {
	TextTemplate    *template.Template
	TooltipTemplate *template.Template

	humanizer *humanize.Humanizer
	localizer *spreak.Localizer
}

func New(conf *config.Config, loc *spreak.Localizer) (*Presenter, error) {
	collection, err := humanize.New(humanize.WithLocale(de.New()))
	if err != nil {
		return nil, fmt.Errorf("failed to create humanizer: %w", err)
	}
	pres := &Presenter{
		humanizer: collection.CreateHumanizer(loc.Language()),
		localizer: loc,
	}

	pres.TextTemplate, err = template.New("text").Funcs(pres.templateFuncMap()).Parse(conf.Templates.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse text template: %w", err)
	}
	pres.TooltipTemplate, err = template.New("tooltip").Funcs(pres.templateFuncMap()).Parse(conf.Templates.Tooltip)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tooltip template: %w", err)
	}

	// Catch references to unknown fields before the first position arrives.
	if _, err = pres.Render(TemplateContext{UpdateTime: time.Now()}); err != nil {
		return nil, err
	}

	return pres, nil
}

// BuildContext describes the result r relative to the reference point ref.
func (p *Presenter) BuildContext(ref geoconv.GeoPoint, r geobus.Result) TemplateContext {
	bearing := math.Mod(geoconv.Bearing(r.Point, ref)*180/math.Pi+360, 360)
	return TemplateContext{
		Reference:  ref,
		Position:   r.Point,
		Local:      geoconv.ToLocal(r.Point, ref),
		Distance:   geoconv.Distance(r.Point, ref),
		Bearing:    bearing,
		Compass:    compass(bearing),
		Source:     r.Source,
		Accuracy:   r.AccuracyMeters,
		UpdateTime: r.At,
	}
}

// Render executes the text and tooltip templates. The output map is keyed by "text" and
// "tooltip".
func (p *Presenter) Render(ctx TemplateContext) (map[string]string, error) {
	templates := []struct {
		name string
		tpl  *template.Template
	}{
		{"text", p.TextTemplate},
		{"tooltip", p.TooltipTemplate},
	}

	output := make(map[string]string, len(templates))
	buf := bytes.NewBuffer(nil)
	for _, t := range templates {
		buf.Reset()
		if err := t.tpl.Execute(buf, ctx); err != nil {
			return nil, fmt.Errorf("failed to render %s template: %w", t.name, err)
		}
		output[t.name] = buf.String()
	}
	return output, nil
}
