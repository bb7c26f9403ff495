// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package i18n

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/Xuanwo/go-locale"
	"github.com/vorlif/spreak"
	"golang.org/x/text/language"
)

//go:embed locale/*
var locales embed.FS

// New returns a localizer for loc. An empty loc is detected from the environment and falls
// back to English. Languages without a catalog are rendered in English.
func New(loc string) (*spreak.Localizer, error) {
	tag := language.English
	if loc == "" {
		detected, err := locale.Detect()
		if err == nil && detected != language.Und {
			tag = detected
		}
	} else {
		parsed, err := language.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse locale %q: %w", loc, err)
		}
		tag = parsed
	}

	localeFS, err := fs.Sub(locales, "locale")
	if err != nil {
		return nil, fmt.Errorf("failed to load locales: %w", err)
	}

	bundle, err := spreak.NewBundle(
		spreak.WithSourceLanguage(language.English),
		spreak.WithFallbackLanguage(language.English),
		spreak.WithDomainFs(spreak.NoDomain, localeFS),
		spreak.WithLanguage(tag),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create i18n bundle: %w", err)
	}
	return spreak.NewLocalizer(bundle, tag), nil
}
