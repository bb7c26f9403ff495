// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import "github.com/vorlif/spreak/localize"

// i18nVars maps the lowercase keys accepted by the loc template function to their message IDs.
var i18nVars = map[string]localize.MsgID{
	"position":  "Position",
	"reference": "Reference",
	"north":     "North",
	"east":      "East",
	"bearing":   "Bearing",
	"source":    "Source",
	"lastfix":   "Last fix",

	// Compass points
	"n":  "N",
	"ne": "NE",
	"e":  "E",
	"se": "SE",
	"s":  "S",
	"sw": "SW",
	"w":  "W",
	"nw": "NW",
}
