// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"math"

	"github.com/wneessen/geoconv"
)

const (
	DistanceThreshold = 25.0 // meters
	AccuracyThreshold = 50.0
)

// Coordinate represents a located point and the accuracy radius of the fix in meters.
type Coordinate struct {
	Point geoconv.GeoPoint
	Acc   float64
}

// PosHasSignificantChange reports whether c differs significantly from other. A clearly better
// accuracy always counts, otherwise the great-circle distance must exceed DistanceThreshold.
func (c Coordinate) PosHasSignificantChange(other Coordinate) bool {
	if c.Acc < other.Acc && math.Abs(c.Acc-other.Acc) > AccuracyThreshold {
		return true
	}
	return geoconv.Distance(c.Point, other.Point) > DistanceThreshold
}

// Truncate cuts v down to the given number of decimal places, so that sources with noisy
// readings emit stable values.
func Truncate(v float64, precision int) float64 {
	pow := math.Pow(10, float64(precision))
	return math.Trunc(v*pow) / pow
}
