// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

// GeolocationState remembers the last coordinate a source emitted.
type GeolocationState struct {
	last     Coordinate
	haveLast bool
}

// Update stores coord as the last emitted coordinate.
func (s *GeolocationState) Update(coord Coordinate) {
	s.last = coord
	s.haveLast = true
}

// HasChanged reports whether coord is a new position compared to the last emitted one. Accuracy
// changes alone do not count.
func (s *GeolocationState) HasChanged(coord Coordinate) bool {
	if !s.haveLast {
		return true
	}
	return s.last.Point != coord.Point
}
