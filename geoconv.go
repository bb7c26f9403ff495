// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geoconv converts between geographic coordinates on a spherical Earth and local
// planar offsets in metres relative to a reference point, and computes great-circle distances.
//
// The formulas are adapted from http://www.movable-type.co.uk/scripts/latlong.html. Earth is
// treated as a sphere with the WGS84 equatorial radius, which is adequate for short-range local
// positioning but not for ellipsoidal-precision geodesy.
package geoconv

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EarthRadius is the radius of the spherical Earth model in metres.
const EarthRadius = 6378137.0

// ErrInvalidFormat is returned if a coordinate string cannot be parsed.
var ErrInvalidFormat = errors.New("invalid coordinate format, expected \"lat,lon\"")

// GeoPoint represents a point on the Earth's surface, defined by WGS84 latitude and longitude
// in degrees. The values are not range checked.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// LocalPosition is an offset vector in metres from Reference.
//
// X and Y are the bearing-resolved components of the offset: X is the NORTHWARD component and
// Y is the EASTWARD component. This follows from the navigational bearing convention (0 = north,
// π/2 = east) with X = d*cos(bearing) and Y = d*sin(bearing). Do not treat X as the
// longitude axis.
type LocalPosition struct {
	X         float64
	Y         float64
	Reference GeoPoint
}

// NewGeoPoint returns a GeoPoint for the given latitude and longitude in degrees.
func NewGeoPoint(latitude, longitude float64) GeoPoint {
	return GeoPoint{Latitude: latitude, Longitude: longitude}
}

// NewLocalPosition returns a LocalPosition with x (north) and y (east) in metres from reference.
func NewLocalPosition(x, y float64, reference GeoPoint) LocalPosition {
	return LocalPosition{X: x, Y: y, Reference: reference}
}

// ParseGeoPoint parses a "lat,lon" string. Surrounding parentheses and whitespace are ignored,
// so the output of GeoPoint.String parses back into the same point.
func ParseGeoPoint(s string) (GeoPoint, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "(")
	raw = strings.TrimSuffix(raw, ")")
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return GeoPoint{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return GeoPoint{}, fmt.Errorf("%w: %q: %w", ErrInvalidFormat, s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return GeoPoint{}, fmt.Errorf("%w: %q: %w", ErrInvalidFormat, s, err)
	}
	return GeoPoint{Latitude: lat, Longitude: lon}, nil
}

// String returns the point as "(lat, lon)" using the shortest representation that
// round-trips both values.
func (p GeoPoint) String() string {
	return "(" + formatFloat(p.Latitude) + ", " + formatFloat(p.Longitude) + ")"
}

// Valid reports whether the latitude and longitude are within their geographic ranges.
func (p GeoPoint) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// DistanceTo returns the great-circle distance in metres from p to reference.
func (p GeoPoint) DistanceTo(reference GeoPoint) float64 {
	return Distance(p, reference)
}

// ToLocal returns the position of p relative to reference.
func (p GeoPoint) ToLocal(reference GeoPoint) LocalPosition {
	return ToLocal(p, reference)
}

// ToGeo returns the geographic point the position resolves to.
func (l LocalPosition) ToGeo() GeoPoint {
	return ToGeo(l)
}

// ToGeoCompat returns the geographic point using the legacy bearing handling. See ToGeoCompat.
func (l LocalPosition) ToGeoCompat() GeoPoint {
	return ToGeoCompat(l)
}

// Magnitude returns the length of the offset vector in metres.
func (l LocalPosition) Magnitude() float64 {
	return math.Hypot(l.X, l.Y)
}

// Bearing returns the direction of the offset vector in radians, 0 = north, π/2 = east.
func (l LocalPosition) Bearing() float64 {
	return math.Atan2(l.Y, l.X)
}

func (l LocalPosition) String() string {
	return "(" + formatFloat(l.X) + ", " + formatFloat(l.Y) + ") from " + l.Reference.String()
}

// Distance returns the haversine distance in metres between point and reference.
func Distance(point, reference GeoPoint) float64 {
	lat1 := toRadians(reference.Latitude)
	lat2 := toRadians(point.Latitude)
	dLat := toRadians(point.Latitude - reference.Latitude)
	dLon := toRadians(point.Longitude - reference.Longitude)

	hLat := (1 - math.Cos(dLat)) / 2
	hLon := (1 - math.Cos(dLon)) / 2
	a := clamp(hLat+math.Cos(lat1)*math.Cos(lat2)*hLon, 0, 1)

	return math.Asin(math.Sqrt(a)) * 2 * EarthRadius
}

// Bearing returns the initial great-circle bearing from reference to point in radians within
// (-π, π], with 0 = north and π/2 = east. Coincident points yield 0.
func Bearing(point, reference GeoPoint) float64 {
	lat1 := toRadians(reference.Latitude)
	lat2 := toRadians(point.Latitude)
	dLon := toRadians(point.Longitude - reference.Longitude)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Atan2(y, x)
}

// ToLocal converts point into an offset from reference. The magnitude of the result equals
// Distance(point, reference) and its direction is the initial bearing from reference to point.
// X of the result is the northward and Y the eastward component.
func ToLocal(point, reference GeoPoint) LocalPosition {
	bearing := Bearing(point, reference)
	d := Distance(point, reference)
	return LocalPosition{
		X:         d * math.Cos(bearing),
		Y:         d * math.Sin(bearing),
		Reference: reference,
	}
}

// ToGeo converts position back into geographic coordinates by travelling the offset distance
// along its bearing from position.Reference. It is the inverse of ToLocal within floating-point
// tolerance.
func ToGeo(position LocalPosition) GeoPoint {
	return destination(position.Reference, position.Magnitude(), position.Bearing())
}

// ToGeoCompat behaves like ToGeo but converts the already radian bearing a second time as if
// it were given in degrees. Earlier releases computed inverse projections this way, so the
// result does not invert ToLocal for any non-zero offset. It exists for callers that need
// output identical to those releases.
func ToGeoCompat(position LocalPosition) GeoPoint {
	return destination(position.Reference, position.Magnitude(), toRadians(position.Bearing()))
}

// destination returns the point reached from origin after travelling distance metres along
// the great circle with the given initial bearing in radians.
func destination(origin GeoPoint, distance, bearing float64) GeoPoint {
	lat := toRadians(origin.Latitude)
	lon := toRadians(origin.Longitude)
	angular := distance / EarthRadius

	newLat := math.Asin(clamp(math.Sin(lat)*math.Cos(angular)+
		math.Cos(lat)*math.Sin(angular)*math.Cos(bearing), -1, 1))
	newLon := lon + math.Atan2(
		math.Sin(bearing)*math.Sin(angular)*math.Cos(lat),
		math.Cos(angular)-math.Sin(lat)*math.Sin(newLat),
	)

	return GeoPoint{Latitude: toDegrees(newLat), Longitude: toDegrees(newLon)}
}

// clamp limits v to [lo, hi]. NaN is returned unchanged.
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func toDegrees(radians float64) float64 {
	return radians * 180 / math.Pi
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
