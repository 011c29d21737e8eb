package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean radius of Earth used for Haversine distance.
const EarthRadiusMeters = 6_371_000.0

// UnknownDistance marks a match whose distance to the sort origin could not be computed.
const UnknownDistance uint32 = math.MaxUint32

// Coordinate is a WGS84 position in degrees. The zero value is unresolved.
type Coordinate struct {
	Lat float64
	Lon float64

	set bool
}

// NewCoordinate creates a resolved coordinate.
func NewCoordinate(lat, lon float64) Coordinate {
	return Coordinate{Lat: lat, Lon: lon, set: true}
}

// Valid reports whether the coordinate was resolved and lies within range.
func (c Coordinate) Valid() bool {
	return c.set && ValidateCoordinates(c.Lat, c.Lon)
}

func (c Coordinate) String() string {
	if !c.Valid() {
		return "(unresolved)"
	}
	return fmt.Sprintf("(%.6f,%.6f)", c.Lat, c.Lon)
}

// DistanceMeters returns the rounded great-circle distance between a and b,
// or UnknownDistance when either side is unresolved.
func DistanceMeters(a, b Coordinate) uint32 {
	if !a.Valid() || !b.Valid() {
		return UnknownDistance
	}
	d := Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
	if d >= float64(UnknownDistance) {
		return UnknownDistance - 1
	}
	return uint32(d)
}

// BoundingBox is an axis-aligned box in degrees. The zero value is empty.
type BoundingBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64

	set bool
}

// NewBoundingBox creates a box from two corners.
func NewBoundingBox(minLat, minLon, maxLat, maxLon float64) BoundingBox {
	return BoundingBox{MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon, set: true}
}

// Valid reports whether the box was set and its corners are ordered.
func (b BoundingBox) Valid() bool {
	return b.set && b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon &&
		ValidateCoordinates(b.MinLat, b.MinLon) && ValidateCoordinates(b.MaxLat, b.MaxLon)
}

// Contains reports whether c lies inside the box.
func (b BoundingBox) Contains(c Coordinate) bool {
	if !b.Valid() || !c.Valid() {
		return false
	}
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat && c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

// Haversine returns the great-circle distance in meters between two points
// specified by latitude and longitude in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1r := lat1 * math.Pi / 180
	lat2r := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// ValidateCoordinates checks that latitude is in [-90,90] and longitude in [-180,180].
func ValidateCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
