package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadiusM is the mean Earth radius used by Distance.
const EarthRadiusM = 6371000.0

// Coordinate is a latitude/longitude pair in decimal degrees.
//
// Inputs are not validated; values outside [-90,90] / [-180,180] produce
// undefined (but finite) results.
type Coordinate struct {
	LatDeg float64 `json:"lat_deg" yaml:"lat_deg"`
	LonDeg float64 `json:"lon_deg" yaml:"lon_deg"`
}

// Point converts to an orb point (lon, lat order).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.LonDeg, c.LatDeg}
}

func FromPoint(p orb.Point) Coordinate {
	return Coordinate{LatDeg: p.Lat(), LonDeg: p.Lon()}
}

func toRad(deg float64) float64 { return deg * math.Pi / 180.0 }
func toDeg(rad float64) float64 { return rad * 180.0 / math.Pi }

// Distance returns the great-circle distance in meters (haversine).
func Distance(a, b Coordinate) float64 {
	dLat := toRad(b.LatDeg - a.LatDeg)
	dLon := toRad(b.LonDeg - a.LonDeg)
	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.LatDeg))*math.Cos(toRad(b.LatDeg))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return EarthRadiusM * c
}

// Bearing returns the initial great-circle bearing from a to b in [0,360).
func Bearing(a, b Coordinate) float64 {
	phi1 := toRad(a.LatDeg)
	phi2 := toRad(b.LatDeg)
	dLon := toRad(b.LonDeg - a.LonDeg)

	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)

	deg := math.Mod(toDeg(math.Atan2(y, x))+360.0, 360.0)
	// Mod can round up to exactly 360 for tiny negative angles.
	if deg >= 360.0 {
		deg = 0
	}
	return deg
}
