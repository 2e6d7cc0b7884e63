// Package heading turns raw orientation readings into a true heading and
// computes the shortest signed turn between two directions.
package heading

import "math"

// Sample is one orientation reading as delivered by a sensor source.
//
// CompassHeadingDeg is the platform compass heading when the platform offers
// one; AlphaDeg is the generic orientation alpha. Either may be nil.
type Sample struct {
	CompassHeadingDeg *float64 `json:"compass_heading,omitempty"`
	AlphaDeg          *float64 `json:"alpha,omitempty"`
	ScreenRotationDeg float64  `json:"screen_angle"`
}

// wrap360 maps any angle into [0,360).
func wrap360(deg float64) float64 {
	m := math.Mod(deg, 360.0)
	if m < 0 {
		m += 360.0
	}
	if m >= 360.0 {
		m = 0
	}
	return m
}

// TrueHeading adds the screen rotation offset to a raw heading.
func TrueHeading(rawDeg, screenRotationDeg float64) float64 {
	return wrap360(rawDeg + screenRotationDeg)
}

// Resolve picks the raw heading from s and normalizes it.
// ok is false when the sample carries no usable heading.
func Resolve(s Sample) (deg float64, ok bool) {
	var raw *float64
	switch {
	case s.CompassHeadingDeg != nil:
		raw = s.CompassHeadingDeg
	case s.AlphaDeg != nil:
		raw = s.AlphaDeg
	default:
		return 0, false
	}
	if math.IsNaN(*raw) || math.IsInf(*raw, 0) {
		return 0, false
	}
	return TrueHeading(*raw, s.ScreenRotationDeg), true
}

// ShortestTurn returns the signed turn from current to target in (-180,180].
// Positive is clockwise.
func ShortestTurn(targetDeg, currentDeg float64) float64 {
	turn := wrap360(targetDeg-currentDeg+540.0) - 180.0
	if turn == -180.0 {
		return 180.0
	}
	return turn
}
