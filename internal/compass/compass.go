// Package compass models device orientation: heading readings from a
// compass sensor and their correction for the display rotation.
//
// All angles are in degrees clockwise from north. A negative angle means
// the value is not available.
package compass

import (
	"fmt"
	"math"
	"time"
)

// Invalid marks a heading that is not available.
const Invalid = -1.0

// Reading is a single orientation sample.
type Reading struct {
	Time     time.Time `json:"time"`
	Magnetic float64   `json:"magnetic"` // Heading relative to magnetic north
	True     float64   `json:"true"`     // Heading relative to true north
	Accuracy float64   `json:"accuracy"` // Degrees, negative when unknown
}

// Rotation is the clockwise rotation of the display from its natural
// orientation.
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// ParseRotation accepts any multiple of 90 degrees, positive or negative.
func ParseRotation(deg int) (Rotation, error) {
	if deg%90 != 0 {
		return Rotation0, fmt.Errorf("compass: rotation %d is not a multiple of 90", deg)
	}
	return Rotation(((deg % 360) + 360) % 360), nil
}

// Normalize maps any angle into [0, 360).
func Normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Correct shifts a heading by the display rotation. Negative headings stay
// untouched so "not available" survives the correction.
func Correct(rot Rotation, angle float64) float64 {
	if angle < 0 {
		return angle
	}
	return Normalize(angle + float64(rot))
}

// Reference picks the heading to measure azimuths against: the corrected
// true heading when available, otherwise the corrected magnetic heading.
// The result is negative when neither is available.
func Reference(r Reading, rot Rotation) float64 {
	magnetic := Correct(rot, r.Magnetic)
	trueNorth := Correct(rot, r.True)
	if trueNorth >= 0 {
		return trueNorth
	}
	return magnetic
}

var cardinals = []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// Cardinal converts a heading to an 8-point compass direction. Negative
// headings yield "".
func Cardinal(deg float64) string {
	if deg < 0 {
		return ""
	}
	index := int((Normalize(deg)+22.5)/45.0) % 8
	return cardinals[index]
}
