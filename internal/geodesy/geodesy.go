// Package geodesy computes the straight-line distance and the azimuth from
// the device position to a target point.
package geodesy

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/shaunagostinho/pointdash/internal/compass"
)

// Units selects the measurement system distances are formatted in.
type Units string

const (
	Metric   Units = "metric"
	Imperial Units = "imperial"
)

// ParseUnits accepts "metric"/"km" and "imperial"/"mi"; anything else is
// an error.
func ParseUnits(s string) (Units, error) {
	switch s {
	case "metric", "km", "":
		return Metric, nil
	case "imperial", "mi", "mph":
		return Imperial, nil
	default:
		return Metric, fmt.Errorf("geodesy: unknown units %q", s)
	}
}

// InvalidAzimuth is returned when no reference heading is available.
const InvalidAzimuth = -1.0

// DistanceAndAzimuth is the result of one computation. Meters is kept for
// callers that need the raw value; the displayed text is Distance.
type DistanceAndAzimuth struct {
	Distance string  `json:"distance"`
	Meters   float64 `json:"meters"`
	Azimuth  float64 `json:"azimuth"`
}

// Calculator formats distances in its Units.
type Calculator struct {
	Units Units
}

// NewCalculator returns a Calculator for the given units.
func NewCalculator(units Units) *Calculator {
	return &Calculator{Units: units}
}

// DistanceAndAzimuth measures from the device at (lat, lon) to the target.
// north is the device heading in degrees; the azimuth is the bearing to the
// target measured clockwise from it, in [0, 360). A negative north yields
// InvalidAzimuth.
func (c *Calculator) DistanceAndAzimuth(targetLat, targetLon, lat, lon, north float64) DistanceAndAzimuth {
	from := orb.Point{lon, lat}
	to := orb.Point{targetLon, targetLat}

	meters := geo.Distance(from, to)
	result := DistanceAndAzimuth{
		Distance: FormatDistance(meters, c.Units),
		Meters:   meters,
		Azimuth:  InvalidAzimuth,
	}
	if north >= 0 {
		result.Azimuth = compass.Normalize(geo.Bearing(from, to) - north)
	}
	return result
}

// Bearing is the initial great-circle bearing from (lat, lon) to the target,
// degrees clockwise from true north in [0, 360).
func Bearing(lat, lon, targetLat, targetLon float64) float64 {
	return compass.Normalize(geo.Bearing(orb.Point{lon, lat}, orb.Point{targetLon, targetLat}))
}

const (
	metersPerFoot = 0.3048
	metersPerMile = 1609.344
)

// FormatDistance renders a distance for display. Metric shows meters below
// 1 km, one decimal below 10 km and whole kilometers beyond. Imperial shows
// feet below 0.1 mi, then miles the same way.
func FormatDistance(meters float64, units Units) string {
	if math.IsNaN(meters) || meters < 0 {
		meters = 0
	}

	if units == Imperial {
		miles := meters / metersPerMile
		switch {
		case miles < 0.1:
			return fmt.Sprintf("%.0f ft", meters/metersPerFoot)
		case miles < 10:
			return fmt.Sprintf("%.1f mi", miles)
		default:
			return fmt.Sprintf("%.0f mi", miles)
		}
	}

	switch {
	case meters < 1000:
		return fmt.Sprintf("%.0f m", meters)
	case meters < 10000:
		return fmt.Sprintf("%.1f km", meters/1000)
	default:
		return fmt.Sprintf("%.0f km", meters/1000)
	}
}
