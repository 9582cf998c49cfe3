package compass

import (
	"time"

	"github.com/shaunagostinho/pointdash/internal/gps"
)

// FromCourse derives a reading from the GPS course over ground. The course
// only tracks the device heading while it moves, so below minSpeed (km/h)
// both headings are reported as invalid.
func FromCourse(fix *gps.Data, minSpeed float64, now time.Time) Reading {
	r := Reading{Time: now, Magnetic: Invalid, True: Invalid, Accuracy: Invalid}
	if fix == nil || !fix.Valid || fix.Speed < minSpeed {
		return r
	}
	r.True = Normalize(fix.Heading)
	return r
}
