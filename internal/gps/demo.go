package gps

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// DemoGPS generates simulated GPS data for testing.
type DemoGPS struct {
	mu sync.Mutex
	t  float64
}

func NewDemoGPS() *DemoGPS { return &DemoGPS{} }

func (d *DemoGPS) Name() string   { return "Demo GPS (Simulated)" }
func (d *DemoGPS) Connect() error { return nil }
func (d *DemoGPS) Close() error   { return nil }

func (d *DemoGPS) Read() (*Data, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.t += 0.1

	// Simulate walking in a circle around a point
	centerLat := 43.6532 // Toronto
	centerLon := -79.3832
	radius := 0.002 // ~200m

	angle := d.t * 0.05
	return &Data{
		Valid:      true,
		Latitude:   centerLat + radius*math.Sin(angle),
		Longitude:  centerLon + radius*math.Cos(angle),
		Speed:      5 + rand.Float64(),
		Heading:    math.Mod(math.Mod(-angle*180/math.Pi, 360)+360, 360),
		Altitude:   76,
		Satellites: 12,
		FixQuality: 1,
		HDOP:       0.8,
		Timestamp:  time.Now().UTC().Format("150405.00"),
	}, nil
}
