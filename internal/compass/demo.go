package compass

import (
	"math"
	"sync"
	"time"
)

// DemoCompass generates a slowly sweeping heading.
type DemoCompass struct {
	mu sync.Mutex
	t  float64
}

func NewDemoCompass() *DemoCompass { return &DemoCompass{} }

func (d *DemoCompass) Name() string   { return "Demo Compass (Simulated)" }
func (d *DemoCompass) Connect() error { return nil }
func (d *DemoCompass) Close() error   { return nil }

func (d *DemoCompass) Read() (*Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.t += 0.1

	const declination = -10.5 // Toronto, degrees east
	heading := Normalize(90 * math.Sin(d.t*0.05))

	return &Reading{
		Time:     time.Now(),
		Magnetic: Normalize(heading - declination),
		True:     heading,
		Accuracy: 5,
	}, nil
}
