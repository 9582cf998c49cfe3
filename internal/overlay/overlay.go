// Package overlay implements the direction overlay: a view that shows a
// target point's name and category, the live distance to it and an arrow
// pointing at it, driven by location and compass samples.
package overlay

import (
	"sync"

	"github.com/shaunagostinho/pointdash/internal/compass"
	"github.com/shaunagostinho/pointdash/internal/geodesy"
	"github.com/shaunagostinho/pointdash/internal/gps"
	"github.com/shaunagostinho/pointdash/internal/location"
)

// TargetPoint is the map point the overlay points at.
type TargetPoint struct {
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Source delivers location and compass samples. *location.Hub satisfies it.
type Source interface {
	AddListener(l location.Listener)
	RemoveListener(l location.Listener)
	LastLocation() *gps.Data
}

// View renders the overlay and reports the display state it needs.
type View interface {
	SetTitle(text string)
	SetSubtitle(text string)
	SetDistance(text string)
	SetAzimuth(deg float64)
	Rotation() compass.Rotation
	// Dismiss closes the view. It is called at most once.
	Dismiss()
}

// Geodesy computes the distance and azimuth to a target.
type Geodesy interface {
	DistanceAndAzimuth(targetLat, targetLon, lat, lon, north float64) geodesy.DistanceAndAzimuth
}

// State is the overlay lifecycle state.
type State int

const (
	Hidden State = iota
	Visible
	Dismissed
)

func (s State) String() string {
	switch s {
	case Visible:
		return "visible"
	case Dismissed:
		return "dismissed"
	default:
		return "hidden"
	}
}

// TouchAction is the phase of a touch event. The overlay treats all phases
// the same.
type TouchAction string

const (
	TouchDown   TouchAction = "down"
	TouchMove   TouchAction = "move"
	TouchUp     TouchAction = "up"
	TouchCancel TouchAction = "cancel"
)

// TouchEvent is a touch on the overlay's root view.
type TouchEvent struct {
	Action TouchAction `json:"action"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
}

// Overlay is the direction overlay controller. It is safe for concurrent
// use; samples arriving after Pause returns never reach the view.
type Overlay struct {
	source  Source
	view    View
	geodesy Geodesy

	// lifeMu orders Resume, Pause and Dismiss so subscribe/unsubscribe
	// calls cannot interleave. Callbacks never take it.
	lifeMu sync.Mutex

	mu     sync.Mutex
	state  State
	target *TargetPoint
}

// New creates a hidden overlay.
func New(source Source, view View, geo Geodesy) *Overlay {
	return &Overlay{source: source, view: view, geodesy: geo}
}

// State reports the current lifecycle state.
func (o *Overlay) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Target returns the current target, or nil.
func (o *Overlay) Target() *TargetPoint {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.target == nil {
		return nil
	}
	t := *o.target
	return &t
}

// Show replaces the target. The title and subtitle are refreshed right away
// when the overlay is visible; otherwise they are rendered on Resume.
func (o *Overlay) Show(target TargetPoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == Dismissed {
		return
	}
	o.target = &target
	o.refreshLocked()
}

// Resume subscribes to the source and renders the current target.
func (o *Overlay) Resume() {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()

	o.mu.Lock()
	if o.state != Hidden {
		o.mu.Unlock()
		return
	}
	o.state = Visible
	o.mu.Unlock()

	o.source.AddListener(o)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshLocked()
}

// Pause unsubscribes from the source.
func (o *Overlay) Pause() {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()

	o.mu.Lock()
	if o.state != Visible {
		o.mu.Unlock()
		return
	}
	o.state = Hidden
	o.mu.Unlock()

	// Not under o.mu: RemoveListener waits for an in-flight delivery,
	// which may itself be waiting for o.mu.
	o.source.RemoveListener(o)
}

// Touch dismisses the overlay whatever the touch phase.
func (o *Overlay) Touch(TouchEvent) {
	o.Dismiss()
}

// Dismiss pauses the overlay and closes the view. Only the first call has
// an effect; it reports whether this call dismissed the overlay.
func (o *Overlay) Dismiss() bool {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()

	o.mu.Lock()
	prev := o.state
	if prev == Dismissed {
		o.mu.Unlock()
		return false
	}
	o.state = Dismissed
	o.mu.Unlock()

	if prev == Visible {
		o.source.RemoveListener(o)
	}
	o.view.Dismiss()
	return true
}

// OnLocationUpdated updates the distance label. The azimuth is measured
// against north here; the arrow follows compass readings only.
func (o *Overlay) OnLocationUpdated(fix *gps.Data) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Visible || o.target == nil || fix == nil {
		return
	}

	da := o.geodesy.DistanceAndAzimuth(o.target.Latitude, o.target.Longitude, fix.Latitude, fix.Longitude, 0)
	o.view.SetDistance(da.Distance)
}

// OnCompassUpdated rotates the arrow toward the target relative to the
// current heading. Readings with no usable heading leave the arrow as is.
func (o *Overlay) OnCompassUpdated(r compass.Reading) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Visible || o.target == nil {
		return
	}
	last := o.source.LastLocation()
	if last == nil {
		return
	}

	north := compass.Reference(r, o.view.Rotation())
	da := o.geodesy.DistanceAndAzimuth(o.target.Latitude, o.target.Longitude, last.Latitude, last.Longitude, north)
	if da.Azimuth >= 0 {
		o.view.SetAzimuth(da.Azimuth)
	}
}

// OnLocationError is ignored: the overlay keeps its last rendering and
// waits for the next sample.
func (o *Overlay) OnLocationError(location.ErrorCode) {}

func (o *Overlay) refreshLocked() {
	if o.target == nil || o.state != Visible {
		return
	}
	o.view.SetTitle(o.target.Name)
	o.view.SetSubtitle(o.target.Category)
}
