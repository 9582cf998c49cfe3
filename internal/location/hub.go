// Package location fans GPS fixes and compass readings out to subscribed
// listeners.
package location

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/shaunagostinho/pointdash/internal/compass"
	"github.com/shaunagostinho/pointdash/internal/gps"
	"github.com/shaunagostinho/pointdash/internal/metrics"
	"go.uber.org/zap"
)

// ErrorCode tells listeners why no location is available.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota
	ErrorNotSupported
	ErrorDenied
	ErrorGPSOff
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNotSupported:
		return "not_supported"
	case ErrorDenied:
		return "denied"
	case ErrorGPSOff:
		return "gps_off"
	default:
		return "unknown"
	}
}

// Listener receives location updates. Callbacks are delivered one at a
// time and must not call back into AddListener or RemoveListener.
type Listener interface {
	OnLocationUpdated(fix *gps.Data)
	OnCompassUpdated(r compass.Reading)
	OnLocationError(code ErrorCode)
}

// Config holds hub polling settings.
type Config struct {
	GPSInterval     time.Duration
	CompassInterval time.Duration
	// CourseMinSpeed enables deriving headings from the GPS course when no
	// compass provider is set. Zero disables it.
	CourseMinSpeed float64
}

// Hub polls the providers and delivers samples to listeners.
type Hub struct {
	gpsProv     gps.Provider
	compassProv compass.Provider
	cfg         Config
	log         *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	// dispatchMu serializes deliveries with listener changes, so a removed
	// listener never sees a callback after RemoveListener returns.
	dispatchMu sync.Mutex
	listeners  []Listener
	lastErr    *ErrorCode

	lastMu sync.RWMutex
	last   *gps.Data
}

// NewHub creates a hub. Either provider may be nil.
func NewHub(gpsProv gps.Provider, compassProv compass.Provider, cfg Config, log *zap.Logger, m *metrics.Metrics) *Hub {
	if cfg.GPSInterval <= 0 {
		cfg.GPSInterval = 100 * time.Millisecond // 10 Hz
	}
	if cfg.CompassInterval <= 0 {
		cfg.CompassInterval = 100 * time.Millisecond
	}
	return &Hub{
		gpsProv:     gpsProv,
		compassProv: compassProv,
		cfg:         cfg,
		log:         log,
		metrics:     m,
		now:         time.Now,
	}
}

// AddListener subscribes l. Adding the same listener twice is a no-op.
func (h *Hub) AddListener(l Listener) {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	if slices.Contains(h.listeners, l) {
		return
	}
	h.listeners = append(h.listeners, l)
	h.metrics.Listeners.Set(float64(len(h.listeners)))
	h.log.Debug("listener added", zap.Int("listeners", len(h.listeners)))
}

// RemoveListener unsubscribes l. It waits for an in-flight delivery to
// finish, so no callback reaches l once it returns.
func (h *Hub) RemoveListener(l Listener) {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	h.listeners = slices.DeleteFunc(h.listeners, func(x Listener) bool { return x == l })
	h.metrics.Listeners.Set(float64(len(h.listeners)))
	h.log.Debug("listener removed", zap.Int("listeners", len(h.listeners)))
}

// LastLocation returns a copy of the most recent valid fix, or nil.
func (h *Hub) LastLocation() *gps.Data {
	h.lastMu.RLock()
	defer h.lastMu.RUnlock()
	if h.last == nil {
		return nil
	}
	snap := *h.last
	return &snap
}

// PublishLocation records fix as the last location and delivers it.
// Invalid fixes are dropped.
func (h *Hub) PublishLocation(fix *gps.Data) {
	if fix == nil || !fix.Valid {
		return
	}
	snap := *fix

	h.lastMu.Lock()
	h.last = &snap
	h.lastMu.Unlock()

	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	h.lastErr = nil
	h.metrics.LocationSamples.Inc()
	for _, l := range h.listeners {
		l.OnLocationUpdated(&snap)
	}
}

// PublishCompass delivers a heading reading.
func (h *Hub) PublishCompass(r compass.Reading, source string) {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	h.metrics.CompassSamples.WithLabelValues(source).Inc()
	for _, l := range h.listeners {
		l.OnCompassUpdated(r)
	}
}

// PublishError delivers code. Repeats of the same code are suppressed
// until a valid fix arrives.
func (h *Hub) PublishError(code ErrorCode) {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	if h.lastErr != nil && *h.lastErr == code {
		return
	}
	h.lastErr = &code
	h.metrics.LocationErrors.WithLabelValues(code.String()).Inc()
	h.log.Warn("location unavailable", zap.Stringer("code", code))
	for _, l := range h.listeners {
		l.OnLocationError(code)
	}
}

// Run polls the providers until ctx is canceled. GPS and compass are polled
// independently so one stalled device does not hold up the other.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if h.gpsProv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.pollGPS(ctx)
		}()
	}
	if h.compassProv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.pollCompass(ctx)
		}()
	}

	h.log.Info("hub started",
		zap.Bool("gps", h.gpsProv != nil),
		zap.Bool("compass", h.compassProv != nil),
		zap.Float64("course_min_speed", h.cfg.CourseMinSpeed))
	wg.Wait()
	h.log.Info("hub stopped")
}

func (h *Hub) pollGPS(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.GPSInterval)
	defer ticker.Stop()
	var rd redial
	log := h.log.With(zap.String("device", "gps"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := h.gpsProv.Read()
			if err != nil {
				h.PublishError(errorCode(err))
				if errors.Is(err, gps.ErrNotConnected) {
					rd.attempt(h.now(), h.gpsProv.Connect, log)
				}
				continue
			}
			h.PublishLocation(data)
			if h.compassProv == nil && h.cfg.CourseMinSpeed > 0 && data != nil && data.Valid {
				h.PublishCompass(compass.FromCourse(data, h.cfg.CourseMinSpeed, h.now()), "course")
			}
		}
	}
}

func (h *Hub) pollCompass(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CompassInterval)
	defer ticker.Stop()
	var rd redial
	log := h.log.With(zap.String("device", "compass"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r, err := h.compassProv.Read()
			if err != nil {
				log.Debug("read failed", zap.Error(err))
				if errors.Is(err, compass.ErrNotConnected) {
					rd.attempt(h.now(), h.compassProv.Connect, log)
				}
				continue
			}
			h.PublishCompass(*r, "compass")
		}
	}
}

func errorCode(err error) ErrorCode {
	if errors.Is(err, gps.ErrNotConnected) {
		return ErrorGPSOff
	}
	return ErrorUnknown
}

const (
	redialMin = 1 * time.Second
	redialMax = 60 * time.Second
)

// redial paces Connect calls for a device that is not connected: the
// first attempt is immediate, then 1s doubling up to 60s between tries.
type redial struct {
	next  time.Time
	delay time.Duration
}

// attempt calls connect unless the backoff window is still open. It
// reports whether connect ran and succeeded.
func (r *redial) attempt(now time.Time, connect func() error, log *zap.Logger) bool {
	if now.Before(r.next) {
		return false
	}
	if err := connect(); err != nil {
		if r.delay == 0 {
			r.delay = redialMin
		} else {
			r.delay = min(r.delay*2, redialMax)
		}
		r.next = now.Add(r.delay)
		log.Debug("reconnect failed", zap.Duration("retry_in", r.delay), zap.Error(err))
		return false
	}
	if r.delay > 0 {
		log.Info("reconnected")
	}
	r.delay = 0
	r.next = time.Time{}
	return true
}
