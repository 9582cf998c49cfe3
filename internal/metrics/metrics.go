// Package metrics defines the Prometheus collectors for the hub, the
// display sessions and the geocoder.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LocationSamples prometheus.Counter
	CompassSamples  *prometheus.CounterVec
	LocationErrors  *prometheus.CounterVec
	Listeners       prometheus.Gauge
	Clients         prometheus.Gauge
	Dismissals      prometheus.Counter
	GeocodeSeconds  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		LocationSamples: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pointdash_location_samples_total",
			Help: "Total number of valid location fixes delivered to listeners.",
		}),
		CompassSamples: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pointdash_compass_samples_total",
			Help: "Total number of heading readings delivered to listeners.",
		}, []string{"source"}),
		LocationErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pointdash_location_errors_total",
			Help: "Total number of location errors delivered to listeners.",
		}, []string{"code"}),
		Listeners: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pointdash_location_listeners",
			Help: "Current number of subscribed location listeners.",
		}),
		Clients: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pointdash_websocket_clients",
			Help: "Current number of connected display clients.",
		}),
		Dismissals: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pointdash_overlay_dismissals_total",
			Help: "Total number of direction overlays dismissed by touch.",
		}),
		GeocodeSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pointdash_geocode_request_duration_seconds",
			Help:    "Duration of requests to the geocoding provider API.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}
