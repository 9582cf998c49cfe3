// Package server hosts the display clients: an embedded web UI, a WebSocket
// endpoint that gives every client its own direction overlay, and a small
// JSON API over the target catalog, geocoder and config.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shaunagostinho/pointdash/internal/catalog"
	"github.com/shaunagostinho/pointdash/internal/compass"
	"github.com/shaunagostinho/pointdash/internal/geocoding"
	"github.com/shaunagostinho/pointdash/internal/geodesy"
	"github.com/shaunagostinho/pointdash/internal/metrics"
	"github.com/shaunagostinho/pointdash/internal/overlay"
	"go.uber.org/zap"
)

// Options wires a Server. Catalog and Geocoder may be nil.
type Options struct {
	Config       *Config
	Hub          overlay.Source
	Catalog      *catalog.Catalog
	Geocoder     geocoding.Provider
	GeocoderName string
	WebFS        fs.FS
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
}

// Server serves the web UI, the overlay sessions and the API.
type Server struct {
	cfg          *Config
	hub          overlay.Source
	catalog      *catalog.Catalog
	geocoder     geocoding.Provider
	geocoderName string
	webFS        fs.FS
	log          *zap.Logger
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer

	sessions   map[*session]struct{}
	sessionsMu sync.RWMutex

	upgrader websocket.Upgrader
}

// New creates a new Server.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	return &Server{
		cfg:          opts.Config,
		hub:          opts.Hub,
		catalog:      opts.Catalog,
		geocoder:     opts.Geocoder,
		geocoderName: opts.GeocoderName,
		webFS:        opts.WebFS,
		log:          log,
		metrics:      opts.Metrics,
		gatherer:     opts.Gatherer,
		sessions:     make(map[*session]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	router.GET("/ws", s.handleWS)
	router.GET("/healthz", s.handleHealth)

	router.GET("/api/targets", s.handleTargets)
	router.GET("/api/targets/:id", s.handleTarget)
	router.GET("/api/categories", s.handleCategories)
	router.GET("/api/geocode", s.handleGeocode)
	router.GET("/api/bearing", s.handleBearing)
	router.GET("/api/config", s.handleGetConfig)
	router.POST("/api/config", s.handlePostConfig)

	if s.gatherer != nil {
		router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Serve embedded web files
	if s.webFS != nil {
		router.NotFound = http.FileServer(http.FS(s.webFS))
	}
	return router
}

// Run starts the HTTP server and blocks until ctx is canceled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			s.log.Warn("shutdown", zap.Error(err))
		}
		s.closeSessions()
	}()

	s.log.Info("listening", zap.String("addr", s.cfg.Server.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.ListenAddr, err)
	}
	return nil
}

// NotifyCatalogReloaded tells every client to refresh its target list.
func (s *Server) NotifyCatalogReloaded() {
	s.broadcast(Frame{Type: "catalog", Stamp: time.Now().UnixMilli()})
}

// Sessions returns the number of connected clients.
func (s *Server) Sessions() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

func (s *Server) broadcast(frame Frame) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	for sess := range s.sessions {
		sess.push(frame)
	}
}

func (s *Server) closeSessions() {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	for sess := range s.sessions {
		sess.conn.Close()
	}
}

// calculator builds a geodesy calculator for the configured units.
func (s *Server) calculator() *geodesy.Calculator {
	units, err := geodesy.ParseUnits(s.cfg.Units())
	if err != nil {
		s.log.Warn("bad distance units, using metric", zap.Error(err))
	}
	return geodesy.NewCalculator(units)
}

func (s *Server) geocode(ctx context.Context, query string) (*overlay.TargetPoint, error) {
	if s.geocoder == nil {
		return nil, errors.New("geocoding is disabled")
	}
	start := time.Now()
	place, err := s.geocoder.Geocode(ctx, query)
	s.metrics.GeocodeSeconds.WithLabelValues(s.geocoderName).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}
	return &overlay.TargetPoint{
		Name:      place.Name,
		Category:  place.Category,
		Latitude:  place.Latitude,
		Longitude: place.Longitude,
	}, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := newSession(s, conn)

	s.sessionsMu.Lock()
	s.sessions[sess] = struct{}{}
	total := len(s.sessions)
	s.sessionsMu.Unlock()
	s.metrics.Clients.Inc()

	sess.log.Info("client connected", zap.Int("total", total))
	sess.push(Frame{Type: "hello", Session: sess.id, Stamp: time.Now().UnixMilli()})

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range sess.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	defer func() {
		sess.close()
		s.sessionsMu.Lock()
		delete(s.sessions, sess)
		total := len(s.sessions)
		s.sessionsMu.Unlock()
		s.metrics.Clients.Dec()
		sess.log.Info("client disconnected", zap.Int("total", total))
	}()

	// Read commands until the client goes away.
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := sess.handleMessage(r.Context(), raw); err != nil {
			sess.log.Debug("client message rejected", zap.Error(err))
			sess.push(Frame{Type: "error", Error: err.Error(), Stamp: time.Now().UnixMilli()})
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.Sessions(),
	})
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.catalog == nil {
		writeJSON(w, http.StatusOK, []catalog.Entry{})
		return
	}
	entries := s.catalog.List()
	if cat := r.URL.Query().Get("category"); cat != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Category == cat {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTarget(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	if s.catalog == nil {
		http.Error(w, "no catalog", http.StatusNotFound)
		return
	}
	e, err := s.catalog.Get(ps.ByName("id"))
	if errors.Is(err, catalog.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if s.catalog == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.Categories())
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		http.Error(w, "missing q", http.StatusBadRequest)
		return
	}
	if s.geocoder == nil {
		http.Error(w, "geocoding is disabled", http.StatusServiceUnavailable)
		return
	}
	target, err := s.geocode(r.Context(), q)
	if errors.Is(err, geocoding.ErrEmptyResponse) {
		http.Error(w, "no match", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Warn("geocode failed", zap.String("query", q), zap.Error(err))
		http.Error(w, "geocoding failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// bearingResponse answers /api/bearing.
type bearingResponse struct {
	geodesy.DistanceAndAzimuth
	Cardinal string `json:"cardinal,omitempty"`
}

func (s *Server) handleBearing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	fromLat, fromLon, err := ParseLatLon(q.Get("from"))
	if err != nil {
		http.Error(w, "from: "+err.Error(), http.StatusBadRequest)
		return
	}
	toLat, toLon, err := ParseLatLon(q.Get("to"))
	if err != nil {
		http.Error(w, "to: "+err.Error(), http.StatusBadRequest)
		return
	}
	north := 0.0
	if v := q.Get("north"); v != "" {
		north, err = strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "north: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	calc := s.calculator()
	if v := q.Get("units"); v != "" {
		units, err := geodesy.ParseUnits(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		calc = geodesy.NewCalculator(units)
	}

	res := bearingResponse{DistanceAndAzimuth: calc.DistanceAndAzimuth(toLat, toLon, fromLat, fromLon, north)}
	if res.Azimuth >= 0 {
		res.Cardinal = compass.Cardinal(res.Azimuth)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	data, err := s.cfg.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.cfg.UpdateFromJSON(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := geodesy.ParseUnits(s.cfg.Units()); err != nil {
		s.log.Warn("config has unknown units", zap.Error(err))
	}
	if err := s.cfg.Save(); err != nil {
		s.log.Error("config save failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ParseLatLon parses "lat,lon" in decimal degrees.
func ParseLatLon(s string) (lat, lon float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want lat,lon, got %q", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("latitude: %w", err)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("longitude: %w", err)
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("out of range: %q", s)
	}
	return lat, lon, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
