package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shaunagostinho/pointdash/internal/catalog"
	"github.com/shaunagostinho/pointdash/internal/compass"
	"github.com/shaunagostinho/pointdash/internal/geocoding"
	"github.com/shaunagostinho/pointdash/internal/gps"
	"github.com/shaunagostinho/pointdash/internal/location"
	"github.com/shaunagostinho/pointdash/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const targetsJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 0]},
     "properties": {"id": "east", "name": "East Point", "category": "Marker"}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [0, 1]},
     "properties": {"id": "north", "name": "North Point", "category": "Beacon"}}
  ]
}`

type fakeGeocoder struct {
	place *geocoding.Place
	err   error
}

func (f *fakeGeocoder) Geocode(_ context.Context, _ string) (*geocoding.Place, error) {
	return f.place, f.err
}

type testEnv struct {
	srv     *Server
	hub     *location.Hub
	metrics *metrics.Metrics
	cfg     *Config
	http    *httptest.Server
}

func newTestEnv(t *testing.T, geocoder geocoding.Provider) *testEnv {
	t.Helper()

	dir := t.TempDir()
	catPath := filepath.Join(dir, "targets.geojson")
	require.NoError(t, os.WriteFile(catPath, []byte(targetsJSON), 0o644))
	cat, err := catalog.Load(catPath, zap.NewNop())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	hub := location.NewHub(nil, nil, location.Config{}, zap.NewNop(), m)

	cfg := DefaultConfig()
	cfg.path = filepath.Join(dir, "config.yaml")

	srv := New(Options{
		Config:       cfg,
		Hub:          hub,
		Catalog:      cat,
		Geocoder:     geocoder,
		GeocoderName: "fake",
		WebFS:        fstest.MapFS{"index.html": {Data: []byte("<html>pointdash</html>")}},
		Logger:       zap.NewNop(),
		Metrics:      m,
		Gatherer:     reg,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, hub: hub, metrics: m, cfg: cfg, http: ts}
}

func (e *testEnv) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, body)
}

func TestStaticFiles(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.get(t, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "pointdash")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "pointdash_websocket_clients")
}

func TestTargets(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.get(t, "/api/targets")
	require.Equal(t, http.StatusOK, code)
	var list []catalog.Entry
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "east", list[0].ID)
	assert.Equal(t, "East Point", list[0].Name)

	code, body = env.get(t, "/api/targets?category=Beacon")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "north", list[0].ID)

	code, body = env.get(t, "/api/targets/north")
	require.Equal(t, http.StatusOK, code)
	var e catalog.Entry
	require.NoError(t, json.Unmarshal([]byte(body), &e))
	assert.Equal(t, "North Point", e.Name)
	assert.InDelta(t, 1.0, e.Latitude, 1e-9)

	code, _ = env.get(t, "/api/targets/nowhere")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = env.get(t, "/api/categories")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `["Beacon","Marker"]`, body)
}

func TestBearing(t *testing.T) {
	env := newTestEnv(t, nil)

	code, body := env.get(t, "/api/bearing?from=0,0&to=0,1")
	require.Equal(t, http.StatusOK, code, body)
	var res bearingResponse
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.InDelta(t, 90.0, res.Azimuth, 0.01)
	assert.Equal(t, "E", res.Cardinal)
	assert.Equal(t, "111 km", res.Distance)

	code, body = env.get(t, "/api/bearing?from=0,0&to=0,1&north=180")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.InDelta(t, 270.0, res.Azimuth, 0.01)
	assert.Equal(t, "W", res.Cardinal)

	code, body = env.get(t, "/api/bearing?from=0,0&to=0,1&north=-1")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.Equal(t, -1.0, res.Azimuth)
	assert.Empty(t, res.Cardinal)

	code, body = env.get(t, "/api/bearing?from=0,0&to=0,1&units=imperial")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.Equal(t, "69 mi", res.Distance)

	for _, q := range []string{"from=0&to=0,1", "from=0,0&to=x,1", "from=0,0&to=0,1&north=abc", "from=91,0&to=0,1", "from=0,0&to=0,1&units=parsecs", "from=NaN,0&to=1,1", "from=0,0&to=1,NaN"} {
		code, _ = env.get(t, "/api/bearing?"+q)
		assert.Equal(t, http.StatusBadRequest, code, q)
	}
}

func TestGeocode(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, nil)
		code, _ := env.get(t, "/api/geocode?q=union+station")
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})

	t.Run("missing query", func(t *testing.T) {
		env := newTestEnv(t, &fakeGeocoder{})
		code, _ := env.get(t, "/api/geocode")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("found", func(t *testing.T) {
		env := newTestEnv(t, &fakeGeocoder{place: &geocoding.Place{
			Name: "Union Station", Category: "railway", Latitude: 43.6453, Longitude: -79.3806,
		}})
		code, body := env.get(t, "/api/geocode?q=union+station")
		require.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"name":"Union Station","category":"railway","latitude":43.6453,"longitude":-79.3806}`, body)
		assert.Equal(t, 1, testutil.CollectAndCount(env.metrics.GeocodeSeconds))
	})

	t.Run("no match", func(t *testing.T) {
		env := newTestEnv(t, &fakeGeocoder{err: geocoding.ErrEmptyResponse})
		code, _ := env.get(t, "/api/geocode?q=atlantis")
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("upstream failure", func(t *testing.T) {
		env := newTestEnv(t, &fakeGeocoder{err: errors.New("boom")})
		code, _ := env.get(t, "/api/geocode?q=anything")
		assert.Equal(t, http.StatusBadGateway, code)
	})
}

func TestConfigAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	env.cfg.Geocoder.APIKey = "secret"

	code, body := env.get(t, "/api/config")
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body, "secret")
	assert.Contains(t, body, `"units":"metric"`)

	resp, err := http.Post(env.http.URL+"/api/config", "application/json", strings.NewReader(`{"display":{"units":"imperial"}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "imperial", env.cfg.Units())
	assert.FileExists(t, env.cfg.Path())

	resp, err = http.Post(env.http.URL+"/api/config", "application/json", strings.NewReader(`{broken`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParseLatLon(t *testing.T) {
	lat, lon, err := ParseLatLon(" 43.6426, -79.3871 ")
	require.NoError(t, err)
	assert.InDelta(t, 43.6426, lat, 1e-9)
	assert.InDelta(t, -79.3871, lon, 1e-9)

	for _, s := range []string{"", "1", "1,2,3", "a,1", "1,b", "0,181", "NaN,0", "0,nan", "Inf,0"} {
		_, _, err := ParseLatLon(s)
		assert.Error(t, err, s)
	}
}

// wsClient drives one display session in tests.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(msg string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

// next reads frames until match accepts one.
func (c *wsClient) next(match func(Frame) bool) Frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, raw, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		var f Frame
		require.NoError(c.t, json.Unmarshal(raw, &f))
		if match(f) {
			return f
		}
	}
}

func viewWhere(pred func(ViewState) bool) func(Frame) bool {
	return func(f Frame) bool { return f.Type == "view" && f.View != nil && pred(*f.View) }
}

func TestWebSocketOverlay(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.dial(t)

	hello := c.next(func(f Frame) bool { return f.Type == "hello" })
	assert.NotEmpty(t, hello.Session)

	c.send(`{"type":"show","targetId":"east"}`)
	c.send(`{"type":"resume"}`)

	f := c.next(viewWhere(func(v ViewState) bool { return v.State == "visible" }))
	assert.Equal(t, "East Point", f.View.Title)
	assert.Equal(t, "Marker", f.View.Subtitle)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Listeners))

	env.hub.PublishLocation(&gps.Data{Valid: true, Latitude: 0, Longitude: 0})
	f = c.next(viewWhere(func(v ViewState) bool { return v.Distance != "" }))
	assert.Equal(t, "111 km", f.View.Distance)
	assert.False(t, f.View.HasAzimuth)

	// Heading north, target due east.
	env.hub.PublishCompass(compass.Reading{Magnetic: 0, True: 0}, "compass")
	f = c.next(viewWhere(func(v ViewState) bool { return v.HasAzimuth }))
	assert.InDelta(t, 90.0, f.View.Azimuth, 0.01)
	assert.Equal(t, "E", f.View.Cardinal)

	c.send(`{"type":"touch","touch":{"action":"up","x":10,"y":10}}`)
	f = c.next(viewWhere(func(v ViewState) bool { return v.State == "dismissed" }))
	assert.Equal(t, "111 km", f.View.Distance)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Dismissals))
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.Listeners))

	// A new show after dismissal starts a fresh overlay.
	c.send(`{"type":"show","target":{"name":"Somewhere","category":"Custom","latitude":1,"longitude":0}}`)
	c.send(`{"type":"resume"}`)
	f = c.next(viewWhere(func(v ViewState) bool { return v.State == "visible" }))
	assert.Equal(t, "Somewhere", f.View.Title)
	assert.Empty(t, f.View.Distance)
}

func TestWebSocketRotation(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.dial(t)
	c.next(func(f Frame) bool { return f.Type == "hello" })

	env.hub.PublishLocation(&gps.Data{Valid: true, Latitude: 0, Longitude: 0})

	c.send(`{"type":"rotation","rotation":90}`)
	c.send(`{"type":"show","targetId":"east"}`)
	c.send(`{"type":"resume"}`)
	c.next(viewWhere(func(v ViewState) bool { return v.State == "visible" }))

	// No true heading: magnetic 45 turned by the screen rotation gives a
	// reference of 135, so the target due east is 315 degrees off.
	env.hub.PublishCompass(compass.Reading{Magnetic: 45, True: compass.Invalid}, "compass")
	f := c.next(viewWhere(func(v ViewState) bool { return v.HasAzimuth }))
	assert.InDelta(t, 315.0, f.View.Azimuth, 0.01)
	assert.Equal(t, "NW", f.View.Cardinal)
}

func TestWebSocketErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.dial(t)
	c.next(func(f Frame) bool { return f.Type == "hello" })

	cases := []string{
		`{"type":"fly"}`,
		`not json`,
		`{"type":"show","targetId":"nowhere"}`,
		`{"type":"show"}`,
		`{"type":"show","query":"union station"}`,
		`{"type":"rotation","rotation":45}`,
	}
	for _, msg := range cases {
		c.send(msg)
		f := c.next(func(f Frame) bool { return f.Type == "error" })
		assert.NotEmpty(t, f.Error, msg)
	}
}

func TestWebSocketDisconnectUnsubscribes(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.dial(t)
	c.next(func(f Frame) bool { return f.Type == "hello" })

	c.send(`{"type":"show","targetId":"north"}`)
	c.send(`{"type":"resume"}`)
	c.next(viewWhere(func(v ViewState) bool { return v.State == "visible" }))
	assert.Equal(t, 1, env.srv.Sessions())

	require.NoError(t, c.conn.Close())

	assert.Eventually(t, func() bool {
		return env.srv.Sessions() == 0 &&
			testutil.ToFloat64(env.metrics.Listeners) == 0 &&
			testutil.ToFloat64(env.metrics.Clients) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNotifyCatalogReloaded(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.dial(t)
	c.next(func(f Frame) bool { return f.Type == "hello" })

	require.Eventually(t, func() bool { return env.srv.Sessions() == 1 }, 5*time.Second, 10*time.Millisecond)
	env.srv.NotifyCatalogReloaded()
	f := c.next(func(f Frame) bool { return f.Type == "catalog" })
	assert.NotZero(t, f.Stamp)
}
