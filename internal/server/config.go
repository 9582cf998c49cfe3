package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config holds all dashboard configuration.
type Config struct {
	mu sync.RWMutex

	// Devices
	GPS     GPSConfig     `yaml:"gps" json:"gps"`
	Compass CompassConfig `yaml:"compass" json:"compass"`

	// Display preferences
	Display DisplayConfig `yaml:"display" json:"display"`

	// Targets
	Catalog  CatalogConfig  `yaml:"catalog" json:"catalog"`
	Geocoder GeocoderConfig `yaml:"geocoder" json:"geocoder"`

	// Track logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
	// fileAPIKey is the geocoder key as read from the YAML file. Save
	// writes it back instead of a key injected from the environment.
	fileAPIKey string
}

type GPSConfig struct {
	Type     string `yaml:"type" json:"type"`          // "nmea", "demo" or "disabled"
	PortPath string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyGPS
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
	PollHz   int    `yaml:"poll_hz" json:"pollHz"`
}

type CompassConfig struct {
	Type        string  `yaml:"type" json:"type"`          // "nmea", "demo", "course" or "disabled"
	PortPath    string  `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyCompass
	BaudRate    int     `yaml:"baud_rate" json:"baudRate"`
	PollHz      int     `yaml:"poll_hz" json:"pollHz"`
	AccuracyDeg float64 `yaml:"accuracy_deg" json:"accuracyDeg"`
	// CourseMinSpeed is the km/h above which the GPS course stands in for
	// the heading when Type is "course".
	CourseMinSpeed float64 `yaml:"course_min_speed" json:"courseMinSpeed"`
}

type DisplayConfig struct {
	Units string `yaml:"units" json:"units"` // "metric" or "imperial"
}

type CatalogConfig struct {
	Path  string `yaml:"path" json:"path"` // GeoJSON FeatureCollection
	Watch bool   `yaml:"watch" json:"watch"`
}

type GeocoderConfig struct {
	Type      string `yaml:"type" json:"type"` // "nominatim", "google" or "disabled"
	APIKey    string `yaml:"api_key,omitempty" json:"-"`
	RateLimit int    `yaml:"rate_limit" json:"rateLimit"`
	Language  string `yaml:"language" json:"language"`
}

type LoggingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // ms between log entries
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GPS: GPSConfig{
			Type:     "demo",
			PortPath: "/dev/ttyGPS",
			BaudRate: 9600,
			PollHz:   10,
		},
		Compass: CompassConfig{
			Type:           "demo",
			PortPath:       "/dev/ttyCompass",
			BaudRate:       4800,
			PollHz:         10,
			AccuracyDeg:    -1,
			CourseMinSpeed: 3,
		},
		Display: DisplayConfig{
			Units: "metric",
		},
		Catalog: CatalogConfig{
			Path:  "/etc/pointdash/targets.geojson",
			Watch: true,
		},
		Geocoder: GeocoderConfig{
			Type:      "nominatim",
			RateLimit: 1,
			Language:  "en",
		},
		Logging: LoggingConfig{
			Enabled:  false,
			Path:     "/var/log/pointdash",
			Interval: 1000,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string, log *zap.Logger) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Info("no config file, using defaults", zap.String("path", path))
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warn("error parsing config, using defaults", zap.String("path", path), zap.Error(err))
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Info("config loaded", zap.String("path", path))
	}

	cfg.fileAPIKey = cfg.Geocoder.APIKey

	// Load .env from the config directory, then CWD. Real env vars win.
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		if err := godotenv.Load(ep); err == nil {
			log.Info("loaded .env", zap.String("path", ep))
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides reads environment variables and overrides config values.
func (c *Config) applyEnvOverrides() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "1" || v == "true" || v == "yes"
		}
	}

	str("GPS_TYPE", &c.GPS.Type)
	str("GPS_PORT", &c.GPS.PortPath)
	num("GPS_BAUD", &c.GPS.BaudRate)
	str("COMPASS_TYPE", &c.Compass.Type)
	str("COMPASS_PORT", &c.Compass.PortPath)
	num("COMPASS_BAUD", &c.Compass.BaudRate)
	str("LISTEN_ADDR", &c.Server.ListenAddr)
	str("DISTANCE_UNITS", &c.Display.Units)
	str("CATALOG_PATH", &c.Catalog.Path)
	str("GEOCODER_TYPE", &c.Geocoder.Type)
	str("GEOCODER_API_KEY", &c.Geocoder.APIKey)
	flag("LOG_ENABLED", &c.Logging.Enabled)
	str("LOG_PATH", &c.Logging.Path)
	num("LOG_INTERVAL_MS", &c.Logging.Interval)
}

// Path returns the file the config is loaded from and saved to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Units returns the configured distance units.
func (c *Config) Units() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Display.Units
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		c.path = "/etc/pointdash/config.yaml"
	}

	// Secrets from the environment or .env stay out of the file.
	key := c.Geocoder.APIKey
	c.Geocoder.APIKey = c.fileAPIKey
	data, err := yaml.Marshal(c)
	c.Geocoder.APIKey = key
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API. The geocoder API key is never
// included.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
