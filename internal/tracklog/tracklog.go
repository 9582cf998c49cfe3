// Package tracklog records location and heading snapshots to CSV files.
package tracklog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/pointdash/internal/compass"
	"github.com/shaunagostinho/pointdash/internal/gps"
	"github.com/shaunagostinho/pointdash/internal/location"
	"go.uber.org/zap"
)

// Logger records timestamped GPS + compass data to CSV files with automatic
// rotation. It subscribes to the location hub as a listener.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool
	log      *zap.Logger
	now      func() time.Time

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int

	lastFix     *gps.Data
	lastReading *compass.Reading
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000 // Rotate after 100k rows (~2.7 hrs at 10 Hz)
)

var csvHeader = []string{
	"timestamp",
	"gps_valid", "gps_lat", "gps_lon", "gps_speed_kph",
	"gps_course", "gps_alt_m", "gps_sats", "gps_hdop",
	"heading_magnetic", "heading_true", "heading_accuracy",
}

// New creates a new Logger.
func New(cfg Config, log *zap.Logger) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/pointdash"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 50*time.Millisecond {
		interval = 100 * time.Millisecond // Default 10 Hz
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		log:      log,
		now:      time.Now,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

func (l *Logger) OnLocationUpdated(fix *gps.Data) {
	l.mu.Lock()
	snap := *fix
	l.lastFix = &snap
	l.mu.Unlock()
	l.Record()
}

func (l *Logger) OnCompassUpdated(r compass.Reading) {
	l.mu.Lock()
	l.lastReading = &r
	l.mu.Unlock()
	l.Record()
}

func (l *Logger) OnLocationError(location.ErrorCode) {}

// Record writes the latest GPS + compass snapshot if the minimum interval
// has elapsed.
func (l *Logger) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	now := l.now()
	if now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	// Open/rotate file if needed
	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			l.log.Error("rotate failed", zap.Error(err))
			return
		}
	}

	if err := l.writer.Write(buildRow(now, l.lastFix, l.lastReading)); err != nil {
		l.log.Error("write failed", zap.Error(err))
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("track_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	l.log.Info("opened", zap.String("path", path))
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ts time.Time, g *gps.Data, r *compass.Reading) []string {
	row := make([]string, len(csvHeader))

	row[0] = ts.Format(time.RFC3339Nano)

	if g != nil {
		row[1] = boolStr(g.Valid)
		row[2] = fmt.Sprintf("%.6f", g.Latitude)
		row[3] = fmt.Sprintf("%.6f", g.Longitude)
		row[4] = fmt.Sprintf("%.1f", g.Speed)
		row[5] = fmt.Sprintf("%.1f", g.Heading)
		row[6] = fmt.Sprintf("%.1f", g.Altitude)
		row[7] = strconv.Itoa(g.Satellites)
		row[8] = fmt.Sprintf("%.1f", g.HDOP)
	}

	if r != nil {
		row[9] = headingStr(r.Magnetic)
		row[10] = headingStr(r.True)
		row[11] = headingStr(r.Accuracy)
	}

	return row
}

// headingStr leaves unavailable (negative) values empty.
func headingStr(v float64) string {
	if v < 0 {
		return ""
	}
	return fmt.Sprintf("%.1f", v)
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
