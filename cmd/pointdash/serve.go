package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shaunagostinho/pointdash/internal/catalog"
	"github.com/shaunagostinho/pointdash/internal/compass"
	"github.com/shaunagostinho/pointdash/internal/geocoding"
	"github.com/shaunagostinho/pointdash/internal/gps"
	"github.com/shaunagostinho/pointdash/internal/location"
	"github.com/shaunagostinho/pointdash/internal/metrics"
	"github.com/shaunagostinho/pointdash/internal/server"
	"github.com/shaunagostinho/pointdash/internal/tracklog"
	"github.com/shaunagostinho/pointdash/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	demo       bool
	listenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard server",
	Long: `Starts the GPS and compass pollers and serves the web UI. Devices are
connected in the background with exponential backoff, so displays can
connect right away.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Info("pointdash starting")

	cfg := server.LoadConfig(configPath, logger.Named("config"))
	if demo {
		cfg.GPS.Type = "demo"
		cfg.Compass.Type = "demo"
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gpsProv := newGPSProvider(cfg, logger.Named("gps"))
	compassProv := newCompassProvider(cfg, logger.Named("compass"))

	var wg sync.WaitGroup
	// Try connecting with exponential backoff (non-blocking, the dashboard starts regardless)
	if gpsProv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			connectWithRetry(ctx, logger.Named("gps"), gpsProv, 10)
		}()
	}
	if compassProv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			connectWithRetry(ctx, logger.Named("compass"), compassProv, 10)
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	hubCfg := location.Config{
		GPSInterval:     pollInterval(cfg.GPS.PollHz),
		CompassInterval: pollInterval(cfg.Compass.PollHz),
	}
	if cfg.Compass.Type == "course" {
		hubCfg.CourseMinSpeed = cfg.Compass.CourseMinSpeed
	}
	hub := location.NewHub(gpsProv, compassProv, hubCfg, logger.Named("hub"), m)

	track := tracklog.New(tracklog.Config{
		Enabled:    cfg.Logging.Enabled,
		Path:       cfg.Logging.Path,
		IntervalMs: cfg.Logging.Interval,
	}, logger.Named("tracklog"))
	defer track.Close()
	hub.AddListener(track)

	catLog := logger.Named("catalog")
	cat, err := catalog.Load(cfg.Catalog.Path, catLog)
	if err != nil {
		catLog.Warn("no targets loaded", zap.String("path", cfg.Catalog.Path), zap.Error(err))
		cat = catalog.New(cfg.Catalog.Path, catLog)
	}

	geocoder, err := geocoding.NewProvider(geocoding.ProviderConfig{
		Type:      geocoding.ProviderType(cfg.Geocoder.Type),
		APIKey:    cfg.Geocoder.APIKey,
		RateLimit: cfg.Geocoder.RateLimit,
		Language:  cfg.Geocoder.Language,
		Logger:    logger.Named("geocoding"),
	})
	if err != nil {
		logger.Warn("geocoding disabled", zap.Error(err))
		geocoder = nil
	}

	srv := server.New(server.Options{
		Config:       cfg,
		Hub:          hub,
		Catalog:      cat,
		Geocoder:     geocoder,
		GeocoderName: cfg.Geocoder.Type,
		WebFS:        web.FS,
		Logger:       logger.Named("server"),
		Metrics:      m,
		Gatherer:     reg,
	})

	if cfg.Catalog.Watch {
		watcher, err := catalog.NewWatcher(cat, srv.NotifyCatalogReloaded)
		if err == nil {
			err = watcher.Start(ctx)
		}
		if err != nil {
			catLog.Warn("catalog watching disabled", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	// Start server, works immediately even if devices are still connecting
	err = srv.Run(ctx)
	stop()
	wg.Wait()

	for _, c := range []connectable{gpsProv, compassProv} {
		if c != nil {
			c.Close()
		}
	}
	logger.Info("pointdash stopped")
	return err
}

func newGPSProvider(cfg *server.Config, log *zap.Logger) gps.Provider {
	switch cfg.GPS.Type {
	case "nmea":
		return gps.NewNMEA(gps.NMEAConfig{
			PortPath: cfg.GPS.PortPath,
			BaudRate: cfg.GPS.BaudRate,
		}, log)
	case "disabled":
		return nil
	default:
		return gps.NewDemoGPS()
	}
}

// newCompassProvider returns nil for "course" and "disabled"; the hub then
// derives headings from the GPS course or goes without.
func newCompassProvider(cfg *server.Config, log *zap.Logger) compass.Provider {
	switch cfg.Compass.Type {
	case "nmea":
		return compass.NewNMEA(compass.NMEAConfig{
			PortPath:    cfg.Compass.PortPath,
			BaudRate:    cfg.Compass.BaudRate,
			AccuracyDeg: cfg.Compass.AccuracyDeg,
		}, log)
	case "course", "disabled":
		return nil
	default:
		return compass.NewDemoCompass()
	}
}

func pollInterval(hz int) time.Duration {
	if hz <= 0 {
		hz = 10
	}
	return time.Second / time.Duration(hz)
}

// connectable is satisfied by both gps.Provider and compass.Provider.
type connectable interface {
	Connect() error
	Close() error
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, log *zap.Logger, c connectable, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.Connect(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				log.Warn("connect failed",
					zap.Int("attempt", attempt), zap.Int("max", maxAttempts),
					zap.Duration("retry_in", delay), zap.Error(err))
			} else {
				log.Warn("connect failed",
					zap.Int("attempt", attempt),
					zap.Duration("retry_in", delay), zap.Error(err))
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			log.Info("connected", zap.Int("attempt", attempt+1))
			return
		}
	}
}
