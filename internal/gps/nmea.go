package gps

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	gonmea "github.com/adrianmo/go-nmea"
	"github.com/shaunagostinho/pointdash/internal/nmea"
	"go.uber.org/zap"
)

// NMEAProvider reads standard NMEA 0183 sentences from a UART GPS.
// Compatible with u-blox NEO-M8N and any standard NMEA GPS.
type NMEAProvider struct {
	portPath string
	baudRate int
	log      *zap.Logger

	mu     sync.Mutex
	stream *nmea.Stream
	last   *Data
}

// NMEAConfig holds configuration for the NMEA GPS provider.
type NMEAConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// NewNMEA creates a new NMEA GPS provider.
func NewNMEA(cfg NMEAConfig, log *zap.Logger) *NMEAProvider {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600 // Standard NMEA default
	}
	return &NMEAProvider{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		log:      log,
		last:     &Data{},
	}
}

// NewNMEAStream creates a provider that is already attached to r, e.g. a
// recorded NMEA log.
func NewNMEAStream(r io.ReadCloser, log *zap.Logger) *NMEAProvider {
	p := NewNMEA(NMEAConfig{PortPath: "stream"}, log)
	p.stream = nmea.NewStream(r)
	return p
}

func (n *NMEAProvider) Name() string { return "NMEA GPS" }

func (n *NMEAProvider) Connect() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stream != nil {
		return nil
	}

	s, err := nmea.Open(n.portPath, n.baudRate)
	if err != nil {
		return fmt.Errorf("gps: %w", err)
	}
	n.stream = s
	n.log.Info("connected", zap.String("port", n.portPath), zap.Int("baud", n.baudRate))
	return nil
}

func (n *NMEAProvider) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stream == nil {
		return nil
	}
	err := n.stream.Close()
	n.stream = nil
	return err
}

// Read reads NMEA sentences until we have a complete fix update, or timeout.
// The returned Data is a copy owned by the caller. A stream that has died
// is closed and reported as ErrNotConnected; Connect reopens the port.
func (n *NMEAProvider) Read() (*Data, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stream == nil {
		snap := *n.last
		return &snap, ErrNotConnected
	}

	// Read up to 20 lines to find RMC + GGA
	gotRMC := false
	gotGGA := false
	for i := 0; i < 20 && !(gotRMC && gotGGA); i++ {
		s, err := n.stream.Next()
		if errors.Is(err, nmea.ErrClosed) {
			if gotRMC || gotGGA {
				// Hand out what this read got; the next one reports the loss.
				snap := *n.last
				n.detach(err)
				return &snap, nil
			}
			n.detach(err)
			snap := *n.last
			return &snap, fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		if err != nil {
			continue
		}

		switch m := s.(type) {
		case gonmea.RMC:
			n.applyRMC(m)
			gotRMC = true
		case gonmea.GGA:
			n.applyGGA(m)
			gotGGA = true
		}
	}

	snap := *n.last
	return &snap, nil
}

// detach drops a dead stream. The last fix is no longer current.
func (n *NMEAProvider) detach(cause error) {
	n.log.Warn("stream lost", zap.String("port", n.stream.Name()), zap.Error(cause))
	n.stream.Close()
	n.stream = nil
	n.last.Valid = false
}

func (n *NMEAProvider) applyRMC(m gonmea.RMC) {
	n.last.Timestamp = fmt.Sprintf("%02d%02d%02d", m.Time.Hour, m.Time.Minute, m.Time.Second)
	n.last.Valid = m.Validity == gonmea.ValidRMC

	if n.last.Valid {
		n.last.Latitude = m.Latitude
		n.last.Longitude = m.Longitude
		n.last.Speed = m.Speed * 1.852 // Knots to km/h
		n.last.Heading = m.Course
	}
}

func (n *NMEAProvider) applyGGA(m gonmea.GGA) {
	if fix, err := strconv.Atoi(m.FixQuality); err == nil {
		n.last.FixQuality = fix
	}
	n.last.Satellites = int(m.NumSatellites)
	n.last.HDOP = m.HDOP
	n.last.Altitude = m.Altitude
}
