package compass

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	gonmea "github.com/adrianmo/go-nmea"
	"github.com/shaunagostinho/pointdash/internal/nmea"
	"go.uber.org/zap"
)

// NMEAProvider reads HDG and HDT sentences from a serial electronic compass.
type NMEAProvider struct {
	portPath string
	baudRate int
	accuracy float64
	log      *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	stream *nmea.Stream
	last   Reading
	// sendsHDG is set once the device has sent an HDG. From then on a
	// Read runs to the next HDG so an HDT in between lands in the same
	// reading.
	sendsHDG bool
}

// NMEAConfig holds configuration for the NMEA compass provider.
type NMEAConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
	// AccuracyDeg is reported with every reading; the sentences carry none.
	AccuracyDeg float64 `yaml:"accuracy_deg" json:"accuracyDeg"`
}

// NewNMEA creates a new NMEA compass provider.
func NewNMEA(cfg NMEAConfig, log *zap.Logger) *NMEAProvider {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 4800 // NMEA 0183 standard rate
	}
	if cfg.AccuracyDeg == 0 {
		cfg.AccuracyDeg = Invalid
	}
	return &NMEAProvider{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		accuracy: cfg.AccuracyDeg,
		log:      log,
		now:      time.Now,
		last:     invalidReading(),
	}
}

// NewNMEAStream creates a provider that is already attached to r.
func NewNMEAStream(r io.ReadCloser, accuracy float64, log *zap.Logger) *NMEAProvider {
	p := NewNMEA(NMEAConfig{PortPath: "stream", AccuracyDeg: accuracy}, log)
	p.stream = nmea.NewStream(r)
	return p
}

func invalidReading() Reading {
	return Reading{Magnetic: Invalid, True: Invalid, Accuracy: Invalid}
}

func (n *NMEAProvider) Name() string { return "NMEA Compass" }

func (n *NMEAProvider) Connect() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stream != nil {
		return nil
	}

	s, err := nmea.Open(n.portPath, n.baudRate)
	if err != nil {
		return fmt.Errorf("compass: %w", err)
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

// Read consumes sentences until a heading is complete (at most 10 lines)
// and returns the merged reading. A dead stream is closed and reported as
// ErrNotConnected.
func (n *NMEAProvider) Read() (*Reading, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stream == nil {
		snap := n.last
		return &snap, ErrNotConnected
	}

	got := false
	sawHDT := false
	for i := 0; i < 10; i++ {
		s, err := n.stream.Next()
		if errors.Is(err, nmea.ErrClosed) {
			if got {
				// Hand out what this read got; the next one reports the loss.
				n.last.Time = n.now()
				n.last.Accuracy = n.accuracy
				snap := n.last
				n.detach(err)
				return &snap, nil
			}
			n.detach(err)
			snap := n.last
			return &snap, fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		if err != nil {
			continue
		}

		done := false
		switch m := s.(type) {
		case gonmea.HDG:
			n.applyHDG(m, sawHDT)
			n.sendsHDG = true
			got, done = true, true
		case gonmea.HDT:
			n.applyHDT(m)
			sawHDT = true
			got, done = true, !n.sendsHDG
		}
		if done {
			break
		}
	}

	if got {
		n.last.Time = n.now()
		n.last.Accuracy = n.accuracy
	}
	snap := n.last
	return &snap, nil
}

// detach drops a dead stream. The last heading is no longer current.
func (n *NMEAProvider) detach(cause error) {
	n.log.Warn("stream lost", zap.String("port", n.stream.Name()), zap.Error(cause))
	n.stream.Close()
	n.stream = nil
	n.last = invalidReading()
}

// applyHDG takes heading, deviation and variation. Without a variation
// the true heading is unknown unless an HDT arrived in the same read.
func (n *NMEAProvider) applyHDG(m gonmea.HDG, sawHDT bool) {
	// $HCHDG,x.x,x.x,a,x.x,a*hh  heading, deviation, E/W, variation, E/W
	hasHeading := len(m.Fields) > 0 && m.Fields[0] != ""
	hasVariation := len(m.Fields) > 3 && m.Fields[3] != ""
	if !(hasHeading && hasVariation) && !sawHDT {
		n.last.True = Invalid
	}
	if !hasHeading {
		n.last.Magnetic = Invalid
		return
	}

	magnetic := m.Heading
	if len(m.Fields) > 1 && m.Fields[1] != "" {
		magnetic += signed(m.Deviation, m.DeviationDirection)
	}
	n.last.Magnetic = Normalize(magnetic)

	if hasVariation {
		n.last.True = Normalize(magnetic + signed(m.Variation, m.VariationDirection))
	}
}

func (n *NMEAProvider) applyHDT(m gonmea.HDT) {
	// $HEHDT,x.x,T*hh
	if len(m.Fields) == 0 || m.Fields[0] == "" {
		n.last.True = Invalid
		return
	}
	n.last.True = Normalize(m.Heading)
}

// signed applies the E/W convention: easterly corrections are added.
func signed(v float64, dir string) float64 {
	if dir == gonmea.West {
		return -v
	}
	return v
}
