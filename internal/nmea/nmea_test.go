package nmea_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	gonmea "github.com/adrianmo/go-nmea"
	"github.com/shaunagostinho/pointdash/internal/nmea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stream(lines ...string) *nmea.Stream {
	return nmea.NewStream(io.NopCloser(strings.NewReader(strings.Join(lines, "\r\n") + "\r\n")))
}

func TestSentence(t *testing.T) {
	assert.Equal(t,
		"$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47",
		nmea.Sentence("GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"))
}

func TestStreamNext(t *testing.T) {
	s := stream(
		nmea.Sentence("HEHDT,274.07,T"),
		"garbage",
		"$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*48",
		nmea.Sentence("GNRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"),
	)

	sent, err := s.Next()
	require.NoError(t, err)
	hdt, ok := sent.(gonmea.HDT)
	require.True(t, ok)
	assert.InDelta(t, 274.07, hdt.Heading, 1e-9)

	_, err = s.Next()
	assert.Error(t, err, "noise")
	assert.NotErrorIs(t, err, nmea.ErrClosed)

	_, err = s.Next()
	assert.Error(t, err, "bad checksum")
	assert.NotErrorIs(t, err, nmea.ErrClosed)

	sent, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, gonmea.TypeRMC, sent.DataType(), "talker id does not matter")

	for i := 0; i < 3; i++ {
		_, err = s.Next()
		assert.ErrorIs(t, err, nmea.ErrClosed)
		assert.ErrorIs(t, err, io.EOF)
	}
}

// silentReader behaves like a serial port whose reads keep timing out.
type silentReader struct{}

func (silentReader) Read([]byte) (int, error) { return 0, nil }
func (silentReader) Close() error             { return nil }

func TestStreamSilentPortCloses(t *testing.T) {
	s := nmea.NewStream(silentReader{})

	_, err := s.Next()
	assert.ErrorIs(t, err, nmea.ErrClosed)
	assert.ErrorIs(t, err, io.ErrNoProgress)
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }
func (failingReader) Close() error               { return nil }

func TestStreamPortErrorCloses(t *testing.T) {
	unplugged := errors.New("device not configured")
	s := nmea.NewStream(failingReader{err: unplugged})

	_, err := s.Next()
	assert.ErrorIs(t, err, nmea.ErrClosed)
	assert.ErrorIs(t, err, unplugged)
}

func TestOpenMissingPort(t *testing.T) {
	_, err := nmea.Open("/dev/does-not-exist-pointdash", 4800)
	assert.Error(t, err)
}
