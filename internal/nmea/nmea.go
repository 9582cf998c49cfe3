// Package nmea reads NMEA 0183 sentences from a serial device or any other
// byte stream. Parsing is done by github.com/adrianmo/go-nmea; this package
// adds the line handling both device readers share and reports a stream
// that has stopped for good.
package nmea

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gonmea "github.com/adrianmo/go-nmea"
	"go.bug.st/serial"
)

// ErrClosed is returned by Next once the stream can deliver no more
// sentences: end of file, a port error or a port that stays silent.
var ErrClosed = errors.New("nmea: stream closed")

// readTimeout bounds each serial read so a silent port surfaces as
// io.ErrNoProgress from the scanner instead of blocking forever.
const readTimeout = 200 * time.Millisecond

// Stream yields parsed sentences from one source. It is not safe for
// concurrent use; the device readers guard it with their own mutex.
type Stream struct {
	name    string
	r       io.ReadCloser
	scanner *bufio.Scanner
}

// Open opens a serial port at 8N1 and returns a stream over it.
func Open(path string, baud int) (*Stream, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	s := NewStream(port)
	s.name = path
	return s, nil
}

// NewStream wraps r, e.g. a recorded NMEA log.
func NewStream(r io.ReadCloser) *Stream {
	return &Stream{name: "stream", r: r, scanner: bufio.NewScanner(r)}
}

// Name is the port path, or "stream" for wrapped readers.
func (s *Stream) Name() string { return s.name }

// Next returns the next sentence. Lines that do not parse (noise, bad
// checksum, unsupported types) yield a parse error and can be skipped.
// Once the source is exhausted every call returns an error wrapping
// ErrClosed.
func (s *Stream) Next() (gonmea.Sentence, error) {
	if !s.scanner.Scan() {
		cause := s.scanner.Err()
		if cause == nil {
			cause = io.EOF
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrClosed, s.name, cause)
	}
	return gonmea.Parse(strings.TrimSpace(s.scanner.Text()))
}

// Close closes the underlying reader.
func (s *Stream) Close() error {
	return s.r.Close()
}

// Sentence frames a body (the text between $ and *) into a full sentence
// with its checksum.
func Sentence(body string) string {
	var calc byte
	for i := 0; i < len(body); i++ {
		calc ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, calc)
}
