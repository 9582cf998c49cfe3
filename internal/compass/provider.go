package compass

import "errors"

// ErrNotConnected is returned by Read before Connect succeeded or after Close.
var ErrNotConnected = errors.New("compass: not connected")

// Provider is the interface for heading sources.
type Provider interface {
	Name() string
	Connect() error
	Close() error
	// Read returns the latest heading reading. May block briefly.
	Read() (*Reading, error)
}
