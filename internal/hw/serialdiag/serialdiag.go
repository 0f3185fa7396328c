// Package serialdiag mirrors the diagnostic log onto a serial line so the
// arm can be watched from a bench terminal without a network.
package serialdiag

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cjeanneret/ArmGo/internal/debug"
	"github.com/tarm/serial"
)

// Config selects the serial device.
type Config struct {
	Device string
	Baud   int
}

// Sink is an io.WriteCloser that strips terminal colour codes before
// forwarding to the port. Write errors are counted, not returned, so a
// disconnected cable never stalls the control loop's logging.
type Sink struct {
	mu     sync.Mutex
	w      io.WriteCloser
	errors int
}

// Open opens the serial device.
func Open(cfg Config) (*Sink, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial diagnostics: no device")
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return newSink(port), nil
}

func newSink(w io.WriteCloser) *Sink {
	return &Sink{w: w}
}

// Write implements io.Writer. It always reports len(p) bytes written.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write([]byte(debug.StripColor(string(p)))); err != nil {
		s.errors++
	}
	return len(p), nil
}

// Errors returns the number of failed writes.
func (s *Sink) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// Close closes the port.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
