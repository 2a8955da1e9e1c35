package actuator

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/cjeanneret/debbie/internal/debug"
)

// ErrHardware tags every failure reported by a physical backend.
var ErrHardware = errors.New("hardware error")

// Driver defines the abstract interface for positioning servo channels.
// Angles are physical degrees in [0, 180].
// This allows plugging in a real servo controller or a mock for
// development on PC.
type Driver interface {
	WriteAngle(channel int, angle float64) error
	// ReadAngle reports ok=false when the hardware has not reported a
	// position for channel yet.
	ReadAngle(channel int) (angle float64, ok bool, err error)
	Close() error
}

// Kind selects a Driver backend.
type Kind string

const (
	KindMock    Kind = "mock"
	KindMaestro Kind = "maestro"
	KindRPi     Kind = "rpio"
)

// Options configures NewDriver.
type Options struct {
	Kind     Kind
	Channels int
	Pulse    PulseRange
	Maestro  MaestroConfig
	// Pins maps a channel to a BCM pin for the rpio backend.
	Pins map[int]int
}

// NewDriver creates a driver for the chosen backend.
func NewDriver(opts Options) (Driver, error) {
	switch opts.Kind {
	case KindMock, "":
		debug.Info("Using MOCK servo driver (development mode)")
		return NewMockDriver(opts.Channels), nil
	case KindMaestro:
		cfg := opts.Maestro
		if cfg.Channels == 0 {
			cfg.Channels = opts.Channels
		}
		if cfg.Pulse == (PulseRange{}) {
			cfg.Pulse = opts.Pulse
		}
		return OpenMaestro(cfg)
	case KindRPi:
		return NewRPiDriver(opts.Pins, opts.Pulse)
	default:
		return nil, fmt.Errorf("unknown servo driver %q (want %s, %s or %s)", opts.Kind, KindMock, KindMaestro, KindRPi)
	}
}

// PulseRange maps 0..180 degrees linearly onto a servo pulse width in
// microseconds.
type PulseRange struct {
	MinUs float64
	MaxUs float64
}

// DefaultPulseRange is the common hobby-servo 500..2500 us span.
var DefaultPulseRange = PulseRange{MinUs: 500, MaxUs: 2500}

func (p PulseRange) orDefault() PulseRange {
	if p.MaxUs <= p.MinUs {
		return DefaultPulseRange
	}
	return p
}

// Micros converts an angle to a pulse width.
func (p PulseRange) Micros(angle float64) float64 {
	p = p.orDefault()
	return p.MinUs + angle/180*(p.MaxUs-p.MinUs)
}

// Angle converts a pulse width back to an angle.
func (p PulseRange) Angle(us float64) float64 {
	p = p.orDefault()
	return (us - p.MinUs) / (p.MaxUs - p.MinUs) * 180
}

func checkAngle(channel int, angle float64) error {
	if math.IsNaN(angle) || angle < 0 || angle > 180 {
		return fmt.Errorf("%w: channel %d: angle %.2f outside [0, 180]", ErrHardware, channel, angle)
	}
	return nil
}

// MockDriver is a development implementation that keeps the last angle
// per channel in memory and logs every write.
type MockDriver struct {
	mu       sync.Mutex
	channels int
	angles   map[int]float64
}

// NewMockDriver returns a mock for channels channels (0 = unlimited).
func NewMockDriver(channels int) *MockDriver {
	return &MockDriver{channels: channels, angles: make(map[int]float64)}
}

func (m *MockDriver) WriteAngle(channel int, angle float64) error {
	debug.Servo("WriteAngle", channel, angle)
	if m.channels > 0 && (channel < 0 || channel >= m.channels) {
		return fmt.Errorf("%w: channel %d out of range", ErrHardware, channel)
	}
	if err := checkAngle(channel, angle); err != nil {
		return err
	}
	m.mu.Lock()
	m.angles[channel] = angle
	m.mu.Unlock()
	return nil
}

func (m *MockDriver) ReadAngle(channel int) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.angles[channel]
	debug.Servo("ReadAngle", channel, a)
	return a, ok, nil
}

// Angles returns a snapshot of every written channel.
func (m *MockDriver) Angles() map[int]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]float64, len(m.angles))
	for ch, a := range m.angles {
		out[ch] = a
	}
	return out
}

func (m *MockDriver) Close() error {
	debug.Trace("Servo driver Close (mock)")
	return nil
}
