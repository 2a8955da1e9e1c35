package actuator

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
	"go.uber.org/multierr"

	"github.com/cjeanneret/debbie/internal/debug"
)

// Pololu Maestro compact protocol commands.
const (
	cmdSetTarget   = 0x84
	cmdGetPosition = 0x90
	cmdGetErrors   = 0xa1
	cmdGoHome      = 0xa2
)

// MaestroConfig configures the serial link to a Maestro controller.
type MaestroConfig struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	Channels    int
	Pulse       PulseRange
}

// MaestroDriver drives servos through a Pololu Maestro USB servo
// controller using the compact serial protocol.
type MaestroDriver struct {
	mu       sync.Mutex
	port     io.ReadWriteCloser
	channels int
	pulse    PulseRange
}

// OpenMaestro opens the serial port and returns a driver on it.
func OpenMaestro(cfg MaestroConfig) (*MaestroDriver, error) {
	debug.Info("Initializing Maestro servo driver on %s", cfg.Port)

	baud := cfg.Baud
	if baud == 0 {
		baud = 9600
	}
	timeout := cfg.ReadTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: baud, ReadTimeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHardware, errors.Wrapf(err, "open maestro port %s", cfg.Port))
	}

	m := NewMaestro(port, cfg.Channels, cfg.Pulse)
	if bits, err := m.Errors(); err != nil {
		debug.Warn("Maestro: cannot read error register: %v", err)
	} else if e := decodeMaestroErrors(bits); e != nil {
		debug.Warn("Maestro reported errors at startup: %v", e)
	}
	return m, nil
}

// NewMaestro wraps an already opened port. channels = 0 means 24, the
// largest Maestro.
func NewMaestro(port io.ReadWriteCloser, channels int, pulse PulseRange) *MaestroDriver {
	if channels <= 0 {
		channels = 24
	}
	return &MaestroDriver{port: port, channels: channels, pulse: pulse.orDefault()}
}

func lo(x uint16) byte { return byte(x & 0x7f) }
func hi(x uint16) byte { return byte((x >> 7) & 0x7f) }

func (m *MaestroDriver) checkChannel(channel int) error {
	if channel < 0 || channel >= m.channels {
		return fmt.Errorf("%w: channel %d out of range [0, %d)", ErrHardware, channel, m.channels)
	}
	return nil
}

// WriteAngle sets the channel target, in quarter microseconds.
func (m *MaestroDriver) WriteAngle(channel int, angle float64) error {
	debug.Servo("WriteAngle", channel, angle)
	if err := m.checkChannel(channel); err != nil {
		return err
	}
	if err := checkAngle(channel, angle); err != nil {
		return err
	}
	target := uint16(math.Round(m.pulse.Micros(angle) * 4))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.port.Write([]byte{cmdSetTarget, byte(channel), lo(target), hi(target)}); err != nil {
		return fmt.Errorf("%w: %w", ErrHardware, errors.Wrapf(err, "maestro set target channel %d", channel))
	}
	return nil
}

// ReadAngle queries the channel position. A zero position means the
// channel is off and has no angle yet.
func (m *MaestroDriver) ReadAngle(channel int) (float64, bool, error) {
	if err := m.checkChannel(channel); err != nil {
		return 0, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.port.Write([]byte{cmdGetPosition, byte(channel)}); err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrHardware, errors.Wrapf(err, "maestro get position channel %d", channel))
	}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(m.port, buf); err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrHardware, errors.Wrapf(err, "maestro read position channel %d", channel))
	}
	pos := uint16(buf[0]) | uint16(buf[1])<<8
	debug.Servo("ReadAngle", channel, pos)
	if pos == 0 {
		return 0, false, nil
	}
	return m.pulse.Angle(float64(pos) / 4), true, nil
}

// Errors returns and clears the controller's error register.
func (m *MaestroDriver) Errors() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.port.Write([]byte{cmdGetErrors}); err != nil {
		return 0, errors.Wrap(err, "maestro get errors")
	}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(m.port, buf); err != nil {
		return 0, errors.Wrap(err, "maestro read errors")
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// Close sends every servo to its home position and closes the port.
func (m *MaestroDriver) Close() error {
	debug.Trace("Servo driver Close (maestro)")
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.port.Write([]byte{cmdGoHome})
	if err != nil {
		err = errors.Wrap(err, "maestro go home")
	}
	return multierr.Append(err, m.port.Close())
}

var maestroErrorBits = []string{
	"serial signal error",
	"serial overrun error",
	"serial buffer full",
	"serial crc error",
	"serial protocol error",
	"serial timeout",
	"script stack error",
	"script call stack error",
	"script program counter error",
}

func decodeMaestroErrors(bits uint16) error {
	var s []string
	for i, name := range maestroErrorBits {
		if bits&(1<<i) != 0 {
			s = append(s, name)
		}
	}
	if len(s) == 0 {
		return nil
	}
	return errors.New(strings.Join(s, ", "))
}
