package actuator

import (
	"fmt"
	"math"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/cjeanneret/debbie/internal/debug"
)

const (
	pwmClockHz  = 1_000_000 // 1 us per PWM tick
	pwmPeriodUs = 20_000    // 50 Hz servo frame
)

// RPiDriver is the real implementation for Raspberry Pi hardware PWM using
// go-rpio. Each channel maps to a PWM-capable BCM pin. The Pi has two PWM
// channels, so this backend suits bench tests of a few joints only.
type RPiDriver struct {
	mu     sync.Mutex
	pins   map[int]rpio.Pin
	pulse  PulseRange
	angles map[int]float64
}

// NewRPiDriver creates a real PWM driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiDriver(pins map[int]int, pulse PulseRange) (*RPiDriver, error) {
	debug.Info("Initializing real PWM servo driver (go-rpio)")

	if len(pins) == 0 {
		return nil, fmt.Errorf("%w: rpio driver needs at least one channel to pin mapping", ErrHardware)
	}
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("%w: failed to open GPIO: %v (are you running on a Raspberry Pi?)", ErrHardware, err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	r := &RPiDriver{
		pins:   make(map[int]rpio.Pin, len(pins)),
		pulse:  pulse.orDefault(),
		angles: make(map[int]float64),
	}
	for ch, bcm := range pins {
		p := rpio.Pin(bcm)
		p.Pwm()
		p.Freq(pwmClockHz)
		r.pins[ch] = p
		debug.Verbose("Channel %d -> BCM %d (PWM)", ch, bcm)
	}
	return r, nil
}

func (r *RPiDriver) WriteAngle(channel int, angle float64) error {
	debug.Servo("WriteAngle", channel, angle)
	if err := checkAngle(channel, angle); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pins[channel]
	if !ok {
		return fmt.Errorf("%w: channel %d has no PWM pin", ErrHardware, channel)
	}
	p.DutyCycle(uint32(math.Round(r.pulse.Micros(angle))), pwmPeriodUs)
	r.angles[channel] = angle
	return nil
}

// ReadAngle returns the last written angle; PWM has no position feedback.
func (r *RPiDriver) ReadAngle(channel int) (float64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.angles[channel]
	return a, ok, nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("Servo driver Close (real driver)")

	r.mu.Lock()
	defer r.mu.Unlock()
	// Reset all pins to input (safe state)
	for ch, p := range r.pins {
		debug.Verbose("Resetting channel %d to input", ch)
		p.Input()
	}

	return rpio.Close()
}
