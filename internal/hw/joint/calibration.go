package joint

import (
	"errors"
	"fmt"
)

// ErrConfiguration is returned for malformed or missing calibration.
var ErrConfiguration = errors.New("invalid calibration")

// Calibration holds the static per-joint mounting data.
//
// MinAngle/MaxAngle are logical degrees before deviation; the physical
// window the servo may visit is [MinAngle+Deviation, MaxAngle+Deviation].
type Calibration struct {
	Channel   int  `yaml:"channel"`
	MinAngle  int  `yaml:"min_angle"`
	MaxAngle  int  `yaml:"max_angle"`
	Deviation int  `yaml:"deviation"`
	Mirrored  bool `yaml:"mirrored"`
}

// Validate checks the calibration against a controller with channelCount
// channels.
func (c Calibration) Validate(channelCount int) error {
	if c.MinAngle >= c.MaxAngle {
		return fmt.Errorf("%w: min angle %d must be below max angle %d", ErrConfiguration, c.MinAngle, c.MaxAngle)
	}
	if c.Channel < 0 || c.Channel >= channelCount {
		return fmt.Errorf("%w: channel %d outside [0, %d)", ErrConfiguration, c.Channel, channelCount)
	}
	if c.EffectiveMin() < 0 || c.EffectiveMax() > 180 {
		return fmt.Errorf("%w: physical window [%d, %d] leaves [0, 180]", ErrConfiguration, c.EffectiveMin(), c.EffectiveMax())
	}
	return nil
}

// EffectiveMin is the lowest physical angle.
func (c Calibration) EffectiveMin() int { return c.MinAngle + c.Deviation }

// EffectiveMax is the highest physical angle.
func (c Calibration) EffectiveMax() int { return c.MaxAngle + c.Deviation }

// Adjust maps a logical angle to a physical one. Deviation is applied
// first, then mirrored joints are reflected inside the physical window.
func (c Calibration) Adjust(target int) int {
	if c.Mirrored {
		return c.EffectiveMax() - ((target + c.Deviation) - c.EffectiveMin())
	}
	return target + c.Deviation
}

// InRange reports whether a physical angle lies inside the window.
func (c Calibration) InRange(physical int) bool {
	return physical >= c.EffectiveMin() && physical <= c.EffectiveMax()
}

func (c Calibration) clamp(angle float64) float64 {
	return min(max(angle, float64(c.EffectiveMin())), float64(c.EffectiveMax()))
}

func (c Calibration) String() string {
	return fmt.Sprintf("ch%d [%d..%d] dev=%d mirrored=%t", c.Channel, c.MinAngle, c.MaxAngle, c.Deviation, c.Mirrored)
}
