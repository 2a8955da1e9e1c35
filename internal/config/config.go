package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/debbie/internal/hw/actuator"
	"github.com/cjeanneret/debbie/internal/hw/joint"
	"github.com/cjeanneret/debbie/internal/logic/gait"
	"github.com/cjeanneret/debbie/internal/logic/kinematics"
	"github.com/cjeanneret/debbie/internal/logic/trajectory"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 1 << 20

// HardwareConfig selects and configures the servo backend.
type HardwareConfig struct {
	Driver        string      `yaml:"driver"`          // mock, maestro or rpio
	ChannelCount  int         `yaml:"channel_count"`   // servo channels on the controller
	SerialPort    string      `yaml:"serial_port"`     // Maestro command port, e.g. /dev/ttyACM0
	Baud          int         `yaml:"baud"`            // Maestro baud rate
	ReadTimeoutMs int         `yaml:"read_timeout_ms"` // Maestro position read timeout
	MinPulseUs    float64     `yaml:"min_pulse_us"`    // pulse width at 0 degrees
	MaxPulseUs    float64     `yaml:"max_pulse_us"`    // pulse width at 180 degrees
	PWMPins       map[int]int `yaml:"pwm_pins"`        // channel -> BCM pin (rpio only)
}

// hardwarePWMPins are the BCM pins wired to the Pi's two PWM channels.
// The rpio backend can therefore drive at most two distinct pulse trains
// and is meant for bench tests of a few joints.
var hardwarePWMPins = map[int]bool{12: true, 13: true, 18: true, 19: true}

// ServoConfig holds the timing of the joint executors.
type ServoConfig struct {
	NeutralAngle       int `yaml:"neutral_angle"`        // logical angle of the neutral stance
	NeutralSteps       int `yaml:"neutral_steps"`        // fixed plan length of a neutral move
	StartupNormalizeMs int `yaml:"startup_normalize_ms"` // normalisation on start and shutdown
	DefaultMoveMs      int `yaml:"default_move_ms"`      // single-leg moves without an explicit duration
}

// LinkageConfig extends the leg dimensions with the coordinate multiplier.
type LinkageConfig struct {
	kinematics.Linkage `yaml:",inline"`
	CoordinateScale    float64 `yaml:"coordinate_scale"`
}

// GaitConfig holds the gait tuning and direction maps.
type GaitConfig struct {
	StepWidthMm         float64                           `yaml:"step_width_mm"`
	Smoothness          float64                           `yaml:"smoothness"`
	Points              int                               `yaml:"points"`
	DurationMs          int                               `yaml:"duration_ms"`
	NormalizeDurationMs int                               `yaml:"normalize_duration_ms"`
	HeightStepMm        float64                           `yaml:"height_step_mm"`
	MinHeightMm         float64                           `yaml:"min_height_mm"`
	MaxHeightMm         float64                           `yaml:"max_height_mm"`
	HeightDurationMs    int                               `yaml:"height_duration_ms"`
	Steps               map[gait.Direction]gait.LegAngles `yaml:"steps"`
	Turns               map[gait.Turn]gait.LegAngles      `yaml:"turns"`
}

// TrajectoryConfig configures arc generation and the optional cache.
type TrajectoryConfig struct {
	HeightScale float64 `yaml:"height_scale"`
	CacheFile   string  `yaml:"cache_file"` // empty = generate on demand
}

// JointConfig is the YAML form of one joint calibration. Required fields
// are pointers so a missing key can be told apart from zero.
type JointConfig struct {
	Channel   *int `yaml:"channel"`
	MinAngle  *int `yaml:"min_angle"`
	MaxAngle  *int `yaml:"max_angle"`
	Deviation int  `yaml:"deviation"`
	Mirrored  bool `yaml:"mirrored"`
}

// LegCalibration groups the three joints of one leg.
type LegCalibration struct {
	Thigh    *JointConfig `yaml:"thigh"`
	LowerLeg *JointConfig `yaml:"lower_leg"`
	SideAxis *JointConfig `yaml:"side_axis"`
}

// DefaultsConfig contains generic process parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Hardware   HardwareConfig                `yaml:"hardware"`
	Servo      ServoConfig                   `yaml:"servo"`
	Linkage    LinkageConfig                 `yaml:"linkage"`
	Gait       GaitConfig                    `yaml:"gait"`
	Trajectory TrajectoryConfig              `yaml:"trajectory"`
	Legs       map[gait.LegID]LegCalibration `yaml:"legs"`
	Defaults   DefaultsConfig                `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files directly inside a configs/
// directory, without parent references.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must end in .yaml", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Hardware.Driver == "" {
		c.Hardware.Driver = string(actuator.KindMock)
	}
	if c.Hardware.ChannelCount <= 0 {
		c.Hardware.ChannelCount = 16
	}
	if c.Hardware.Baud <= 0 {
		c.Hardware.Baud = 9600
	}
	if c.Hardware.ReadTimeoutMs <= 0 {
		c.Hardware.ReadTimeoutMs = 100
	}
	if c.Hardware.MinPulseUs <= 0 {
		c.Hardware.MinPulseUs = actuator.DefaultPulseRange.MinUs
	}
	if c.Hardware.MaxPulseUs <= 0 {
		c.Hardware.MaxPulseUs = actuator.DefaultPulseRange.MaxUs
	}

	if c.Servo.NeutralAngle <= 0 {
		c.Servo.NeutralAngle = 90
	}
	if c.Servo.NeutralSteps <= 0 {
		c.Servo.NeutralSteps = 50
	}
	if c.Servo.StartupNormalizeMs <= 0 {
		c.Servo.StartupNormalizeMs = 3000
	}
	if c.Servo.DefaultMoveMs <= 0 {
		c.Servo.DefaultMoveMs = 300
	}

	// Each dimension falls back on its own so a partial section still solves.
	def := kinematics.DefaultLinkage()
	l := &c.Linkage.Linkage
	for _, f := range []struct {
		v *float64
		d float64
	}{
		{&l.NeutralDepth, def.NeutralDepth}, {&l.DS, def.DS},
		{&l.L1, def.L1}, {&l.L2, def.L2}, {&l.L3, def.L3}, {&l.L4, def.L4},
		{&l.L5, def.L5}, {&l.L6, def.L6}, {&l.L7, def.L7}, {&l.L8, def.L8}, {&l.L9, def.L9},
		{&l.HeightScale, def.HeightScale},
	} {
		if *f.v == 0 {
			*f.v = f.d
		}
	}
	if c.Linkage.CoordinateScale == 0 {
		c.Linkage.CoordinateScale = 1
	}

	gd := gait.DefaultParams()
	if c.Gait.StepWidthMm <= 0 {
		c.Gait.StepWidthMm = gd.StepWidth
	}
	if c.Gait.Smoothness == 0 {
		c.Gait.Smoothness = -0.5
	}
	if c.Gait.Points <= 0 {
		c.Gait.Points = gd.Points
	}
	if c.Gait.DurationMs <= 0 {
		c.Gait.DurationMs = int(gd.Duration / time.Millisecond)
	}
	if c.Gait.NormalizeDurationMs <= 0 {
		c.Gait.NormalizeDurationMs = int(gd.NormalizeDuration / time.Millisecond)
	}
	if c.Gait.HeightStepMm <= 0 {
		c.Gait.HeightStepMm = gd.HeightStep
	}
	if c.Gait.MinHeightMm == 0 && c.Gait.MaxHeightMm == 0 {
		c.Gait.MinHeightMm, c.Gait.MaxHeightMm = gd.MinHeight, gd.MaxHeight
	}
	if c.Gait.HeightDurationMs <= 0 {
		c.Gait.HeightDurationMs = int(gd.HeightDuration / time.Millisecond)
	}
	if c.Gait.Steps == nil {
		c.Gait.Steps = gd.Steps
	}
	if c.Gait.Turns == nil {
		c.Gait.Turns = gd.Turns
	}

	if c.Trajectory.HeightScale == 0 {
		c.Trajectory.HeightScale = 1
	}
}

func (c *Config) validate() error {
	switch actuator.Kind(c.Hardware.Driver) {
	case actuator.KindMock, actuator.KindMaestro, actuator.KindRPi:
	default:
		return fmt.Errorf("hardware.driver must be mock, maestro or rpio, got %q", c.Hardware.Driver)
	}
	if actuator.Kind(c.Hardware.Driver) == actuator.KindMaestro && c.Hardware.SerialPort == "" {
		return fmt.Errorf("hardware.serial_port is required for the maestro driver")
	}
	if c.Hardware.MinPulseUs >= c.Hardware.MaxPulseUs {
		return fmt.Errorf("hardware.min_pulse_us must be below max_pulse_us")
	}
	if c.Servo.NeutralAngle > 180 {
		return fmt.Errorf("servo.neutral_angle must be <= 180, got %d", c.Servo.NeutralAngle)
	}
	if c.Linkage.NeutralDepth >= 0 {
		return fmt.Errorf("linkage.neutral_depth_mm must be negative, got %g", c.Linkage.NeutralDepth)
	}
	if c.Gait.Smoothness <= -1 || c.Gait.Smoothness >= 1 {
		return fmt.Errorf("gait.smoothness must be in (-1, 1), got %g", c.Gait.Smoothness)
	}
	if c.Gait.MinHeightMm >= c.Gait.MaxHeightMm {
		return fmt.Errorf("gait.min_height_mm must be below max_height_mm")
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	for _, id := range gait.AllLegs {
		cals, err := c.LegCalibrations(id)
		if err != nil {
			return err
		}
		if actuator.Kind(c.Hardware.Driver) == actuator.KindRPi {
			for _, cal := range cals {
				if _, ok := c.Hardware.PWMPins[cal.Channel]; !ok {
					return fmt.Errorf("%w: hardware.pwm_pins has no pin for channel %d (leg %s)", joint.ErrConfiguration, cal.Channel, id)
				}
			}
		}
	}
	if actuator.Kind(c.Hardware.Driver) == actuator.KindRPi {
		for ch, pin := range c.Hardware.PWMPins {
			if !hardwarePWMPins[pin] {
				return fmt.Errorf("%w: hardware.pwm_pins channel %d uses BCM %d, which has no hardware PWM", joint.ErrConfiguration, ch, pin)
			}
		}
	}
	return nil
}

// LegCalibrations builds the thigh, lower-leg and side-axis calibrations of
// one leg. A missing leg, joint or required field is a configuration error.
func (c *Config) LegCalibrations(id gait.LegID) ([3]joint.Calibration, error) {
	var out [3]joint.Calibration
	leg, ok := c.Legs[id]
	if !ok {
		return out, fmt.Errorf("%w: legs.%s is missing", joint.ErrConfiguration, id)
	}
	parts := []struct {
		name string
		jc   *JointConfig
	}{
		{"thigh", leg.Thigh},
		{"lower_leg", leg.LowerLeg},
		{"side_axis", leg.SideAxis},
	}
	for i, p := range parts {
		prefix := fmt.Sprintf("legs.%s.%s", id, p.name)
		if p.jc == nil {
			return out, fmt.Errorf("%w: %s is missing", joint.ErrConfiguration, prefix)
		}
		switch {
		case p.jc.Channel == nil:
			return out, fmt.Errorf("%w: %s.channel is missing", joint.ErrConfiguration, prefix)
		case p.jc.MinAngle == nil:
			return out, fmt.Errorf("%w: %s.min_angle is missing", joint.ErrConfiguration, prefix)
		case p.jc.MaxAngle == nil:
			return out, fmt.Errorf("%w: %s.max_angle is missing", joint.ErrConfiguration, prefix)
		}
		cal := joint.Calibration{
			Channel:   *p.jc.Channel,
			MinAngle:  *p.jc.MinAngle,
			MaxAngle:  *p.jc.MaxAngle,
			Deviation: p.jc.Deviation,
			Mirrored:  p.jc.Mirrored,
		}
		if err := cal.Validate(c.Hardware.ChannelCount); err != nil {
			return out, fmt.Errorf("%s: %w", prefix, err)
		}
		out[i] = cal
	}
	return out, nil
}

// DriverOptions returns the actuator factory options.
func (c *Config) DriverOptions() actuator.Options {
	pulse := actuator.PulseRange{MinUs: c.Hardware.MinPulseUs, MaxUs: c.Hardware.MaxPulseUs}
	return actuator.Options{
		Kind:     actuator.Kind(c.Hardware.Driver),
		Channels: c.Hardware.ChannelCount,
		Pulse:    pulse,
		Maestro: actuator.MaestroConfig{
			Port:        c.Hardware.SerialPort,
			Baud:        c.Hardware.Baud,
			ReadTimeout: time.Duration(c.Hardware.ReadTimeoutMs) * time.Millisecond,
			Channels:    c.Hardware.ChannelCount,
			Pulse:       pulse,
		},
		Pins: c.Hardware.PWMPins,
	}
}

// JointOptions returns the joint executor tuning.
func (c *Config) JointOptions() joint.Options {
	return joint.Options{NeutralAngle: c.Servo.NeutralAngle, NeutralSteps: c.Servo.NeutralSteps}
}

// GaitParams returns the orchestrator defaults.
func (c *Config) GaitParams() gait.Params {
	return gait.Params{
		StepWidth:         c.Gait.StepWidthMm,
		Points:            c.Gait.Points,
		Duration:          c.StepDuration(),
		NormalizeDuration: c.NormalizeDuration(),
		HeightStep:        c.Gait.HeightStepMm,
		MinHeight:         c.Gait.MinHeightMm,
		MaxHeight:         c.Gait.MaxHeightMm,
		HeightDuration:    time.Duration(c.Gait.HeightDurationMs) * time.Millisecond,
		Steps:             c.Gait.Steps,
		Turns:             c.Gait.Turns,
	}
}

// TrajectoryMeta describes the arcs this configuration generates, for
// matching against a precomputed cache.
func (c *Config) TrajectoryMeta() trajectory.Meta {
	return trajectory.Meta{
		Points:      c.Gait.Points,
		Smoothness:  c.Gait.Smoothness,
		HeightScale: c.Trajectory.HeightScale,
	}
}

// StepDuration returns the duration of one full gait cycle.
func (c *Config) StepDuration() time.Duration {
	return time.Duration(c.Gait.DurationMs) * time.Millisecond
}

// NormalizeDuration returns the duration of the normal/reset command.
func (c *Config) NormalizeDuration() time.Duration {
	return time.Duration(c.Gait.NormalizeDurationMs) * time.Millisecond
}

// StartupNormalize returns the normalisation duration used on start and
// shutdown.
func (c *Config) StartupNormalize() time.Duration {
	return time.Duration(c.Servo.StartupNormalizeMs) * time.Millisecond
}

// DefaultMove returns the duration of single-leg moves.
func (c *Config) DefaultMove() time.Duration {
	return time.Duration(c.Servo.DefaultMoveMs) * time.Millisecond
}
