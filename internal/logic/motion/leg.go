package motion

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/cjeanneret/debbie/internal/debug"
	"github.com/cjeanneret/debbie/internal/hw/actuator"
	"github.com/cjeanneret/debbie/internal/hw/joint"
	"github.com/cjeanneret/debbie/internal/logic/geometry"
	"github.com/cjeanneret/debbie/internal/logic/kinematics"
	"github.com/cjeanneret/debbie/internal/logic/trajectory"
)

// LegConfig holds everything needed to assemble one leg.
type LegConfig struct {
	Name     string // front-left, front-right, back-left, back-right
	Thigh    joint.Calibration
	LowerLeg joint.Calibration
	SideAxis joint.Calibration

	ChannelCount int
	Driver       actuator.Driver
	Signal       *joint.Signal
	Solver       *kinematics.Solver
	Arcs         *trajectory.Source
	Joint        joint.Options

	// CoordinateScale multiplies every target before solving. Zero means 1.
	CoordinateScale float64
}

// Leg drives the three joints of one leg from foot coordinates.
// It is an intermediate layer between the gait (phases, directions) and
// the joints (servo interpolation).
type Leg struct {
	name    string
	thigh   *joint.Joint
	lower   *joint.Joint
	side    *joint.Joint
	solver  *kinematics.Solver
	arcs    *trajectory.Source
	signal  *joint.Signal
	neutral int
	scale   float64

	mu       sync.Mutex
	position geometry.Coordinate
	pending  *circleRun
	circle   *circleRun
	inflight int
	idle     chan struct{} // closed when inflight drops to zero
}

type circleRun struct {
	points  []geometry.Coordinate
	perStep time.Duration
	stopped atomic.Bool
	done    chan struct{}
	err     error
}

// LegStatus is a point-in-time view of a leg.
type LegStatus struct {
	Name     string              `json:"name"`
	Position geometry.Coordinate `json:"position"`
	Thigh    float64             `json:"thigh"`
	LowerLeg float64             `json:"lower_leg"`
	SideAxis float64             `json:"side_axis"`
	Moving   bool                `json:"moving"`
}

// NewLeg validates the calibrations and builds the three joints.
func NewLeg(cfg LegConfig) (*Leg, error) {
	if cfg.Driver == nil || cfg.Solver == nil || cfg.Arcs == nil {
		return nil, fmt.Errorf("%w: leg %s: driver, solver and arc source are required", joint.ErrConfiguration, cfg.Name)
	}
	cals := map[string]joint.Calibration{
		"thigh":     cfg.Thigh,
		"lower_leg": cfg.LowerLeg,
		"side_axis": cfg.SideAxis,
	}
	for part, cal := range cals {
		if err := cal.Validate(cfg.ChannelCount); err != nil {
			return nil, fmt.Errorf("leg %s %s: %w", cfg.Name, part, err)
		}
	}
	if cfg.Thigh.Channel == cfg.LowerLeg.Channel || cfg.Thigh.Channel == cfg.SideAxis.Channel || cfg.LowerLeg.Channel == cfg.SideAxis.Channel {
		return nil, fmt.Errorf("%w: leg %s: joints share a channel", joint.ErrConfiguration, cfg.Name)
	}

	opts := cfg.Joint
	if opts.NeutralAngle == 0 {
		opts.NeutralAngle = 90
	}
	scale := cfg.CoordinateScale
	if scale == 0 {
		scale = 1
	}
	newJoint := func(part string, cal joint.Calibration) *joint.Joint {
		return joint.New(cfg.Name+"/"+part, cal, cfg.Driver, cfg.Signal, opts)
	}
	return &Leg{
		name:    cfg.Name,
		thigh:   newJoint("thigh", cfg.Thigh),
		lower:   newJoint("lower_leg", cfg.LowerLeg),
		side:    newJoint("side_axis", cfg.SideAxis),
		solver:  cfg.Solver,
		arcs:    cfg.Arcs,
		signal:  cfg.Signal,
		neutral: opts.NeutralAngle,
		scale:   scale,
	}, nil
}

// Name returns the leg identity.
func (l *Leg) Name() string { return l.name }

// Position returns the last confirmed foot coordinate.
func (l *Leg) Position() geometry.Coordinate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.position
}

// Status returns the leg position and its last written joint angles.
func (l *Leg) Status() LegStatus {
	s := LegStatus{Name: l.name, Position: l.Position()}
	s.Thigh, _ = l.thigh.Angle()
	s.LowerLeg, _ = l.lower.Angle()
	s.SideAxis, _ = l.side.Angle()
	s.Moving = l.thigh.Moving() || l.lower.Moving() || l.side.Moving()
	return s
}

func (l *Leg) joints() [3]*joint.Joint {
	return [3]*joint.Joint{l.thigh, l.lower, l.side}
}

// SetToCoordinate solves target and drives the three joints there over d.
// The position is updated only when all three joints complete.
func (l *Leg) SetToCoordinate(target geometry.Coordinate, d time.Duration) error {
	return l.moveTo(target, d, nil)
}

// SetToNormalPosition returns the foot to the neutral coordinate with the
// fixed neutral step plan.
func (l *Leg) SetToNormalPosition(d time.Duration) error {
	debug.Live("Leg %s: normal position over %v", l.name, d)
	return l.drive(geometry.Origin, nil, func(j *joint.Joint) error {
		return j.CommandNeutral(d)
	})
}

// AdjustHeight moves the foot straight under the hip, delta mm up from its
// current height, clamped to [minZ, maxZ].
func (l *Leg) AdjustHeight(delta, minZ, maxZ float64, d time.Duration) error {
	z := math.Min(math.Max(l.Position().Z+delta, minZ), maxZ)
	debug.Live("Leg %s: height %.1f", l.name, z)
	return l.SetToCoordinate(geometry.NewCoordinate(0, 0, z), d)
}

func (l *Leg) moveTo(target geometry.Coordinate, d time.Duration, run *circleRun) error {
	angles, err := l.solver.Solve(target.Scale(l.scale))
	if err != nil {
		return fmt.Errorf("leg %s: %w", l.name, err)
	}
	debug.Verbose("Leg %s: %v -> %v", l.name, target, angles)

	targets := map[*joint.Joint]int{
		l.thigh: l.neutral + angles.Thigh,
		l.lower: l.neutral + angles.LowerLeg,
		l.side:  l.neutral + angles.SideAxis,
	}
	return l.drive(target, run, func(j *joint.Joint) error {
		return j.Command(targets[j], d)
	})
}

// drive commands, starts and joins the three joints. Commanding and
// starting happen under the leg lock so Interrupt cannot slip between a
// circle's stop check and the joint start.
func (l *Leg) drive(target geometry.Coordinate, run *circleRun, command func(*joint.Joint) error) error {
	l.mu.Lock()
	if run != nil && run.stopped.Load() {
		l.mu.Unlock()
		return fmt.Errorf("leg %s: %w", l.name, joint.ErrInterrupted)
	}
	js := l.joints()
	for i, j := range js {
		if err := command(j); err != nil {
			for _, p := range js[:i] {
				p.Discard()
			}
			l.mu.Unlock()
			return fmt.Errorf("leg %s: %w", l.name, err)
		}
	}
	var tasks [3]*joint.Task
	for i, j := range js {
		// Only fails when nothing is pending, which the loop above rules out.
		tasks[i], _ = j.StartTask()
	}
	if l.inflight == 0 {
		l.idle = make(chan struct{})
	}
	l.inflight++
	l.mu.Unlock()

	var errs error
	for _, t := range tasks {
		if t != nil {
			errs = multierr.Append(errs, t.Join())
		}
	}
	l.mu.Lock()
	l.inflight--
	if l.inflight == 0 {
		close(l.idle)
	}
	l.mu.Unlock()
	if errs != nil {
		if errors.Is(errs, joint.ErrInterrupted) && !errors.Is(errs, actuator.ErrHardware) {
			return fmt.Errorf("leg %s: %w", l.name, joint.ErrInterrupted)
		}
		return fmt.Errorf("leg %s: %w", l.name, errs)
	}

	l.mu.Lock()
	l.position = target
	l.mu.Unlock()
	return nil
}

// SetCircle plans a swing arc of stepWidth mm along angle degrees, centred
// under the leg. The arc runs once StartCircle is called.
func (l *Leg) SetCircle(stepWidth, angle float64, points int, d time.Duration) error {
	arc, err := l.arcs.Arc(stepWidth, angle, points)
	if err != nil {
		return fmt.Errorf("leg %s: %w", l.name, err)
	}
	sin, cos := math.Sincos(angle * math.Pi / 180)
	shift := geometry.NewCoordinate(cos*stepWidth/2, sin*stepWidth/2, 0)
	for i := range arc {
		arc[i] = arc[i].Sub(shift)
	}

	l.stopCircle()
	l.mu.Lock()
	l.pending = &circleRun{
		points:  arc,
		perStep: d / time.Duration(points),
		done:    make(chan struct{}),
	}
	l.mu.Unlock()
	return nil
}

// StartCircle launches the planned arc in the background.
func (l *Leg) StartCircle() error {
	l.mu.Lock()
	run := l.pending
	if run == nil {
		l.mu.Unlock()
		return fmt.Errorf("leg %s: %w: no circle planned", l.name, joint.ErrNoActiveTask)
	}
	l.pending = nil
	l.circle = run
	l.mu.Unlock()

	go l.runCircle(run)
	return nil
}

// JoinCircle waits for the running arc.
func (l *Leg) JoinCircle() error {
	l.mu.Lock()
	run := l.circle
	l.mu.Unlock()
	if run == nil {
		return fmt.Errorf("leg %s: %w: no circle running", l.name, joint.ErrNoActiveTask)
	}
	<-run.done
	l.mu.Lock()
	if l.circle == run {
		l.circle = nil
	}
	l.mu.Unlock()
	return run.err
}

// Circle plans, starts and joins one swing arc.
func (l *Leg) Circle(stepWidth, angle float64, points int, d time.Duration) error {
	if err := l.SetCircle(stepWidth, angle, points, d); err != nil {
		return err
	}
	if err := l.StartCircle(); err != nil {
		return err
	}
	return l.JoinCircle()
}

func (l *Leg) runCircle(run *circleRun) {
	defer close(run.done)
	debug.Live("Leg %s: circle of %d points, %v each", l.name, len(run.points), run.perStep)
	for _, p := range run.points {
		if l.signal.Raised() {
			run.err = fmt.Errorf("leg %s: %w", l.name, joint.ErrInterrupted)
			return
		}
		if err := l.moveTo(p, run.perStep, run); err != nil {
			run.err = err
			return
		}
	}
}

func (l *Leg) stopCircle() {
	l.mu.Lock()
	run := l.circle
	l.pending = nil
	if run != nil {
		run.stopped.Store(true)
	}
	l.mu.Unlock()
	if run == nil {
		return
	}
	select {
	case <-run.done:
		return
	default:
	}
	l.interruptJoints()
	<-run.done
}

func (l *Leg) interruptJoints() {
	for _, j := range l.joints() {
		if err := j.Interrupt(); err != nil && !errors.Is(err, joint.ErrNoActiveTask) {
			debug.Warn("Leg %s: interrupt %s: %v", l.name, j.Name(), err)
		}
	}
}

// Interrupt stops the running arc and every joint task, then waits for
// them to exit.
func (l *Leg) Interrupt() {
	l.stopCircle()
	l.interruptJoints()
}

// Join waits for the running arc and any in-flight move of this leg.
func (l *Leg) Join() {
	l.mu.Lock()
	run := l.circle
	var idle chan struct{}
	if l.inflight > 0 {
		idle = l.idle
	}
	l.mu.Unlock()
	if run != nil {
		<-run.done
	}
	if idle != nil {
		<-idle
	}
}
