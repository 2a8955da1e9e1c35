package joint

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/debbie/internal/debug"
	"github.com/cjeanneret/debbie/internal/hw/actuator"
)

var (
	// ErrRange is returned when a commanded angle falls outside the
	// calibrated window. No motion is started.
	ErrRange = errors.New("angle out of calibrated range")
	// ErrNoActiveTask is returned by Start, Join and Interrupt when there
	// is nothing to act on. Callers treat it as a warning.
	ErrNoActiveTask = errors.New("no active motion task")
	// ErrInterrupted is returned by Join when the task was cancelled.
	ErrInterrupted = errors.New("motion interrupted")
)

// Options tunes a Joint.
type Options struct {
	// NeutralAngle is the logical angle of the neutral stance. Default 90.
	NeutralAngle int
	// NeutralSteps is the fixed plan length of CommandNeutral. Default 50.
	NeutralSteps int
}

func (o Options) withDefaults() Options {
	if o.NeutralAngle == 0 {
		o.NeutralAngle = 90
	}
	if o.NeutralSteps <= 0 {
		o.NeutralSteps = 50
	}
	return o
}

// task is one planned interpolation.
type task struct {
	from, to float64 // physical degrees
	steps    int
	duration time.Duration

	stopped  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// written by the task goroutine before done is closed
	err       error
	cancelled bool
}

func (t *task) cancel() {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		close(t.stop)
	})
}

func (t *task) result() error {
	switch {
	case t.err != nil:
		return t.err
	case t.cancelled:
		return ErrInterrupted
	}
	return nil
}

// Joint owns one servo channel and moves it by timed interpolation.
// At most one task runs at a time; a new command cancels and joins the
// running one first.
type Joint struct {
	name   string
	cal    Calibration
	drv    actuator.Driver
	signal *Signal
	opts   Options

	mu      sync.Mutex
	pending *task
	active  *task
	last    float64
	hasLast bool
}

// New creates a joint. cal must already be validated.
func New(name string, cal Calibration, drv actuator.Driver, signal *Signal, opts Options) *Joint {
	return &Joint{
		name:   name,
		cal:    cal,
		drv:    drv,
		signal: signal,
		opts:   opts.withDefaults(),
	}
}

// Name returns the joint name, e.g. "front-left/thigh".
func (j *Joint) Name() string { return j.name }

// Calibration returns the joint calibration.
func (j *Joint) Calibration() Calibration { return j.cal }

// Command plans a move to the logical angle target over d. The task is
// pending until Start.
func (j *Joint) Command(target int, d time.Duration) error {
	adjusted := j.cal.Adjust(target)
	if !j.cal.InRange(adjusted) {
		return fmt.Errorf("%w: %s: target %d -> %d outside [%d, %d]",
			ErrRange, j.name, target, adjusted, j.cal.EffectiveMin(), j.cal.EffectiveMax())
	}
	j.plan(float64(adjusted), 0, d)
	return nil
}

// CommandNeutral plans a return to the calibrated neutral angle with a
// fixed step count.
func (j *Joint) CommandNeutral(d time.Duration) error {
	adjusted := j.cal.Adjust(j.opts.NeutralAngle)
	if !j.cal.InRange(adjusted) {
		return fmt.Errorf("%w: %s: neutral %d -> %d outside [%d, %d]",
			ErrRange, j.name, j.opts.NeutralAngle, adjusted, j.cal.EffectiveMin(), j.cal.EffectiveMax())
	}
	j.plan(float64(adjusted), j.opts.NeutralSteps, d)
	return nil
}

// plan cancels any running task and installs a new pending one. steps = 0
// means one step per degree of travel.
func (j *Joint) plan(to float64, steps int, d time.Duration) {
	j.cancelRunning()

	from := j.currentAngle()
	if steps == 0 {
		steps = max(1, int(math.Round(math.Abs(to-from))))
	}
	debug.Verbose("Joint %s: plan %.1f -> %.1f in %d steps over %v", j.name, from, to, steps, d)

	t := &task{
		from:     from,
		to:       to,
		steps:    steps,
		duration: d,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	j.mu.Lock()
	j.pending = t
	j.mu.Unlock()
}

// Task is a handle on one started motion. Its Join waits for that motion
// only, even if a later command has replaced it on the joint.
type Task struct {
	j *Joint
	t *task
}

// Join blocks until the task ends. It returns ErrInterrupted if the task
// was cancelled, or the hardware error that stopped it.
func (h *Task) Join() error {
	<-h.t.done
	h.j.release(h.t)
	return h.t.result()
}

// Start launches the pending task.
func (j *Joint) Start() error {
	_, err := j.StartTask()
	return err
}

// StartTask launches the pending task and returns a handle to join it.
func (j *Joint) StartTask() (*Task, error) {
	j.mu.Lock()
	t := j.pending
	if t == nil {
		j.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: nothing to start", ErrNoActiveTask, j.name)
	}
	j.pending = nil
	j.mu.Unlock()

	j.cancelRunning()

	j.mu.Lock()
	j.active = t
	j.mu.Unlock()
	go j.run(t)
	return &Task{j: j, t: t}, nil
}

// Join blocks until the currently active task ends. Callers that started
// the task themselves should join its Task handle instead.
func (j *Joint) Join() error {
	j.mu.Lock()
	t := j.active
	j.mu.Unlock()
	if t == nil {
		return fmt.Errorf("%w: %s: nothing to join", ErrNoActiveTask, j.name)
	}
	return (&Task{j: j, t: t}).Join()
}

// Interrupt cancels the active task, drops any pending one and waits
// for the task goroutine to exit. The task stays active until joined, so
// its owner's Join reports ErrInterrupted.
func (j *Joint) Interrupt() error {
	j.mu.Lock()
	t := j.active
	j.pending = nil
	j.mu.Unlock()
	if t == nil {
		return fmt.Errorf("%w: %s: nothing to interrupt", ErrNoActiveTask, j.name)
	}

	t.cancel()
	<-t.done
	return t.err
}

// Discard drops the pending task, if any.
func (j *Joint) Discard() {
	j.mu.Lock()
	j.pending = nil
	j.mu.Unlock()
}

// Angle returns the last physical angle written by this joint.
func (j *Joint) Angle() (float64, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last, j.hasLast
}

// Moving reports whether a task is running.
func (j *Joint) Moving() bool {
	j.mu.Lock()
	t := j.active
	j.mu.Unlock()
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (j *Joint) cancelRunning() {
	j.mu.Lock()
	t := j.active
	j.mu.Unlock()
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
	j.release(t)
}

func (j *Joint) release(t *task) {
	j.mu.Lock()
	if j.active == t {
		j.active = nil
	}
	j.mu.Unlock()
}

// currentAngle prefers the hardware reading, then the last written angle,
// then the calibrated neutral.
func (j *Joint) currentAngle() float64 {
	a, ok, err := j.drv.ReadAngle(j.cal.Channel)
	if err != nil {
		debug.Warn("Joint %s: read angle: %v", j.name, err)
	} else if ok {
		return a
	}
	if last, ok := j.Angle(); ok {
		return last
	}
	return j.cal.clamp(float64(j.cal.Adjust(j.opts.NeutralAngle)))
}

func (j *Joint) run(t *task) {
	defer close(t.done)

	start := time.Now()
	delta := (t.to - t.from) / float64(t.steps)
	for i := 1; i <= t.steps; i++ {
		if j.shouldStop(t) {
			t.cancelled = true
			return
		}
		angle := j.cal.clamp(t.from + delta*float64(i))
		if err := j.write(angle); err != nil {
			t.err = err
			return
		}
		next := start.Add(t.duration * time.Duration(i) / time.Duration(t.steps))
		if !j.sleepUntil(t, next) {
			t.cancelled = true
			return
		}
	}
	if j.shouldStop(t) {
		t.cancelled = true
		return
	}
	if err := j.write(t.to); err != nil {
		t.err = err
	}
}

func (j *Joint) shouldStop(t *task) bool {
	return t.stopped.Load() || j.signal.Raised()
}

// sleepUntil waits for the next tick and returns false if the task was
// cancelled meanwhile.
func (j *Joint) sleepUntil(t *task, next time.Time) bool {
	wait := time.Until(next)
	if wait <= 0 {
		return !j.shouldStop(t)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !j.shouldStop(t)
	case <-t.stop:
		return false
	case <-j.signal.Done():
		return false
	}
}

func (j *Joint) write(angle float64) error {
	if err := j.drv.WriteAngle(j.cal.Channel, angle); err != nil {
		if !errors.Is(err, actuator.ErrHardware) {
			err = fmt.Errorf("%w: %w", actuator.ErrHardware, err)
		}
		return fmt.Errorf("joint %s: %w", j.name, err)
	}
	j.mu.Lock()
	j.last = angle
	j.hasLast = true
	j.mu.Unlock()
	return nil
}
