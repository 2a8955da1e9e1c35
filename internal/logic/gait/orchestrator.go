package gait

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/cjeanneret/debbie/internal/debug"
	"github.com/cjeanneret/debbie/internal/hw/joint"
	"github.com/cjeanneret/debbie/internal/logic/geometry"
	"github.com/cjeanneret/debbie/internal/logic/motion"
)

var (
	// ErrUnsupported marks a known capability that is not built yet.
	ErrUnsupported = fmt.Errorf("gait: %w", errors.ErrUnsupported)
	// ErrUnknownCommand is returned for a name missing from the command table.
	ErrUnknownCommand = errors.New("unknown command")
)

// Leg is the part of motion.Leg the orchestrator drives.
type Leg interface {
	Name() string
	Position() geometry.Coordinate
	Status() motion.LegStatus
	SetToNormalPosition(d time.Duration) error
	Circle(stepWidth, angle float64, points int, d time.Duration) error
	AdjustHeight(delta, minZ, maxZ float64, d time.Duration) error
	Join()
}

// Orchestrator sequences the four legs into diagonal-pair gait cycles.
// Commands are serialised; InterruptAll may be called at any time to
// preempt the running one.
type Orchestrator struct {
	legs   map[LegID]Leg
	signal *joint.Signal
	params Params

	mu sync.Mutex
}

// NewOrchestrator requires all four legs.
func NewOrchestrator(legs map[LegID]Leg, signal *joint.Signal, p Params) (*Orchestrator, error) {
	for _, id := range AllLegs {
		if legs[id] == nil {
			return nil, fmt.Errorf("%w: missing leg %s", joint.ErrConfiguration, id)
		}
	}
	if signal == nil {
		signal = &joint.Signal{}
	}
	return &Orchestrator{legs: legs, signal: signal, params: p.withDefaults()}, nil
}

// Params returns the effective gait defaults.
func (o *Orchestrator) Params() Params {
	return o.params
}

// Step runs one translation cycle.
func (o *Orchestrator) Step(ctx context.Context, dir Direction, stepWidth float64, d time.Duration) error {
	angles, ok := o.params.Steps[dir]
	if !ok {
		return fmt.Errorf("%w: step direction %q", ErrUnknownCommand, dir)
	}
	return o.cycle(ctx, string(dir), angles, stepWidth, d)
}

// Turn runs one rotation cycle.
func (o *Orchestrator) Turn(ctx context.Context, turn Turn, stepWidth float64, d time.Duration) error {
	angles, ok := o.params.Turns[turn]
	if !ok {
		return fmt.Errorf("%w: turn %q", ErrUnknownCommand, turn)
	}
	return o.cycle(ctx, string(turn), angles, stepWidth, d)
}

// cycle runs the two diagonal phases, each taking half of d. Phase 2 only
// starts once every leg of phase 1 has joined without error.
func (o *Orchestrator) cycle(ctx context.Context, name string, angles LegAngles, stepWidth float64, d time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer o.interruptOnCancel(ctx)()

	debug.Section(name)
	half := d / 2
	phases := []struct {
		swing, stance [2]LegID // stance legs return to neutral
	}{
		{swing: [2]LegID{FrontLeft, BackRight}, stance: [2]LegID{FrontRight, BackLeft}},
		{swing: [2]LegID{FrontRight, BackLeft}, stance: [2]LegID{FrontLeft, BackRight}},
	}
	for i, ph := range phases {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w: %w", name, joint.ErrInterrupted, err)
		}
		debug.Phase(i+1, fmt.Sprintf("%s+%s", ph.swing[0], ph.swing[1]), fmt.Sprintf("%s+%s", ph.stance[0], ph.stance[1]))

		err := o.parallel(func(id LegID, leg Leg) error {
			if id == ph.swing[0] || id == ph.swing[1] {
				return leg.Circle(stepWidth, angles.For(id), o.params.Points, half)
			}
			return leg.SetToNormalPosition(half)
		})
		if err != nil {
			return fmt.Errorf("%s phase %d: %w", name, i+1, err)
		}
	}
	debug.Live("%s complete", name)
	return nil
}

// parallel runs fn for every leg concurrently and waits for all of them.
func (o *Orchestrator) parallel(fn func(LegID, Leg) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, id := range AllLegs {
		wg.Add(1)
		go func(id LegID, leg Leg) {
			defer wg.Done()
			if err := fn(id, leg); err != nil {
				debug.Warn("Leg %s: %v", id, err)
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}(id, o.legs[id])
	}
	wg.Wait()
	return errs
}

// interruptOnCancel runs InterruptAll when ctx is cancelled. The returned
// func must be deferred: if the interrupt already started it waits until
// the signal is cleared again, so the next command never sees it raised.
func (o *Orchestrator) interruptOnCancel(ctx context.Context) func() {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		o.InterruptAll()
	})
	return func() {
		if !stop() {
			<-done
		}
	}
}

// InterruptAll raises the shared signal, waits for every leg to stop and
// clears the signal again.
func (o *Orchestrator) InterruptAll() {
	debug.Info("Interrupting all legs")
	o.signal.Raise()
	var wg sync.WaitGroup
	for _, id := range AllLegs {
		wg.Add(1)
		go func(leg Leg) {
			defer wg.Done()
			leg.Join()
		}(o.legs[id])
	}
	wg.Wait()
	o.signal.Clear()
}

// Normalize returns every leg to neutral over d.
func (o *Orchestrator) Normalize(ctx context.Context, d time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer o.interruptOnCancel(ctx)()

	debug.Live("Normalizing all legs over %v", d)
	return o.parallel(func(_ LegID, leg Leg) error {
		return leg.SetToNormalPosition(d)
	})
}

// AdjustHeight moves every foot delta mm up, clamped to the configured
// height window.
func (o *Orchestrator) AdjustHeight(ctx context.Context, delta float64, d time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer o.interruptOnCancel(ctx)()

	if delta == 0 {
		return nil
	}
	return o.parallel(func(_ LegID, leg Leg) error {
		return leg.AdjustHeight(delta, o.params.MinHeight, o.params.MaxHeight, d)
	})
}

// Lower brings the body one height step closer to the ground.
func (o *Orchestrator) Lower(ctx context.Context, d time.Duration) error {
	return o.AdjustHeight(ctx, o.params.HeightStep, d)
}

// Lift raises the body by one height step.
func (o *Orchestrator) Lift(ctx context.Context, d time.Duration) error {
	return o.AdjustHeight(ctx, -o.params.HeightStep, d)
}

// Positions returns the confirmed foot coordinate of every leg.
func (o *Orchestrator) Positions() map[LegID]geometry.Coordinate {
	out := make(map[LegID]geometry.Coordinate, len(o.legs))
	for id, leg := range o.legs {
		out[id] = leg.Position()
	}
	return out
}

// Status returns a snapshot of every leg in AllLegs order.
func (o *Orchestrator) Status() []motion.LegStatus {
	out := make([]motion.LegStatus, 0, len(AllLegs))
	for _, id := range AllLegs {
		out = append(out, o.legs[id].Status())
	}
	return out
}
