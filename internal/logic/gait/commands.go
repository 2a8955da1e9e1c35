package gait

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cjeanneret/debbie/internal/debug"
	"github.com/cjeanneret/debbie/internal/logic/trajectory"
)

// Overrides adjust a single command run. Zero fields keep the defaults.
type Overrides struct {
	StepWidth  float64 `json:"step_width_mm,omitempty"`
	DurationMs int     `json:"duration_ms,omitempty"`
}

// Validate rejects negative or non-finite values.
func (ov Overrides) Validate() error {
	if math.IsNaN(ov.StepWidth) || math.IsInf(ov.StepWidth, 0) || ov.StepWidth < 0 {
		return fmt.Errorf("%w: step width %g", trajectory.ErrInvalidParameter, ov.StepWidth)
	}
	if ov.DurationMs < 0 {
		return fmt.Errorf("%w: duration %d ms", trajectory.ErrInvalidParameter, ov.DurationMs)
	}
	return nil
}

func (ov Overrides) stepWidth(p Params) float64 {
	if ov.StepWidth > 0 {
		return ov.StepWidth
	}
	return p.StepWidth
}

func (ov Overrides) duration(def time.Duration) time.Duration {
	if ov.DurationMs > 0 {
		return time.Duration(ov.DurationMs) * time.Millisecond
	}
	return def
}

type command func(ctx context.Context, o *Orchestrator, ov Overrides) error

func step(dir Direction) command {
	return func(ctx context.Context, o *Orchestrator, ov Overrides) error {
		return o.Step(ctx, dir, ov.stepWidth(o.params), ov.duration(o.params.Duration))
	}
}

func turn(t Turn) command {
	return func(ctx context.Context, o *Orchestrator, ov Overrides) error {
		return o.Turn(ctx, t, ov.stepWidth(o.params), ov.duration(o.params.Duration))
	}
}

func normalize(ctx context.Context, o *Orchestrator, ov Overrides) error {
	return o.Normalize(ctx, ov.duration(o.params.NormalizeDuration))
}

var commands = map[string]command{
	string(Forward):       step(Forward),
	string(Backward):      step(Backward),
	string(SidestepLeft):  step(SidestepLeft),
	string(SidestepRight): step(SidestepRight),
	string(TurnLeft):      turn(TurnLeft),
	string(TurnRight):     turn(TurnRight),
	"lower": func(ctx context.Context, o *Orchestrator, ov Overrides) error {
		return o.Lower(ctx, ov.duration(o.params.HeightDuration))
	},
	"lift": func(ctx context.Context, o *Orchestrator, ov Overrides) error {
		return o.Lift(ctx, ov.duration(o.params.HeightDuration))
	},
	"normal": normalize,
	"reset":  normalize,
	"climb-stair": func(context.Context, *Orchestrator, Overrides) error {
		return fmt.Errorf("climb-stair: %w", ErrUnsupported)
	},
}

// CommandNames returns every command Run accepts, sorted.
func CommandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes a command by name.
func (o *Orchestrator) Run(ctx context.Context, name string, ov Overrides) error {
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if err := ov.Validate(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	debug.Info("Command: %s", name)
	start := time.Now()
	if err := cmd(ctx, o, ov); err != nil {
		return err
	}
	debug.Verbose("Command %s done in %v", name, time.Since(start))
	return nil
}
