package gait

import "time"

// LegID names one leg.
type LegID string

const (
	FrontLeft  LegID = "front-left"
	FrontRight LegID = "front-right"
	BackLeft   LegID = "back-left"
	BackRight  LegID = "back-right"
)

// AllLegs lists the legs in a stable order.
var AllLegs = []LegID{FrontLeft, FrontRight, BackLeft, BackRight}

// Direction is a translation gait.
type Direction string

const (
	Forward       Direction = "step-forward"
	Backward      Direction = "step-backward"
	SidestepLeft  Direction = "sidestep-left"
	SidestepRight Direction = "sidestep-right"
)

// Turn is a rotation gait.
type Turn string

const (
	TurnLeft  Turn = "turn-left"
	TurnRight Turn = "turn-right"
)

// LegAngles holds the swing direction of each leg in degrees.
type LegAngles struct {
	FrontLeft  float64 `yaml:"front_left"`
	BackLeft   float64 `yaml:"back_left"`
	FrontRight float64 `yaml:"front_right"`
	BackRight  float64 `yaml:"back_right"`
}

// For returns the angle of one leg.
func (a LegAngles) For(id LegID) float64 {
	switch id {
	case FrontLeft:
		return a.FrontLeft
	case BackLeft:
		return a.BackLeft
	case FrontRight:
		return a.FrontRight
	default:
		return a.BackRight
	}
}

// Params are the gait defaults used when a command carries no override.
type Params struct {
	StepWidth         float64       // mm
	Points            int           // arc segments per swing
	Duration          time.Duration // one full two-phase cycle
	NormalizeDuration time.Duration
	HeightStep        float64 // mm per lower/lift
	MinHeight         float64
	MaxHeight         float64
	HeightDuration    time.Duration
	Steps             map[Direction]LegAngles
	Turns             map[Turn]LegAngles
}

// DefaultSteps returns the production step direction map.
func DefaultSteps() map[Direction]LegAngles {
	return map[Direction]LegAngles{
		Forward:       {FrontLeft: 0, BackLeft: 0, FrontRight: 0, BackRight: 0},
		Backward:      {FrontLeft: 180, BackLeft: 180, FrontRight: 0, BackRight: 0},
		SidestepRight: {FrontLeft: 90, BackLeft: 90, FrontRight: 270, BackRight: 270},
		SidestepLeft:  {FrontLeft: 270, BackLeft: 270, FrontRight: 90, BackRight: 90},
	}
}

// DefaultTurns returns the production turn direction map. Front and back
// legs of one side sweep opposite ways.
func DefaultTurns() map[Turn]LegAngles {
	return map[Turn]LegAngles{
		TurnLeft:  {FrontLeft: 270, BackLeft: 90, FrontRight: 270, BackRight: 90},
		TurnRight: {FrontLeft: 90, BackLeft: 270, FrontRight: 90, BackRight: 270},
	}
}

// DefaultParams returns the production gait tuning.
func DefaultParams() Params {
	return Params{
		StepWidth:         50,
		Points:            10,
		Duration:          100 * time.Millisecond,
		NormalizeDuration: 300 * time.Millisecond,
		HeightStep:        10,
		MinHeight:         -40,
		MaxHeight:         40,
		HeightDuration:    100 * time.Millisecond,
		Steps:             DefaultSteps(),
		Turns:             DefaultTurns(),
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.StepWidth <= 0 {
		p.StepWidth = d.StepWidth
	}
	if p.Points <= 0 {
		p.Points = d.Points
	}
	if p.Duration <= 0 {
		p.Duration = d.Duration
	}
	if p.NormalizeDuration <= 0 {
		p.NormalizeDuration = d.NormalizeDuration
	}
	if p.HeightStep <= 0 {
		p.HeightStep = d.HeightStep
	}
	if p.MinHeight == 0 && p.MaxHeight == 0 {
		p.MinHeight, p.MaxHeight = d.MinHeight, d.MaxHeight
	}
	if p.HeightDuration <= 0 {
		p.HeightDuration = d.HeightDuration
	}
	if p.Steps == nil {
		p.Steps = d.Steps
	}
	if p.Turns == nil {
		p.Turns = d.Turns
	}
	return p
}
