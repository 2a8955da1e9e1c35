package kinematics

import (
	"errors"
	"fmt"
	"math"

	"github.com/cjeanneret/debbie/internal/logic/geometry"
)

// ErrUnreachable is returned when a foot coordinate cannot be reached by the
// linkage (a triangle inequality or a trigonometric domain is violated).
var ErrUnreachable = errors.New("position unreachable")

// Angles are the joint angles of one leg in whole degrees, relative to the
// neutral stance (all zero at the neutral coordinate).
type Angles struct {
	Thigh    int
	LowerLeg int
	SideAxis int
}

func (a Angles) String() string {
	return fmt.Sprintf("thigh=%d lower_leg=%d side_axis=%d", a.Thigh, a.LowerLeg, a.SideAxis)
}

// Solver is a closed-form inverse kinematics solver for one Linkage.
// It is immutable after construction and safe for concurrent use.
type Solver struct {
	link         Linkage
	lds          float64 // pushrod horn diagonal
	epsilonAlpha float64
	epsilonBeta  float64
}

// NewSolver derives the linkage's correction angles at the neutral depth.
// It fails with ErrUnreachable if the linkage cannot stand at that depth.
func NewSolver(link Linkage) (*Solver, error) {
	if link.HeightScale == 0 {
		link.HeightScale = 1
	}
	s := &Solver{
		link: link,
		lds:  math.Sqrt2 * link.DS,
	}

	c := &chain{}
	depth := math.Abs(link.NeutralDepth)
	theta2e := c.cosRule("theta_2e", depth, link.L2, link.L1)
	s.epsilonAlpha = 90 - theta2e

	theta3e := c.cosRule("theta_3e", link.L1, link.L2, depth)
	pushrod := s.pushrod(c, theta3e, 0)
	s.epsilonBeta = 135 - pushrod

	if c.err != nil {
		return nil, fmt.Errorf("neutral stance: %w", c.err)
	}
	return s, nil
}

// Linkage returns the solver's linkage constants.
func (s *Solver) Linkage() Linkage {
	return s.link
}

// Epsilons returns the fixed alpha/beta corrections in degrees.
func (s *Solver) Epsilons() (alpha, beta float64) {
	return s.epsilonAlpha, s.epsilonBeta
}

// Solve maps a foot coordinate to joint angles. No partial result is
// returned on failure.
func (s *Solver) Solve(target geometry.Coordinate) (Angles, error) {
	if !target.IsFinite() {
		return Angles{}, fmt.Errorf("%w: non-finite coordinate %v", ErrUnreachable, target)
	}
	l := s.link
	p := target.Add(l.Offset)
	x, y := p.X, p.Y
	zsac := p.Z*l.HeightScale + l.NeutralDepth

	c := &chain{}
	z2d := c.sqrt("z_sa2D", y*y+zsac*zsac)
	reach := c.sqrt("l_1l2", x*x+z2d*z2d)
	theta1x := deg(math.Atan(c.div("theta_1X", x, z2d)))

	theta2 := c.cosRule("theta_2", reach, l.L2, l.L1)
	theta3 := c.cosRule("theta_3", l.L1, l.L2, reach)

	alpha := theta2 - theta1x + s.epsilonAlpha - 90
	beta := s.pushrod(c, theta3, alpha) + s.epsilonBeta - 135
	gamma := deg(math.Atan(c.div("gamma", y, zsac)))

	if c.err != nil {
		return Angles{}, fmt.Errorf("%v: %w", target, c.err)
	}
	return Angles{
		Thigh:    int(math.Round(alpha)),
		LowerLeg: int(math.Round(beta)),
		SideAxis: int(math.Round(gamma)),
	}, nil
}

// pushrod solves the lower-leg drive linkage for a given knee angle theta3
// and thigh angle alpha, returning theta_11 + theta_12.
func (s *Solver) pushrod(c *chain, theta3, alpha float64) float64 {
	l := s.link
	theta4 := 180 - theta3

	l23 := c.side("l_2l3", l.L2, l.L3, theta4)
	theta5 := c.cosRule("theta_5", l.L2, l23, l.L3)
	theta6 := c.cosRule("theta_6", l23, l.L5, l.L4)
	theta7 := theta6 + theta5 + alpha - s.epsilonAlpha

	theta8 := c.cosRule("theta_8", l.L5, l.L7, l.L6)
	theta9 := 180 - theta8 - theta7
	theta10 := theta9 + 45

	l89 := c.side("l_8l9", l.L7, s.lds, theta10)
	theta11 := c.cosRule("theta_11", l89, s.lds, l.L7)
	theta12 := c.cosRule("theta_12", l89, l.L9, l.L8)
	return theta11 + theta12
}

// chain carries the first domain violation through a sequence of triangle
// solves; once set, later steps are no-ops.
type chain struct {
	err error
}

// cosRule returns the angle (degrees) between sides a and b, opposite side o.
func (c *chain) cosRule(name string, a, b, o float64) float64 {
	ratio := c.div(name, a*a+b*b-o*o, 2*a*b)
	if c.err != nil {
		return 0
	}
	if math.IsNaN(ratio) || ratio < -1 || ratio > 1 {
		c.err = fmt.Errorf("%w: %s: cosine %.4f outside [-1, 1]", ErrUnreachable, name, ratio)
		return 0
	}
	return deg(math.Acos(ratio))
}

// side returns the side opposite angle gamma (degrees) between sides a and b.
func (c *chain) side(name string, a, b, gamma float64) float64 {
	return c.sqrt(name, a*a+b*b-2*a*b*math.Cos(rad(gamma)))
}

func (c *chain) sqrt(name string, v float64) float64 {
	if c.err != nil {
		return 0
	}
	if math.IsNaN(v) || v < 0 {
		c.err = fmt.Errorf("%w: %s: negative radicand %.4f", ErrUnreachable, name, v)
		return 0
	}
	return math.Sqrt(v)
}

func (c *chain) div(name string, num, den float64) float64 {
	if c.err != nil {
		return 0
	}
	if den == 0 {
		c.err = fmt.Errorf("%w: %s: zero denominator", ErrUnreachable, name)
		return 0
	}
	return num / den
}

func deg(r float64) float64 { return r * 180 / math.Pi }
func rad(d float64) float64 { return d * math.Pi / 180 }
