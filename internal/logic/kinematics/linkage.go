package kinematics

import "github.com/cjeanneret/debbie/internal/logic/geometry"

// Linkage holds the fixed dimensions of one leg's multi-bar linkage, in mm.
//
// L1/L2 are the primary thigh and lower-leg links; L3..L9 are the pushrod
// four/five-bar that drives the lower leg from the hip. DS is the servo horn
// offset of that pushrod (its diagonal sqrt(2)*DS is used in the solve).
type Linkage struct {
	NeutralDepth float64 `yaml:"neutral_depth_mm"` // z of the foot at rest, negative (below the hip)
	DS           float64 `yaml:"d_s"`
	L1           float64 `yaml:"l_1"`
	L2           float64 `yaml:"l_2"`
	L3           float64 `yaml:"l_3"`
	L4           float64 `yaml:"l_4"`
	L5           float64 `yaml:"l_5"`
	L6           float64 `yaml:"l_6"`
	L7           float64 `yaml:"l_7"`
	L8           float64 `yaml:"l_8"`
	L9           float64 `yaml:"l_9"`

	// Offset is added to every target before solving (mounting correction).
	Offset geometry.Coordinate `yaml:"offset"`
	// HeightScale multiplies the target z before solving.
	HeightScale float64 `yaml:"height_scale"`
}

// DefaultLinkage returns the dimensions of the production leg.
func DefaultLinkage() Linkage {
	return Linkage{
		NeutralDepth: -170,
		DS:           20,
		L1:           114,
		L2:           100,
		L3:           27,
		L4:           97,
		L5:           31,
		L6:           46,
		L7:           25,
		L8:           38,
		L9:           24,
		HeightScale:  1,
	}
}

// MaxReach is the farthest hip-to-foot distance the two primary links allow.
func (l Linkage) MaxReach() float64 {
	return l.L1 + l.L2
}
