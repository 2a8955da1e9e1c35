package geometry

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/golang/geo/r3"
)

// Coordinate is a foot position in millimeters, in the robot body frame.
// X points forward, Y sideways and Z up. It is a plain value: every method
// returns a new Coordinate.
type Coordinate struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Origin is the neutral foot position.
var Origin = Coordinate{}

// NewCoordinate returns a coordinate from its three components.
func NewCoordinate(x, y, z float64) Coordinate {
	return Coordinate{X: x, Y: y, Z: z}
}

// FromVector converts an r3 vector into a Coordinate.
func FromVector(v r3.Vector) Coordinate {
	return Coordinate{X: v.X, Y: v.Y, Z: v.Z}
}

// Vector returns the coordinate as an r3 vector.
func (c Coordinate) Vector() r3.Vector {
	return r3.Vector{X: c.X, Y: c.Y, Z: c.Z}
}

// Add returns c + o.
func (c Coordinate) Add(o Coordinate) Coordinate {
	return FromVector(c.Vector().Add(o.Vector()))
}

// Sub returns c - o.
func (c Coordinate) Sub(o Coordinate) Coordinate {
	return FromVector(c.Vector().Sub(o.Vector()))
}

// Scale multiplies every component by f.
func (c Coordinate) Scale(f float64) Coordinate {
	return FromVector(c.Vector().Mul(f))
}

// Div divides every component by f.
func (c Coordinate) Div(f float64) Coordinate {
	return FromVector(c.Vector().Mul(1 / f))
}

// Distance returns the euclidean distance between c and o.
func (c Coordinate) Distance(o Coordinate) float64 {
	return c.Vector().Distance(o.Vector())
}

// Equal reports whether all three components are identical.
func (c Coordinate) Equal(o Coordinate) bool {
	return c.X == o.X && c.Y == o.Y && c.Z == o.Z
}

// IsFinite reports whether no component is NaN or infinite.
func (c Coordinate) IsFinite() bool {
	for _, v := range [3]float64{c.X, c.Y, c.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Round rounds every component to the given number of decimal places.
func (c Coordinate) Round(places int) Coordinate {
	p := math.Pow(10, float64(places))
	r := func(v float64) float64 { return math.Round(v*p) / p }
	return Coordinate{X: r(c.X), Y: r(c.Y), Z: r(c.Z)}
}

// Hash returns a stable 64-bit hash of the coordinate. Equal coordinates
// hash equally (-0 and +0 included).
func (c Coordinate) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range [3]float64{c.X, c.Y, c.Z} {
		if v == 0 {
			v = 0 // fold -0
		}
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return h.Sum64()
}

func (c Coordinate) String() string {
	return fmt.Sprintf("x=%.2f, y=%.2f, z=%.2f", c.X, c.Y, c.Z)
}
