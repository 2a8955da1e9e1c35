package trajectory

import (
	"errors"
	"fmt"
	"math"

	"github.com/cjeanneret/debbie/internal/logic/geometry"
)

// ErrInvalidParameter is returned for a non-positive step width, a
// smoothness outside (-1, 1) or a point count below 1.
var ErrInvalidParameter = errors.New("invalid trajectory parameter")

// precision is the number of decimals kept per coordinate component.
const precision = 6

// Generator computes swing arcs ("circle paths") for one foot.
//
// The arc is a circle segment whose chord is the step width; smoothness
// moves the circle centre below the ground line (negative values flatten
// the arc). Point 0 and the last point touch the ground, the middle point
// is the apex.
type Generator struct {
	// HeightScale multiplies the arc height. Zero means 1.
	HeightScale float64
}

// Generate returns points+1 coordinates for one swing arc travelling along
// directionDeg (0 = forward, positive values counter-clockwise).
func (g Generator) Generate(stepWidth, directionDeg float64, points int, smoothness float64) ([]geometry.Coordinate, error) {
	if err := validate(stepWidth, points, smoothness); err != nil {
		return nil, err
	}
	heightScale := g.HeightScale
	if heightScale == 0 {
		heightScale = 1
	}

	radius := math.Sqrt(stepWidth * stepWidth / (4 * (1 - smoothness*smoothness)))
	offset := math.Abs(deg(math.Asin(smoothness)))
	sinDir, cosDir := math.Sincos(rad(directionDeg))
	n := float64(points)

	arc := make([]geometry.Coordinate, 0, points+1)
	for point := 0; point <= points; point++ {
		p := float64(point)
		param := rad((180*p - offset*(2*p-n)) / n)
		lateral := radius*math.Cos(param) - stepWidth/2

		c := geometry.Coordinate{
			X: -cosDir * lateral,
			Y: -sinDir * lateral,
			Z: heightScale * radius * (math.Sin(param) + smoothness),
		}
		arc = append(arc, c.Round(precision))
	}
	return arc, nil
}

func validate(stepWidth float64, points int, smoothness float64) error {
	switch {
	case math.IsNaN(stepWidth) || stepWidth <= 0:
		return fmt.Errorf("%w: step width must be > 0, got %g", ErrInvalidParameter, stepWidth)
	case math.IsNaN(smoothness) || math.Abs(smoothness) >= 1:
		return fmt.Errorf("%w: smoothness must be in (-1, 1), got %g", ErrInvalidParameter, smoothness)
	case points < 1:
		return fmt.Errorf("%w: point count must be >= 1, got %d", ErrInvalidParameter, points)
	}
	return nil
}

func deg(r float64) float64 { return r * 180 / math.Pi }
func rad(d float64) float64 { return d * math.Pi / 180 }
