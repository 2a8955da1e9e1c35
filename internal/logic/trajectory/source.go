package trajectory

import (
	"math"
	"slices"
	"sync"

	"github.com/cjeanneret/debbie/internal/logic/geometry"
)

// Source hands out swing arcs, preferring a precomputed cache and falling
// back to the generator. Generated arcs are memoised. Safe for concurrent
// use by several legs.
type Source struct {
	gen        Generator
	smoothness float64
	cache      Cache

	mu   sync.RWMutex
	memo map[memoKey][]geometry.Coordinate
}

type memoKey struct {
	key
	points int
}

// NewSource returns a Source for arcs with the given smoothness. cache may
// be nil.
func NewSource(gen Generator, smoothness float64, cache Cache) *Source {
	return &Source{
		gen:        gen,
		smoothness: smoothness,
		cache:      cache,
		memo:       make(map[memoKey][]geometry.Coordinate),
	}
}

// Arc returns points+1 coordinates for a swing arc of stepWidth mm along
// directionDeg. The returned slice is owned by the caller.
func (s *Source) Arc(stepWidth, directionDeg float64, points int) ([]geometry.Coordinate, error) {
	if err := validate(stepWidth, points, s.smoothness); err != nil {
		return nil, err
	}
	// Cache and memo keys are quantised to 0.1 mm and whole degrees, so
	// only exact inputs use them; anything else would get a neighbour's arc.
	exact := math.Round(stepWidth*10)/10 == stepWidth && math.Round(directionDeg) == directionDeg
	if exact && s.cache != nil && s.cache.Meta().matches(points, s.smoothness, s.heightScale()) {
		if arc, ok := s.cache.Lookup(stepWidth, directionDeg); ok {
			return arc, nil
		}
	}

	k := memoKey{key: makeKey(stepWidth, directionDeg), points: points}
	if exact {
		s.mu.RLock()
		arc, ok := s.memo[k]
		s.mu.RUnlock()
		if ok {
			return slices.Clone(arc), nil
		}
	}

	arc, err := s.gen.Generate(stepWidth, directionDeg, points, s.smoothness)
	if err != nil {
		return nil, err
	}
	if exact {
		s.mu.Lock()
		s.memo[k] = slices.Clone(arc)
		s.mu.Unlock()
	}
	return arc, nil
}

func (s *Source) heightScale() float64 {
	if s.gen.HeightScale == 0 {
		return 1
	}
	return s.gen.HeightScale
}
