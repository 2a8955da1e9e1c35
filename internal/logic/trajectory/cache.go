package trajectory

import (
	"fmt"
	"math"
	"os"
	"slices"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/debbie/internal/logic/geometry"
)

// Meta records the generator settings a cache was built with. A cache is
// only consulted for arcs generated with the same settings.
type Meta struct {
	Points      int     `yaml:"points"`
	Smoothness  float64 `yaml:"smoothness"`
	HeightScale float64 `yaml:"height_scale"`
}

func (m Meta) matches(points int, smoothness, heightScale float64) bool {
	return m.Points == points && m.Smoothness == smoothness && m.HeightScale == heightScale
}

// Cache is an optional store of precomputed swing arcs keyed by step width
// and direction.
type Cache interface {
	Meta() Meta
	Lookup(stepWidth, directionDeg float64) ([]geometry.Coordinate, bool)
}

// key quantises step width to 0.1 mm and direction to whole degrees in
// [0, 360).
type key struct {
	width int64
	angle int64
}

func makeKey(stepWidth, directionDeg float64) key {
	a := int64(math.Round(directionDeg)) % 360
	if a < 0 {
		a += 360
	}
	return key{width: int64(math.Round(stepWidth * 10)), angle: a}
}

// FileCache is an in-memory arc cache that can be persisted as YAML.
type FileCache struct {
	mu   sync.RWMutex
	meta Meta
	arcs map[key][]geometry.Coordinate
}

type cacheDocument struct {
	Meta `yaml:",inline"`
	Arcs []cacheEntry `yaml:"arcs"`
}

type cacheEntry struct {
	StepWidth float64               `yaml:"step_width_mm"`
	Direction float64               `yaml:"direction_deg"`
	Points    []geometry.Coordinate `yaml:"points,flow"`
}

// NewFileCache returns an empty cache for arcs generated with meta.
func NewFileCache(meta Meta) *FileCache {
	return &FileCache{
		meta: meta,
		arcs: make(map[key][]geometry.Coordinate),
	}
}

// LoadFileCache reads a cache file written by Save.
func LoadFileCache(path string) (*FileCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trajectory cache: %w", err)
	}
	var doc cacheDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal trajectory cache: %w", err)
	}
	if doc.Points < 1 {
		return nil, fmt.Errorf("trajectory cache %s: points must be >= 1, got %d", path, doc.Points)
	}

	c := NewFileCache(doc.Meta)
	for i, e := range doc.Arcs {
		if len(e.Points) != doc.Points+1 {
			return nil, fmt.Errorf("trajectory cache %s: arc %d has %d points, want %d", path, i, len(e.Points), doc.Points+1)
		}
		c.Store(e.StepWidth, e.Direction, e.Points)
	}
	return c, nil
}

// Meta returns the generator settings of the cached arcs.
func (c *FileCache) Meta() Meta {
	return c.meta
}

// Store adds or replaces one arc.
func (c *FileCache) Store(stepWidth, directionDeg float64, arc []geometry.Coordinate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arcs[makeKey(stepWidth, directionDeg)] = slices.Clone(arc)
}

// Lookup returns a copy of the cached arc, if any. Inputs are rounded to
// the key resolution, so a near miss returns the neighbouring arc.
func (c *FileCache) Lookup(stepWidth, directionDeg float64) ([]geometry.Coordinate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	arc, ok := c.arcs[makeKey(stepWidth, directionDeg)]
	if !ok {
		return nil, false
	}
	return slices.Clone(arc), true
}

// Len returns the number of cached arcs.
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.arcs)
}

// Save writes the cache as YAML, sorted by step width then direction.
func (c *FileCache) Save(path string) error {
	c.mu.RLock()
	keys := make([]key, 0, len(c.arcs))
	for k := range c.arcs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].width != keys[j].width {
			return keys[i].width < keys[j].width
		}
		return keys[i].angle < keys[j].angle
	})
	doc := cacheDocument{Meta: c.meta}
	for _, k := range keys {
		doc.Arcs = append(doc.Arcs, cacheEntry{
			StepWidth: float64(k.width) / 10,
			Direction: float64(k.angle),
			Points:    c.arcs[k],
		})
	}
	c.mu.RUnlock()

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal trajectory cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write trajectory cache: %w", err)
	}
	return nil
}

// Pregenerate fills a new cache with arcs for every combination of step
// width and direction.
func Pregenerate(g Generator, meta Meta, widths, directions []float64) (*FileCache, error) {
	c := NewFileCache(meta)
	for _, w := range widths {
		for _, a := range directions {
			arc, err := g.Generate(w, a, meta.Points, meta.Smoothness)
			if err != nil {
				return nil, fmt.Errorf("step width %.1f, direction %.0f: %w", w, a, err)
			}
			c.Store(w, a, arc)
		}
	}
	return c, nil
}
