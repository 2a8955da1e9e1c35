package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cjeanneret/debbie/internal/logic/trajectory"
)

func TestWidthRange(t *testing.T) {
	got, err := widthRange(10, 30, 5)
	if err != nil {
		t.Fatalf("widthRange: %v", err)
	}
	want := []float64{10, 15, 20, 25, 30}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWidthRange_SingleAndUneven(t *testing.T) {
	got, err := widthRange(50, 50, 10)
	if err != nil || len(got) != 1 || got[0] != 50 {
		t.Errorf("widthRange(50,50,10) = %v, %v", got, err)
	}
	got, err = widthRange(10, 25, 10)
	if err != nil || len(got) != 2 || got[1] != 20 {
		t.Errorf("widthRange(10,25,10) = %v, %v", got, err)
	}
}

func TestWidthRange_Invalid(t *testing.T) {
	cases := []struct {
		name           string
		min, max, step float64
	}{
		{"zero_step", 10, 20, 0},
		{"negative_min", -10, 20, 5},
		{"min_above_max", 30, 20, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := widthRange(tc.min, tc.max, tc.step); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestDirections(t *testing.T) {
	d := directions()
	if len(d) != 360 || d[0] != 0 || d[359] != 359 {
		t.Errorf("directions() = len %d, first %v, last %v", len(d), d[0], d[len(d)-1])
	}
}

func TestPlotArcs_WritesPNGs(t *testing.T) {
	meta := trajectory.Meta{Points: 20, Smoothness: -0.5, HeightScale: 1}
	widths := []float64{20, 40}
	cache, err := trajectory.Pregenerate(trajectory.Generator{HeightScale: 1}, meta, widths, directions())
	if err != nil {
		t.Fatalf("Pregenerate: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "plots")
	if err := plotArcs(cache, widths, dir); err != nil {
		t.Fatalf("plotArcs: %v", err)
	}
	for _, name := range []string{"arc_profiles.png", "arc_headings.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestPlotArcs_MissingWidth(t *testing.T) {
	cache := trajectory.NewFileCache(trajectory.Meta{Points: 20, Smoothness: -0.5, HeightScale: 1})
	if err := plotArcs(cache, []float64{30}, t.TempDir()); err == nil {
		t.Error("expected error for empty cache, got nil")
	}
}
