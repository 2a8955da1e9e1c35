// Command trajgen precomputes swing arcs for a range of step widths and
// every integer direction, writes them to a trajectory cache file and can
// plot them for inspection.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/cjeanneret/debbie/internal/config"
	"github.com/cjeanneret/debbie/internal/debug"
	"github.com/cjeanneret/debbie/internal/logic/trajectory"
)

func main() {
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	out := flag.String("out", "", "cache file to write (default: trajectory.cache_file from config)")
	minWidth := flag.Float64("min_width_mm", 10, "smallest step width")
	maxWidth := flag.Float64("max_width_mm", 100, "largest step width")
	widthStep := flag.Float64("width_step_mm", 5, "step width increment")
	plotDir := flag.String("plot_dir", "", "directory for arc plots (empty = no plots)")
	flag.Parse()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	debug.Init(cfg.Defaults.DebugLevel)
	defer debug.Sync()

	path := *out
	if path == "" {
		path = cfg.Trajectory.CacheFile
	}
	if path == "" {
		log.Fatalf("no output file: set -out or trajectory.cache_file")
	}

	widths, err := widthRange(*minWidth, *maxWidth, *widthStep)
	if err != nil {
		log.Fatalf("invalid width range: %v", err)
	}

	gen := trajectory.Generator{HeightScale: cfg.Trajectory.HeightScale}
	meta := cfg.TrajectoryMeta()
	debug.Section("Pregenerating arcs")
	debug.Value("Widths", len(widths))
	debug.PrintStruct("Meta", meta)

	cache, err := trajectory.Pregenerate(gen, meta, widths, directions())
	if err != nil {
		log.Fatalf("pregenerate failed: %v", err)
	}
	if err := cache.Save(path); err != nil {
		log.Fatalf("save cache failed: %v", err)
	}
	debug.Info("Wrote %d arcs to %s", cache.Len(), path)

	if *plotDir != "" {
		if err := plotArcs(cache, widths, *plotDir); err != nil {
			log.Fatalf("plot failed: %v", err)
		}
		debug.Info("Plots written to %s", *plotDir)
	}
}

// widthRange returns min, min+step, ... up to and including max.
func widthRange(minW, maxW, step float64) ([]float64, error) {
	for _, v := range []float64{minW, maxW, step} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return nil, fmt.Errorf("widths and step must be positive, got %g", v)
		}
	}
	if minW > maxW {
		return nil, fmt.Errorf("min width %g above max width %g", minW, maxW)
	}
	n := int(math.Floor((maxW-minW)/step+1e-9)) + 1
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, minW+float64(i)*step)
	}
	return out, nil
}

// directions returns every integer heading in [0, 360).
func directions() []float64 {
	out := make([]float64, 360)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

// plotArcs writes a side profile of the forward arc for every width and a
// top view of the widest arc in eight headings.
func plotArcs(cache *trajectory.FileCache, widths []float64, dir string) error {
	profile := plot.New()
	profile.Title.Text = "Swing arc profiles (heading 0)"
	profile.X.Label.Text = "x (mm)"
	profile.Y.Label.Text = "z (mm)"
	for i, w := range widths {
		arc, ok := cache.Lookup(w, 0)
		if !ok {
			return fmt.Errorf("width %g missing from cache", w)
		}
		pts := make(plotter.XYs, len(arc))
		for j, c := range arc {
			pts[j].X, pts[j].Y = c.X, c.Z
		}
		if err := addLine(profile, pts, i, fmt.Sprintf("%g mm", w)); err != nil {
			return err
		}
	}
	if err := savePlotPNG(profile, 8, 5, filepath.Join(dir, "arc_profiles.png")); err != nil {
		return err
	}

	widest := widths[len(widths)-1]
	top := plot.New()
	top.Title.Text = fmt.Sprintf("Swing arcs, top view (%g mm)", widest)
	top.X.Label.Text = "x (mm)"
	top.Y.Label.Text = "y (mm)"
	for i, heading := range []float64{0, 45, 90, 135, 180, 225, 270, 315} {
		arc, ok := cache.Lookup(widest, heading)
		if !ok {
			return fmt.Errorf("heading %g missing from cache", heading)
		}
		pts := make(plotter.XYs, len(arc))
		for j, c := range arc {
			pts[j].X, pts[j].Y = c.X, c.Y
		}
		if err := addLine(top, pts, i, fmt.Sprintf("%g°", heading)); err != nil {
			return err
		}
	}
	return savePlotPNG(top, 6, 6, filepath.Join(dir, "arc_headings.png"))
}

func addLine(p *plot.Plot, pts plotter.XYs, i int, label string) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("line plot: %w", err)
	}
	line.LineStyle.Width = vg.Points(1.5)
	line.LineStyle.Color = plotutil.Color(i)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

// savePlotPNG renders a plot to a PNG on a 150 DPI raster canvas.
// widthIn and heightIn are in inches.
func savePlotPNG(p *plot.Plot, widthIn, heightIn float64, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(150),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return bw.Flush()
}
