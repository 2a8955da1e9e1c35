package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cjeanneret/debbie/internal/config"
	"github.com/cjeanneret/debbie/internal/debug"
	"github.com/cjeanneret/debbie/internal/hw/actuator"
	"github.com/cjeanneret/debbie/internal/hw/joint"
	"github.com/cjeanneret/debbie/internal/logic/gait"
	"github.com/cjeanneret/debbie/internal/logic/kinematics"
	"github.com/cjeanneret/debbie/internal/logic/motion"
	"github.com/cjeanneret/debbie/internal/logic/trajectory"
	"github.com/cjeanneret/debbie/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	commands := flag.String("commands", "", "comma-separated commands to run once, e.g. step-forward,step-forward,normal")
	stepWidthMm := flag.Float64("step_width_mm", 0, "override gait step width in mm (0-200)")
	durationMs := flag.Int("duration_ms", 0, "override gait cycle duration in ms (0-60000)")
	flag.Parse()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Validate CLI overrides (only non-zero values are applied; zero means "use config default")
	if err := validateCLIOverrides(*stepWidthMm, *durationMs); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, gait.Overrides{StepWidth: *stepWidthMm, DurationMs: *durationMs})

	if err := run(cfg, *cfgPath, webPort.port(), splitCommands(*commands)); err != nil {
		log.Fatalf("debbie: %v", err)
	}
}

// run owns the hardware for the process lifetime: every exit path goes
// through the deferred shutdown normalisation and driver close.
func run(cfg *config.Config, cfgPath string, port int, commands []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	defer debug.Sync()
	debug.Section("Initialization")
	debug.Value("Config path", cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	var broadcaster *web.StatusBroadcaster
	if port > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}

	// Initialize servo driver
	debug.Value("Servo driver", cfg.Hardware.Driver)
	debug.Step(1, "Initializing servo driver")
	driver, err := newDriverFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init servo driver: %w", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			log.Printf("closing servo driver failed: %v", err)
		}
	}()

	debug.Step(2, "Assembling legs")
	orch, err := newOrchestrator(cfg, driver)
	if err != nil {
		return err
	}

	debug.Step(3, "Normalizing legs")
	if err := orch.Normalize(ctx, cfg.StartupNormalize()); err != nil {
		debug.Warn("Startup normalization: %v", err)
	}
	defer func() {
		debug.Section("Shutdown")
		orch.InterruptAll()
		if err := orch.Normalize(context.Background(), cfg.StartupNormalize()); err != nil {
			log.Printf("shutdown normalization failed: %v", err)
		}
	}()

	if port > 0 {
		p := orch.Params()
		srv := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, orch, gait.CommandNames(), web.CommandDefaults{
			StepWidthMm:         p.StepWidth,
			DurationMs:          int(p.Duration / time.Millisecond),
			NormalizeDurationMs: int(p.NormalizeDuration / time.Millisecond),
			HeightStepMm:        p.HeightStep,
		})
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	}

	return runCommands(ctx, orch, commands)
}

// runCommands runs each command once, in order. An interrupt from the
// terminal stops the sequence without an error.
func runCommands(ctx context.Context, orch *gait.Orchestrator, commands []string) error {
	for _, name := range commands {
		if err := orch.Run(ctx, name, gait.Overrides{}); err != nil {
			if ctx.Err() != nil && errors.Is(err, joint.ErrInterrupted) {
				debug.Info("Interrupted during %s", name)
				return nil
			}
			return err
		}
	}
	return nil
}

// newOrchestrator builds the solver, the arc source and the four legs.
func newOrchestrator(cfg *config.Config, driver actuator.Driver) (*gait.Orchestrator, error) {
	solver, err := kinematics.NewSolver(cfg.Linkage.Linkage)
	if err != nil {
		return nil, fmt.Errorf("linkage: %w", err)
	}
	eaAlpha, eaBeta := solver.Epsilons()
	debug.Verbose("Linkage corrections: alpha %.3f, beta %.3f", eaAlpha, eaBeta)

	arcs := trajectory.NewSource(
		trajectory.Generator{HeightScale: cfg.Trajectory.HeightScale},
		cfg.Gait.Smoothness,
		loadTrajectoryCache(cfg),
	)

	signal := &joint.Signal{}
	legs := make(map[gait.LegID]gait.Leg, len(gait.AllLegs))
	for _, id := range gait.AllLegs {
		cals, err := cfg.LegCalibrations(id)
		if err != nil {
			return nil, err
		}
		leg, err := motion.NewLeg(motion.LegConfig{
			Name:            string(id),
			Thigh:           cals[0],
			LowerLeg:        cals[1],
			SideAxis:        cals[2],
			ChannelCount:    cfg.Hardware.ChannelCount,
			Driver:          driver,
			Signal:          signal,
			Solver:          solver,
			Arcs:            arcs,
			Joint:           cfg.JointOptions(),
			CoordinateScale: cfg.Linkage.CoordinateScale,
		})
		if err != nil {
			return nil, err
		}
		debug.PrintStruct("Leg "+string(id), cals)
		legs[id] = leg
	}
	return gait.NewOrchestrator(legs, signal, cfg.GaitParams())
}

// loadTrajectoryCache returns the configured cache, or nil when none is
// configured or it cannot be used. Arcs are then generated on demand.
func loadTrajectoryCache(cfg *config.Config) trajectory.Cache {
	if cfg.Trajectory.CacheFile == "" {
		return nil
	}
	fc, err := trajectory.LoadFileCache(cfg.Trajectory.CacheFile)
	if err != nil {
		debug.Warn("Trajectory cache unavailable, generating arcs on demand: %v", err)
		return nil
	}
	if fc.Meta() != cfg.TrajectoryMeta() {
		debug.Warn("Trajectory cache %s was built with %+v, config uses %+v; generating on demand",
			cfg.Trajectory.CacheFile, fc.Meta(), cfg.TrajectoryMeta())
		return nil
	}
	debug.Info("Loaded %d cached arcs from %s", fc.Len(), cfg.Trajectory.CacheFile)
	return fc
}

// newDriverFromConfig selects a servo backend based on configuration.
func newDriverFromConfig(cfg *config.Config) (actuator.Driver, error) {
	return actuator.NewDriver(cfg.DriverOptions())
}

// validateCLIOverrides checks that non-zero CLI overrides are within the
// bounds the web API accepts. Zero values are ignored (they mean "use config default").
func validateCLIOverrides(stepWidthMm float64, durationMs int) error {
	return web.ValidateOverrides(gait.Overrides{StepWidth: stepWidthMm, DurationMs: durationMs})
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, overrides gait.Overrides) {
	if overrides.StepWidth > 0 {
		cfg.Gait.StepWidthMm = overrides.StepWidth
	}
	if overrides.DurationMs > 0 {
		cfg.Gait.DurationMs = overrides.DurationMs
	}
}

// splitCommands parses the -commands flag.
func splitCommands(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
