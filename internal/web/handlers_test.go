package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cjeanneret/debbie/internal/hw/actuator"
	"github.com/cjeanneret/debbie/internal/hw/joint"
	"github.com/cjeanneret/debbie/internal/logic/gait"
	"github.com/cjeanneret/debbie/internal/logic/geometry"
	"github.com/cjeanneret/debbie/internal/logic/kinematics"
	"github.com/cjeanneret/debbie/internal/logic/motion"
	"github.com/cjeanneret/debbie/internal/logic/trajectory"
)

// ---------- ValidateOverrides ----------

func TestValidateOverrides_Valid(t *testing.T) {
	cases := []struct {
		name string
		o    gait.Overrides
	}{
		{"defaults", gait.Overrides{}},
		{"mid_range", gait.Overrides{StepWidth: 50, DurationMs: 400}},
		{"max_boundary", gait.Overrides{StepWidth: 200, DurationMs: 60000}},
		{"fractional", gait.Overrides{StepWidth: 0.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateOverrides(tc.o); err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
		})
	}
}

func TestValidateOverrides_Rejected(t *testing.T) {
	cases := []struct {
		name string
		o    gait.Overrides
	}{
		{"width_NaN", gait.Overrides{StepWidth: math.NaN()}},
		{"width_+Inf", gait.Overrides{StepWidth: math.Inf(1)}},
		{"width_-Inf", gait.Overrides{StepWidth: math.Inf(-1)}},
		{"width_negative", gait.Overrides{StepWidth: -1}},
		{"width_201", gait.Overrides{StepWidth: 201}},
		{"duration_negative", gait.Overrides{DurationMs: -5}},
		{"duration_too_long", gait.Overrides{DurationMs: 60001}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateOverrides(tc.o); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------- Handler helpers ----------

// fakeRunner records runs; block makes Run wait for ctx cancellation.
type fakeRunner struct {
	mu         sync.Mutex
	runs       []string
	overrides  []gait.Overrides
	interrupts int
	block      bool
	err        error
	started    chan string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan string, 8)}
}

func (f *fakeRunner) Run(ctx context.Context, name string, ov gait.Overrides) error {
	f.mu.Lock()
	f.runs = append(f.runs, name)
	f.overrides = append(f.overrides, ov)
	block, err := f.block, f.err
	f.mu.Unlock()
	f.started <- name
	if block {
		<-ctx.Done()
		return fmt.Errorf("%s: %w", name, joint.ErrInterrupted)
	}
	return err
}

func (f *fakeRunner) InterruptAll() {
	f.mu.Lock()
	f.interrupts++
	f.mu.Unlock()
}

func (f *fakeRunner) Status() []motion.LegStatus {
	return []motion.LegStatus{
		{Name: "front-left", Position: geometry.NewCoordinate(0, 0, -10), Thigh: 90, LowerLeg: 90, SideAxis: 88},
	}
}

func (f *fakeRunner) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.runs...)
}

func newTestHandlers(runner Runner) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(
		NewStatusBroadcaster(),
		runner,
		[]string{"lower", "normal", "step-forward"},
		CommandDefaults{StepWidthMm: 50, DurationMs: 100, NormalizeDurationMs: 300, HeightStepMm: 10},
		staticFS,
	)
}

// postCommand routes through a mux so the {name} path value is set.
func postCommand(h *Handlers, name string, body []byte) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /command/{name}", h.HandleCommand)
	req := httptest.NewRequest(http.MethodPost, "/command/"+name, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func waitStarted(t *testing.T, f *fakeRunner) string {
	t.Helper()
	select {
	case name := <-f.started:
		return name
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for command to start")
		return ""
	}
}

// ---------- HandleCommand ----------

func TestHandleCommand_ValidPost(t *testing.T) {
	f := newFakeRunner()
	h := newTestHandlers(f)
	data, _ := json.Marshal(gait.Overrides{StepWidth: 30, DurationMs: 200})

	w := postCommand(h, "step-forward", data)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "started" {
		t.Errorf("response status = %q, want \"started\"", resp["status"])
	}
	if resp["run_id"] == "" {
		t.Error("response should carry a run_id")
	}

	if got := waitStarted(t, f); got != "step-forward" {
		t.Errorf("ran %q, want step-forward", got)
	}
	h.Shutdown()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overrides[0].StepWidth != 30 || f.overrides[0].DurationMs != 200 {
		t.Errorf("overrides = %+v", f.overrides[0])
	}
}

func TestHandleCommand_EmptyBodyUsesDefaults(t *testing.T) {
	f := newFakeRunner()
	h := newTestHandlers(f)

	w := postCommand(h, "lower", nil)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	waitStarted(t, f)
	h.Shutdown()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overrides[0] != (gait.Overrides{}) {
		t.Errorf("overrides = %+v, want zero", f.overrides[0])
	}
}

func TestHandleCommand_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(newFakeRunner())
	req := httptest.NewRequest(http.MethodGet, "/command/lower", nil)
	w := httptest.NewRecorder()

	h.HandleCommand(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleCommand_UnknownCommand(t *testing.T) {
	h := newTestHandlers(newFakeRunner())
	w := postCommand(h, "backflip", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleCommand_InvalidJSON(t *testing.T) {
	h := newTestHandlers(newFakeRunner())
	w := postCommand(h, "lower", []byte("not json"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleCommand_InvalidOverrides(t *testing.T) {
	h := newTestHandlers(newFakeRunner())
	w := postCommand(h, "step-forward", []byte(`{"step_width_mm": 500}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleCommand_OversizedBody(t *testing.T) {
	h := newTestHandlers(newFakeRunner())
	big := strings.Repeat("x", 2<<20) // 2 MB
	w := postCommand(h, "lower", []byte(big))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d (oversized body)", w.Code, http.StatusBadRequest)
	}
}

func TestHandleCommand_NilRunner(t *testing.T) {
	h := newTestHandlers(nil)
	w := postCommand(h, "lower", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleCommand_NewCommandPreemptsRunning(t *testing.T) {
	f := newFakeRunner()
	f.block = true
	h := newTestHandlers(f)
	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w1 := postCommand(h, "step-forward", nil)
	if w1.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want %d", w1.Code, http.StatusAccepted)
	}
	waitStarted(t, f)

	w2 := postCommand(h, "normal", nil)
	if w2.Code != http.StatusAccepted {
		t.Fatalf("second request: status = %d, want %d", w2.Code, http.StatusAccepted)
	}
	if got := waitStarted(t, f); got != "normal" {
		t.Errorf("second run = %q, want normal", got)
	}
	h.Shutdown()

	if got := f.recorded(); len(got) != 2 {
		t.Errorf("runs = %v, want two", got)
	}

	// The first run reports its interruption on the status stream.
	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-ch:
			var evt StatusEvent
			if err := json.Unmarshal([]byte(msg), &evt); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if evt.Msg == "step-forward interrupted" {
				return
			}
		case <-deadline:
			t.Fatal("no interruption event for the preempted run")
		}
	}
}

// newRobot wires a real orchestrator with four legs on a mock driver.
func newRobot(t *testing.T) (*gait.Orchestrator, *joint.Signal) {
	t.Helper()
	solver, err := kinematics.NewSolver(kinematics.DefaultLinkage())
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}
	drv := actuator.NewMockDriver(16)
	sig := &joint.Signal{}
	arcs := trajectory.NewSource(trajectory.Generator{}, -0.5, nil)
	legs := make(map[gait.LegID]gait.Leg)
	for i, id := range gait.AllLegs {
		cal := func(offset int) joint.Calibration {
			return joint.Calibration{Channel: i*4 + offset, MinAngle: 10, MaxAngle: 170}
		}
		leg, err := motion.NewLeg(motion.LegConfig{
			Name:         string(id),
			Thigh:        cal(0),
			LowerLeg:     cal(1),
			SideAxis:     cal(2),
			ChannelCount: 16,
			Driver:       drv,
			Signal:       sig,
			Solver:       solver,
			Arcs:         arcs,
		})
		if err != nil {
			t.Fatalf("NewLeg %s: %v", id, err)
		}
		legs[id] = leg
	}
	orch, err := gait.NewOrchestrator(legs, sig, gait.DefaultParams())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return orch, sig
}

// waitRunEvent returns the first event for run whose message starts with
// one of the prefixes.
func waitRunEvent(t *testing.T, ch <-chan string, run string, prefixes ...string) StatusEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-ch:
			var evt StatusEvent
			if err := json.Unmarshal([]byte(msg), &evt); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if evt.Run != run {
				continue
			}
			for _, p := range prefixes {
				if strings.HasPrefix(evt.Msg, p) {
					return evt
				}
			}
		case <-deadline:
			t.Fatalf("no event %v for run %s", prefixes, run)
			return StatusEvent{}
		}
	}
}

func TestHandleCommand_PreemptedStepLetsNextCommandMove(t *testing.T) {
	orch, sig := newRobot(t)
	h := newTestHandlers(orch)
	defer h.Shutdown()
	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	runID := func(w *httptest.ResponseRecorder) string {
		t.Helper()
		if w.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body.String())
		}
		var resp map[string]string
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp["run_id"]
	}

	for i := 0; i < 3; i++ {
		first := runID(postCommand(h, "step-forward", []byte(`{"duration_ms":2000}`)))
		waitRunEvent(t, ch, first, "Started")
		time.Sleep(30 * time.Millisecond)

		second := runID(postCommand(h, "lower", []byte(`{"duration_ms":40}`)))
		if evt := waitRunEvent(t, ch, second, "lower complete", "lower interrupted", "lower failed"); !strings.HasPrefix(evt.Msg, "lower complete") {
			t.Fatalf("round %d: second command did not run: %q", i, evt.Msg)
		}
		if sig.Raised() {
			t.Fatalf("round %d: interrupt signal left raised", i)
		}
	}

	// Each lower moved every foot one height step down from where it was.
	for id, p := range orch.Positions() {
		if p.Z <= 0 {
			t.Errorf("leg %s z = %v, want lowered", id, p.Z)
		}
	}
}

// ---------- HandleInterrupt ----------

func TestHandleInterrupt(t *testing.T) {
	f := newFakeRunner()
	f.block = true
	h := newTestHandlers(f)

	postCommand(h, "step-forward", nil)
	waitStarted(t, f)

	req := httptest.NewRequest(http.MethodPost, "/interrupt", nil)
	w := httptest.NewRecorder()
	h.HandleInterrupt(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["run_id"] == "" {
		t.Error("interrupt should report the stopped run")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.interrupts != 1 {
		t.Errorf("InterruptAll called %d times, want 1", f.interrupts)
	}
}

// ---------- HandleConfig / HandleCommands / HandleLegs ----------

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(newFakeRunner())
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()

	h.HandleConfig(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var cd CommandDefaults
	if err := json.NewDecoder(w.Body).Decode(&cd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cd.StepWidthMm != 50 {
		t.Errorf("StepWidthMm = %v, want 50", cd.StepWidthMm)
	}
	if cd.NormalizeDurationMs != 300 {
		t.Errorf("NormalizeDurationMs = %v, want 300", cd.NormalizeDurationMs)
	}
}

func TestHandleCommands(t *testing.T) {
	h := newTestHandlers(newFakeRunner())
	req := httptest.NewRequest(http.MethodGet, "/commands", nil)
	w := httptest.NewRecorder()

	h.HandleCommands(w, req)

	var names []string
	if err := json.NewDecoder(w.Body).Decode(&names); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(names, ",") != "lower,normal,step-forward" {
		t.Errorf("commands = %v", names)
	}
}

func TestHandleLegs(t *testing.T) {
	h := newTestHandlers(newFakeRunner())
	req := httptest.NewRequest(http.MethodGet, "/legs", nil)
	w := httptest.NewRecorder()

	h.HandleLegs(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var legs []motion.LegStatus
	if err := json.NewDecoder(w.Body).Decode(&legs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(legs) != 1 || legs[0].Name != "front-left" || legs[0].Position.Z != -10 {
		t.Errorf("legs = %+v", legs)
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(newFakeRunner())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}
