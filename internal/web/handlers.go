package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/debbie/internal/hw/joint"
	"github.com/cjeanneret/debbie/internal/logic/gait"
	"github.com/cjeanneret/debbie/internal/logic/motion"
)

// maxBodyBytes caps a command request body.
const maxBodyBytes = 1 << 20

// Override bounds accepted from remote clients.
const (
	maxStepWidthMm = 200
	maxDurationMs  = 60_000
)

// Runner executes named robot commands.
type Runner interface {
	Run(ctx context.Context, name string, ov gait.Overrides) error
	InterruptAll()
	Status() []motion.LegStatus
}

// CommandDefaults holds the values a command uses without overrides (from config).
type CommandDefaults struct {
	StepWidthMm         float64 `json:"step_width_mm"`
	DurationMs          int     `json:"duration_ms"`
	NormalizeDurationMs int     `json:"normalize_duration_ms"`
	HeightStepMm        float64 `json:"height_step_mm"`
}

// activeRun is the command currently executing.
type activeRun struct {
	id      string
	name    string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Runner      Runner
	Defaults    CommandDefaults
	commands    map[string]bool
	names       []string
	staticFS    fs.FS

	// startMu serialises preempt-and-start so two requests cannot both
	// replace the same run.
	startMu sync.Mutex
	mu      sync.Mutex
	current *activeRun
}

// NewHandlers creates handlers with the given dependencies.
// If runner is nil, command endpoints return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, runner Runner, commands []string, defaults CommandDefaults, staticFS fs.FS) *Handlers {
	known := make(map[string]bool, len(commands))
	for _, c := range commands {
		known[c] = true
	}
	return &Handlers{
		Broadcaster: broadcaster,
		Runner:      runner,
		Defaults:    defaults,
		commands:    known,
		names:       commands,
		staticFS:    staticFS,
	}
}

// ValidateOverrides checks that override values are finite and within the
// bounds a remote client may request. Zero means "use the default".
func ValidateOverrides(ov gait.Overrides) error {
	if math.IsNaN(ov.StepWidth) || math.IsInf(ov.StepWidth, 0) {
		return fmt.Errorf("step_width_mm must be a finite number")
	}
	if ov.StepWidth < 0 || ov.StepWidth > maxStepWidthMm {
		return fmt.Errorf("step_width_mm must be between 0 and %d, got %g", maxStepWidthMm, ov.StepWidth)
	}
	if ov.DurationMs < 0 || ov.DurationMs > maxDurationMs {
		return fmt.Errorf("duration_ms must be between 0 and %d, got %d", maxDurationMs, ov.DurationMs)
	}
	return nil
}

// HandleConfig returns the command defaults (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Defaults)
}

// HandleCommands lists the accepted command names.
func (h *Handlers) HandleCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.names)
}

// HandleLegs returns a status snapshot of every leg.
func (h *Handlers) HandleLegs(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		http.Error(w, "robot not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Runner.Status())
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCommand handles POST /command/{name}. A running command is
// preempted: its legs are interrupted and joined before the new one starts.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.PathValue("name")
	if !h.commands[name] {
		http.Error(w, fmt.Sprintf("unknown command %q", name), http.StatusNotFound)
		return
	}

	var ov gait.Overrides
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&ov); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateOverrides(ov); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Runner == nil {
		http.Error(w, "robot not configured", http.StatusServiceUnavailable)
		return
	}

	run := h.start(name, ov)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"command": name,
		"run_id":  run.id,
	})
}

// HandleInterrupt handles POST /interrupt: stops the running command and
// every leg.
func (h *Handlers) HandleInterrupt(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		http.Error(w, "robot not configured", http.StatusServiceUnavailable)
		return
	}
	h.startMu.Lock()
	prev := h.preempt()
	h.startMu.Unlock()
	h.Runner.InterruptAll()

	resp := map[string]string{"status": "interrupted"}
	if prev != nil {
		resp["run_id"] = prev.id
	}
	writeJSON(w, http.StatusOK, resp)
}

// preempt cancels the current run and waits for it to return. The caller
// holds startMu.
func (h *Handlers) preempt() *activeRun {
	h.mu.Lock()
	prev := h.current
	h.current = nil
	h.mu.Unlock()
	if prev == nil {
		return nil
	}
	prev.cancel()
	<-prev.done
	return prev
}

func (h *Handlers) start(name string, ov gait.Overrides) *activeRun {
	h.startMu.Lock()
	defer h.startMu.Unlock()

	if prev := h.preempt(); prev != nil {
		h.Broadcaster.BroadcastRun(prev.id, "warn", fmt.Sprintf("%s preempted by %s", prev.name, name))
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &activeRun{
		id:      uuid.NewString(),
		name:    name,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	h.mu.Lock()
	h.current = run
	h.mu.Unlock()

	go func() {
		defer close(run.done)
		defer cancel()
		defer func() {
			h.mu.Lock()
			if h.current == run {
				h.current = nil
			}
			h.mu.Unlock()
		}()

		h.Broadcaster.BroadcastRun(run.id, "info", "Started "+name)
		err := h.Runner.Run(ctx, name, ov)
		switch {
		case err == nil:
			h.Broadcaster.BroadcastRun(run.id, "info", fmt.Sprintf("%s complete in %v", name, time.Since(run.started).Round(time.Millisecond)))
		case errors.Is(err, joint.ErrInterrupted) || errors.Is(err, context.Canceled):
			h.Broadcaster.BroadcastRun(run.id, "warn", name+" interrupted")
		default:
			h.Broadcaster.BroadcastRun(run.id, "error", name+" failed: "+err.Error())
			log.Printf("command %s failed: %v", name, err)
		}
	}()
	return run
}

// Shutdown cancels the running command and waits for it.
func (h *Handlers) Shutdown() {
	h.startMu.Lock()
	defer h.startMu.Unlock()
	h.preempt()
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
