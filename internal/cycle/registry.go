package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Counters are the per-stage progress numbers of one cycle.
type Counters struct {
	Charts          int `json:"charts"`
	Analyses        int `json:"analyses"`
	Recommendations int `json:"recommendations"`
	Trades          int `json:"trades"`
}

// Run is one trading run: a run id, its stop token, and live progress.
// The stop token is cooperative: RequestStop never interrupts in-flight
// work, it only stops new work from being dispatched.
type Run struct {
	ID        string
	NodeID    string
	StartedAt time.Time

	base    context.Context
	stopCtx context.Context
	stop    context.CancelFunc

	mu         sync.Mutex
	stopReason string
	cycleID    string
	seq        int
	stage      string
	counters   Counters
}

func NewRun(parent context.Context, id, nodeID string) *Run {
	stopCtx, cancel := context.WithCancel(parent)
	return &Run{
		ID:        id,
		NodeID:    nodeID,
		StartedAt: time.Now().UTC(),
		base:      parent,
		stopCtx:   stopCtx,
		stop:      cancel,
	}
}

// Context is the working context: it outlives a stop request so checkpoint
// persistence still succeeds, and dies only with the process.
func (r *Run) Context() context.Context { return r.base }

// StopContext is cancelled by RequestStop or process shutdown. Waits that
// sit between dispatches select on it.
func (r *Run) StopContext() context.Context { return r.stopCtx }

// RequestStop asks the run to wind down at the next checkpoint. Idempotent:
// the first call records the reason and returns true, repeats return false.
func (r *Run) RequestStop(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopReason != "" || r.stopCtx.Err() != nil {
		return false
	}
	if reason == "" {
		reason = "stop requested"
	}
	r.stopReason = reason
	r.stop()
	return true
}

// Stopped reports whether the stop token has fired.
func (r *Run) Stopped() bool { return r.stopCtx.Err() != nil }

// StopReason returns the recorded reason, or "shutdown" when the process
// context died without an explicit request.
func (r *Run) StopReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopReason != "" {
		return r.stopReason
	}
	if r.stopCtx.Err() != nil {
		return "shutdown"
	}
	return ""
}

// SetStage records the cycle and stage the run is currently in.
func (r *Run) SetStage(cycleID string, seq int, stage string) {
	r.mu.Lock()
	r.cycleID = cycleID
	r.seq = seq
	r.stage = stage
	r.mu.Unlock()
}

// SetCounters records the live progress numbers.
func (r *Run) SetCounters(c Counters) {
	r.mu.Lock()
	r.counters = c
	r.mu.Unlock()
}

// RunSnapshot is a copy of the live run state for the status API.
type RunSnapshot struct {
	RunID         string    `json:"run_id"`
	NodeID        string    `json:"node_id"`
	StartedAt     time.Time `json:"started_at"`
	CycleID       string    `json:"cycle_id,omitempty"`
	CycleSeq      int       `json:"cycle_seq,omitempty"`
	Stage         string    `json:"stage,omitempty"`
	Counters      Counters  `json:"counters"`
	StopRequested bool      `json:"stop_requested"`
	StopReason    string    `json:"stop_reason,omitempty"`
}

func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunSnapshot{
		RunID:         r.ID,
		NodeID:        r.NodeID,
		StartedAt:     r.StartedAt,
		CycleID:       r.cycleID,
		CycleSeq:      r.seq,
		Stage:         r.stage,
		Counters:      r.counters,
		StopRequested: r.stopCtx.Err() != nil,
		StopReason:    r.stopReason,
	}
}

// Registry tracks runs by id. At most one run is active at a time; the
// status API reads from here, never from process state.
type Registry struct {
	mu          sync.RWMutex
	runs        map[string]*Run
	activeID    string
	lastSummary *Summary
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// Add registers a new run. Only one run may be active.
func (reg *Registry) Add(run *Run) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.activeID != "" {
		return fmt.Errorf("run %s is already active", reg.activeID)
	}
	reg.runs[run.ID] = run
	reg.activeID = run.ID
	return nil
}

// Remove drops a run once it reaches a terminal state.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.runs, id)
	if reg.activeID == id {
		reg.activeID = ""
	}
}

// Get returns a run by id.
func (reg *Registry) Get(id string) (*Run, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	run, ok := reg.runs[id]
	return run, ok
}

// Active returns the currently active run, if any.
func (reg *Registry) Active() (*Run, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if reg.activeID == "" {
		return nil, false
	}
	run, ok := reg.runs[reg.activeID]
	return run, ok
}

// SetLastSummary stores the most recent finished cycle summary. It survives
// run removal so status can report it between runs.
func (reg *Registry) SetLastSummary(s Summary) {
	reg.mu.Lock()
	reg.lastSummary = &s
	reg.mu.Unlock()
}

// LastSummary returns the most recent finished cycle summary.
func (reg *Registry) LastSummary() (Summary, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if reg.lastSummary == nil {
		return Summary{}, false
	}
	return *reg.lastSummary, true
}
