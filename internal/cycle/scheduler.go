package cycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Default scheduler cadence.
const (
	DefaultInterval = 5 * time.Minute
	DefaultSettle   = 5 * time.Second
)

// Scheduler owns the run loop: one goroutine executing cycles strictly
// sequentially, aligned to interval boundaries. Overlapping cycles cannot
// happen because there is only this goroutine.
type Scheduler struct {
	Orch     *Orchestrator
	Registry *Registry
	NodeID   string
	Interval time.Duration
	Settle   time.Duration
	Log      zerolog.Logger
}

// Start registers a new run and launches its loop. Only one run may be
// active at a time; a second Start fails until the first run finishes.
func (s *Scheduler) Start(parent context.Context) (*Run, error) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	settle := s.Settle
	if settle < 0 {
		settle = DefaultSettle
	}

	run := NewRun(parent, newRunID(s.NodeID), s.NodeID)
	if err := s.Registry.Add(run); err != nil {
		run.RequestStop("not started")
		return nil, err
	}
	go s.loop(run, interval, settle)
	return run, nil
}

func (s *Scheduler) loop(run *Run, interval, settle time.Duration) {
	log := s.Log.With().Str("run_id", run.ID).Logger()
	log.Info().Dur("interval", interval).Msg("run started")
	defer func() {
		s.Registry.Remove(run.ID)
		log.Info().Str("reason", run.StopReason()).Msg("run finished")
	}()

	for seq := 1; ; seq++ {
		if !s.waitForBoundary(run, interval, settle) {
			return
		}
		if err := s.Orch.RunCycle(run.Context(), run, seq); err != nil {
			// The cycle row never materialized; the run itself goes on.
			log.Error().Err(err).Int("seq", seq).Msg("cycle aborted")
		}
		if run.Stopped() {
			return
		}
	}
}

// waitForBoundary sleeps until the next aligned boundary. Returns false when
// the stop token fires first.
func (s *Scheduler) waitForBoundary(run *Run, interval, settle time.Duration) bool {
	target := nextBoundary(time.Now(), interval, settle)
	timer := time.NewTimer(time.Until(target))
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-run.StopContext().Done():
		return false
	}
}

// nextBoundary is the next interval boundary after now, pushed out by the
// settle delay so upstream candles for the closed interval are final.
func nextBoundary(now time.Time, interval, settle time.Duration) time.Time {
	target := now.Truncate(interval).Add(interval).Add(settle)
	if !target.After(now) {
		target = target.Add(interval)
	}
	return target
}

// newRunID prefixes a fresh uuid with the node id so operators can tell at a
// glance which node owns a run.
func newRunID(nodeID string) string {
	prefix := nodeID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	if prefix == "" {
		prefix = "node"
	}
	return prefix + "-" + uuid.NewString()
}
