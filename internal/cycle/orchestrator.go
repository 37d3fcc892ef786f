package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"cyclebot/internal/events"
	"cyclebot/internal/market"
	"cyclebot/internal/metrics"
	"cyclebot/internal/order"
	"cyclebot/internal/risk"
	"cyclebot/internal/signal"
	"cyclebot/internal/strategy"
	"cyclebot/pkg/db"
)

// Terminal and in-flight cycle statuses as persisted in the cycles table.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Stage names in execution order, as reported by the status API.
const (
	StageCapture = "capture"
	StageAnalyze = "analyze"
	StageCollect = "collect"
	StageRank    = "rank"
	StageSlots   = "slots"
	StageExecute = "execute"
	StageHandoff = "handoff"
)

// Started is the cycle_started event payload.
type Started struct {
	CycleID   string    `json:"cycle_id"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	StartedAt time.Time `json:"started_at"`
}

// Summary is the cycle_finished event payload and the "last cycle" record
// kept by the registry.
type Summary struct {
	CycleID    string   `json:"cycle_id"`
	RunID      string   `json:"run_id"`
	Seq        int      `json:"seq"`
	Status     string   `json:"status"`
	Counters   Counters `json:"counters"`
	Error      string   `json:"error,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// Config holds the per-cycle knobs.
type Config struct {
	Symbols         []string
	Timeframe       string
	WindowBars      int
	Workers         int
	AnalysisTimeout time.Duration
	AnalysisRate    rate.Limit
	Weights         signal.Weights
}

func (c *Config) applyDefaults() {
	if c.Timeframe == "" {
		c.Timeframe = "1h"
	}
	if c.WindowBars <= 0 {
		c.WindowBars = 120
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = 60 * time.Second
	}
	if c.AnalysisRate <= 0 {
		c.AnalysisRate = rate.Inf
	}
	if c.Weights == (signal.Weights{}) {
		c.Weights = signal.DefaultWeights()
	}
}

// Orchestrator drives one cycle at a time through the fixed stage order:
// capture, analyze, collect, rank, slots, execute, handoff. It owns no
// goroutines between cycles; the scheduler calls RunCycle sequentially.
type Orchestrator struct {
	DB       *db.Database
	Bus      *events.Bus
	Registry *Registry
	Windows  market.WindowSource
	Sources  []strategy.SignalSource
	Slots    *risk.SlotAllocator
	Executor *order.Executor
	Metrics  *metrics.Recorder
	Cfg      Config
	Log      zerolog.Logger

	limiter *rate.Limiter
}

// init applies defaults lazily so zero-value construction in tests works.
// RunCycle is never called concurrently, so this needs no locking.
func (o *Orchestrator) init() {
	o.Cfg.applyDefaults()
	if o.limiter == nil {
		o.limiter = rate.NewLimiter(o.Cfg.AnalysisRate, o.Cfg.Workers)
	}
}

// RunCycle executes cycle seq for run. The stop token is honored at stage
// boundaries and before each capture and each analysis dispatch; a stopped
// cycle persists whatever counters it reached and finishes cancelled, which
// is not an error. Stage failures finish the cycle failed and are likewise
// absorbed. The error return is reserved for the cycle row itself being
// unwritable, in which case nothing was recorded.
func (o *Orchestrator) RunCycle(ctx context.Context, run *Run, seq int) error {
	o.init()

	cycleID := uuid.NewString()
	startedAt := time.Now().UTC()
	log := o.Log.With().
		Str("run_id", run.ID).
		Str("cycle_id", cycleID).
		Int("seq", seq).
		Logger()

	if err := o.DB.CreateCycle(ctx, db.Cycle{
		ID:        cycleID,
		RunID:     run.ID,
		NodeID:    run.NodeID,
		Seq:       seq,
		Status:    StatusRunning,
		StartedAt: startedAt,
	}); err != nil {
		return fmt.Errorf("create cycle %d: %w", seq, err)
	}
	run.SetStage(cycleID, seq, StageCapture)
	o.Bus.Publish(events.TopicCycleStarted, Started{
		CycleID:   cycleID,
		RunID:     run.ID,
		Seq:       seq,
		StartedAt: startedAt,
	})
	log.Info().Int("symbols", len(o.Cfg.Symbols)).Msg("cycle started")

	var c Counters

	// finish settles the cycle row, the registry and the bus exactly once
	// per cycle, for every terminal status.
	finish := func(status, errMsg string) error {
		now := time.Now().UTC()
		if err := o.DB.UpdateCycleProgress(ctx, cycleID, c.Charts, c.Analyses, c.Recommendations, c.Trades); err != nil {
			log.Error().Err(err).Msg("persist cycle counters")
		}
		if err := o.DB.FinishCycle(ctx, cycleID, status, errMsg, now); err != nil {
			log.Error().Err(err).Msg("persist cycle status")
		}
		run.SetCounters(c)
		sum := Summary{
			CycleID:    cycleID,
			RunID:      run.ID,
			Seq:        seq,
			Status:     status,
			Counters:   c,
			Error:      errMsg,
			DurationMS: now.Sub(startedAt).Milliseconds(),
		}
		if o.Registry != nil {
			o.Registry.SetLastSummary(sum)
		}
		o.Metrics.CycleFinished(status, now.Sub(startedAt).Seconds())
		o.Bus.Publish(events.TopicCycleFinished, sum)
		log.Info().
			Str("status", status).
			Int("charts", c.Charts).
			Int("analyses", c.Analyses).
			Int("recommendations", c.Recommendations).
			Int("trades", c.Trades).
			Msg("cycle finished")
		return nil
	}
	fail := func(stage string, err error) error {
		log.Error().Err(err).Str("stage", stage).Msg("cycle failed")
		return finish(StatusFailed, err.Error())
	}
	cancelled := func() error {
		log.Info().Str("reason", run.StopReason()).Msg("cycle stopping")
		return finish(StatusCancelled, run.StopReason())
	}
	progress := func() {
		run.SetCounters(c)
		if err := o.DB.UpdateCycleProgress(ctx, cycleID, c.Charts, c.Analyses, c.Recommendations, c.Trades); err != nil {
			log.Error().Err(err).Msg("persist cycle counters")
		}
	}

	// Capture. Per-symbol failures skip the symbol; a cycle that captures
	// nothing while symbols are configured has nothing to work with.
	windows := make([]market.Window, 0, len(o.Cfg.Symbols))
	for _, sym := range o.Cfg.Symbols {
		if run.Stopped() {
			return cancelled()
		}
		w, err := o.Windows.Window(ctx, sym, o.Cfg.Timeframe, o.Cfg.WindowBars)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("capture failed, symbol skipped")
			continue
		}
		windows = append(windows, w)
		c.Charts++
	}
	progress()
	if len(o.Cfg.Symbols) > 0 && len(windows) == 0 {
		return fail(StageCapture, fmt.Errorf("no candle windows captured"))
	}

	run.SetStage(cycleID, seq, StageAnalyze)
	if run.Stopped() {
		return cancelled()
	}
	produced, analyzed, stopped := o.analyze(ctx, run, windows, log)
	c.Analyses = analyzed
	progress()
	if stopped {
		return cancelled()
	}

	run.SetStage(cycleID, seq, StageCollect)
	collected, err := o.collect(ctx, cycleID, produced, &c, log)
	if err != nil {
		return fail(StageCollect, err)
	}
	progress()
	if run.Stopped() {
		return cancelled()
	}

	run.SetStage(cycleID, seq, StageRank)
	ranked := signal.Rank(collected, o.Cfg.Weights)
	log.Debug().Int("candidates", len(ranked)).Msg("signals ranked")

	run.SetStage(cycleID, seq, StageSlots)
	slots, err := o.Slots.Free(ctx)
	if err != nil {
		return fail(StageSlots, err)
	}
	if run.Stopped() {
		return cancelled()
	}

	run.SetStage(cycleID, seq, StageExecute)
	switch {
	case len(ranked) == 0:
		log.Debug().Msg("no executable signals")
	case slots == 0:
		log.Info().Msg("no free slots, selection skipped")
	default:
		created, execErr := o.Executor.ExecuteRanked(run.StopContext(), ranked, slots, order.Batch{
			RunID:   run.ID,
			NodeID:  run.NodeID,
			CycleID: cycleID,
		})
		c.Trades = created
		progress()
		if execErr != nil && !run.Stopped() {
			return fail(StageExecute, execErr)
		}
	}

	// Handoff. Created trades are already visible to the monitor through
	// the store and the bus; nothing to transfer beyond settling status.
	run.SetStage(cycleID, seq, StageHandoff)
	if run.Stopped() {
		return cancelled()
	}
	return finish(StatusCompleted, "")
}

// analyze fans the captured windows out to every source on a bounded worker
// pool. Dispatch stops at the stop token; analyses already dispatched run to
// completion on a context detached from it, bounded only by the per-task
// timeout. Returns the produced signals, the number of successful analyses
// and whether dispatch was cut short.
func (o *Orchestrator) analyze(ctx context.Context, run *Run, windows []market.Window, log zerolog.Logger) ([]signal.Signal, int, bool) {
	var (
		mu       sync.Mutex
		produced []signal.Signal
		done     int
	)
	pool := make(chan struct{}, o.Cfg.Workers)
	var wg sync.WaitGroup
	stopped := false

dispatch:
	for _, w := range windows {
		for _, src := range o.Sources {
			// Take the pool slot before consulting the stop token, so a
			// stop raised mid-stage halts dispatch at the next free slot
			// instead of queueing more work behind it.
			pool <- struct{}{}
			if run.Stopped() {
				<-pool
				stopped = true
				break dispatch
			}
			if err := o.limiter.Wait(run.StopContext()); err != nil {
				<-pool
				stopped = true
				break dispatch
			}
			wg.Add(1)
			go func(w market.Window, src strategy.SignalSource) {
				defer wg.Done()
				defer func() { <-pool }()

				taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.Cfg.AnalysisTimeout)
				defer cancel()

				sig, err := src.Analyze(taskCtx, w)
				if err == nil && sig == nil {
					err = fmt.Errorf("source %s returned no signal", src.Name())
				}
				if err == nil {
					err = sig.Validate()
				}
				if err != nil {
					o.Metrics.AnalysisError()
					log.Warn().Err(err).
						Str("symbol", w.Symbol).
						Str("source", src.Name()).
						Msg("analysis failed, symbol skipped")
					return
				}
				mu.Lock()
				produced = append(produced, *sig)
				done++
				mu.Unlock()
			}(w, src)
		}
	}
	wg.Wait()
	return produced, done, stopped
}

// collect assigns IDs and persists every produced signal, HOLD included, so
// the cycle's full record survives. Actionable signals get their quality
// scored here and count as recommendations.
func (o *Orchestrator) collect(ctx context.Context, cycleID string, produced []signal.Signal, c *Counters, log zerolog.Logger) ([]signal.Signal, error) {
	out := make([]signal.Signal, 0, len(produced))
	for _, s := range produced {
		s.ID = uuid.NewString()
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now().UTC()
		}
		row := db.Signal{
			ID:         s.ID,
			CycleID:    cycleID,
			Source:     s.Source,
			Symbol:     s.Symbol,
			Timeframe:  s.Timeframe,
			Direction:  string(s.Direction),
			Confidence: s.Confidence,
			SetupScore: s.SetupScore,
			RRScore:    s.RRScore,
			EnvScore:   s.EnvScore,
			Snapshot:   string(s.Snapshot),
			CreatedAt:  s.CreatedAt,
		}
		if s.Actionable() {
			entry, stop, target := s.EntryPrice, s.StopLoss, s.TakeProfit
			row.EntryPrice, row.StopLoss, row.TakeProfit = &entry, &stop, &target
			row.Quality = o.Cfg.Weights.Quality(s)
			c.Recommendations++
		}
		if err := o.DB.CreateSignal(ctx, row); err != nil {
			return nil, fmt.Errorf("persist signal %s/%s: %w", s.Source, s.Symbol, err)
		}
		o.Metrics.SignalProduced(string(s.Direction))
		o.Bus.Publish(events.TopicSignal, s)
		out = append(out, s)
	}
	if len(out) > 0 {
		log.Info().Int("signals", len(out)).Int("actionable", c.Recommendations).Msg("signals collected")
	}
	return out, nil
}
