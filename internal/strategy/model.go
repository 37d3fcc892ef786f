package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cyclebot/internal/indicators"
	"cyclebot/internal/market"
	"cyclebot/internal/signal"
)

// ModelParams configures a remote analysis source.
type ModelParams struct {
	Endpoint      string  `yaml:"endpoint" json:"endpoint"`
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
}

func (p ModelParams) validate() error {
	if p.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(p.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("endpoint %q is not a valid URL", p.Endpoint)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("min_confidence %v out of [0,1]", p.MinConfidence)
	}
	return nil
}

// ModelSource sends the candle window to an external model over HTTP and
// maps its JSON verdict into a signal. Failures are per-symbol
// recoverable; the caller logs and skips.
type ModelSource struct {
	name   string
	params ModelParams
	client *http.Client
}

func NewModelSource(name string, p ModelParams) (*ModelSource, error) {
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	return &ModelSource{
		name:   name,
		params: p,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (s *ModelSource) Name() string { return s.name }

type modelRequest struct {
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Bars      []market.Bar `json:"bars"`
}

type modelResponse struct {
	Direction  string   `json:"direction"`
	Confidence float64  `json:"confidence"`
	EntryPrice float64  `json:"entry_price"`
	StopLoss   float64  `json:"stop_loss"`
	TakeProfit float64  `json:"take_profit"`
	SetupScore *float64 `json:"setup_score"`
	EnvScore   *float64 `json:"env_score"`
	Reason     string   `json:"reason"`
}

func (s *ModelSource) Analyze(ctx context.Context, w market.Window) (*signal.Signal, error) {
	body, err := json.Marshal(modelRequest{Symbol: w.Symbol, Timeframe: w.Timeframe, Bars: w.Bars})
	if err != nil {
		return nil, fmt.Errorf("%s %s: encode request: %w", s.name, w.Symbol, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.params.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s %s: build request: %w", s.name, w.Symbol, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: call model: %w", s.name, w.Symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%s %s: model returned %d: %s", s.name, w.Symbol, resp.StatusCode, snippet)
	}

	var mr modelResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("%s %s: decode model response: %w", s.name, w.Symbol, err)
	}
	return s.toSignal(w, mr)
}

// toSignal normalizes the model verdict and fills in any component scores
// the model did not provide.
func (s *ModelSource) toSignal(w market.Window, mr modelResponse) (*signal.Signal, error) {
	dir := signal.Direction(strings.ToUpper(strings.TrimSpace(mr.Direction)))
	switch dir {
	case signal.Long, signal.Short, signal.Hold:
	default:
		return nil, fmt.Errorf("%s %s: model returned unknown direction %q", s.name, w.Symbol, mr.Direction)
	}
	if mr.Confidence < 0 || mr.Confidence > 1 {
		return nil, fmt.Errorf("%s %s: model confidence %v out of [0,1]", s.name, w.Symbol, mr.Confidence)
	}

	sig := &signal.Signal{
		Source:     s.name,
		Symbol:     w.Symbol,
		Timeframe:  w.Timeframe,
		Direction:  dir,
		Confidence: mr.Confidence,
		CreatedAt:  time.Now().UTC(),
	}
	if raw, err := json.Marshal(mr); err == nil {
		sig.Snapshot = raw
	}

	// A weak verdict is downgraded rather than dropped, so it still lands
	// in the audit trail.
	if dir != signal.Hold && mr.Confidence < s.params.MinConfidence {
		sig.Direction = signal.Hold
		return sig, nil
	}
	if sig.Direction == signal.Hold {
		return sig, nil
	}

	sig.EntryPrice = mr.EntryPrice
	sig.StopLoss = mr.StopLoss
	sig.TakeProfit = mr.TakeProfit
	sig.RRScore = signal.ScoreRR(dir, mr.EntryPrice, mr.StopLoss, mr.TakeProfit, signal.DefaultRRCap)
	if mr.SetupScore != nil {
		sig.SetupScore = clamp01(*mr.SetupScore)
	} else {
		sig.SetupScore = mr.Confidence
	}
	if mr.EnvScore != nil {
		sig.EnvScore = clamp01(*mr.EnvScore)
	} else {
		sig.EnvScore = measuredEnv(w)
	}

	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("model verdict rejected: %w", err)
	}
	return sig, nil
}

// measuredEnv derives an environment score from the window itself when the
// model does not report one.
func measuredEnv(w market.Window) float64 {
	closes := w.Closes()
	atr := indicators.ATR(w.Highs(), w.Lows(), closes, 14)
	if atr <= 0 || len(closes) == 0 {
		return 0.5
	}
	last := closes[len(closes)-1]
	if last <= 0 {
		return 0.5
	}
	return volRegime(atr / last)
}
