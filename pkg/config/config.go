package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the bot node.
type Config struct {
	Port      string
	DBPath    string
	JWTSecret string

	LogLevel  string
	LogFormat string // console or json

	// Universe and cadence
	Symbols       []string
	Timeframe     string
	CycleInterval time.Duration
	CandleLimit   int
	Autostart     bool

	// Analysis stage
	AnalysisWorkers int
	AnalysisTimeout time.Duration
	AnalysisRate    float64 // dispatches per second across all workers
	StrategyConfig  string
	ModelEndpoint   string

	// Admission and sizing
	MaxConcurrentTrades int
	SlotScope           string // "global" or "node"
	AccountSizeUSD      float64
	RiskPerTrade        float64 // fraction of account risked per trade
	MinNotionalUSD      float64
	Sizer               string // "fixed" or "confidence"

	// Ranking weights: setup, risk/reward, environment.
	RankWeights [3]float64

	// Simulation
	SimMaxBars      map[string]int // timeframe -> bar limit
	UseMockFeed     bool
	BinanceTestnet  bool
	PaperLatencyMs  int
	PaperRejectRate float64

	// Identity of this node, stable across restarts.
	NodeID string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	weights, err := parseWeights(getEnv("RANK_WEIGHTS", "0.40,0.25,0.35"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:      getEnv("PORT", "8099"),
		DBPath:    getEnv("DB_PATH", "./data/cyclebot.db"),
		JWTSecret: getEnv("JWT_SECRET", "dev-secret"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "console")),

		Symbols:       splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT,SOLUSDT")),
		Timeframe:     getEnv("TIMEFRAME", "1h"),
		CycleInterval: getEnvDuration("CYCLE_INTERVAL", 5*time.Minute),
		CandleLimit:   getEnvInt("CANDLE_LIMIT", 120),
		Autostart:     getEnv("AUTOSTART", "true") == "true",

		AnalysisWorkers: getEnvInt("ANALYSIS_WORKERS", 4),
		AnalysisTimeout: getEnvDuration("ANALYSIS_TIMEOUT", 60*time.Second),
		AnalysisRate:    getEnvFloat("ANALYSIS_RATE", 2),
		StrategyConfig:  getEnv("STRATEGY_CONFIG", "strategies.yaml"),
		ModelEndpoint:   getEnv("MODEL_ENDPOINT", ""),

		MaxConcurrentTrades: getEnvInt("MAX_CONCURRENT_TRADES", 3),
		SlotScope:           strings.ToLower(getEnv("SLOT_SCOPE", "global")),
		AccountSizeUSD:      getEnvFloat("ACCOUNT_SIZE_USD", 10000),
		RiskPerTrade:        getEnvFloat("RISK_PER_TRADE", 0.01),
		MinNotionalUSD:      getEnvFloat("MIN_NOTIONAL_USD", 10),
		Sizer:               strings.ToLower(getEnv("SIZER", "fixed")),

		RankWeights: weights,

		SimMaxBars:      parseBarLimits(getEnv("SIM_MAX_BARS", "15m:96,1h:48,4h:42")),
		UseMockFeed:     getEnv("MOCK_FEED", "true") == "true",
		BinanceTestnet:  getEnv("BINANCE_TESTNET", "false") == "true",
		PaperLatencyMs:  getEnvInt("PAPER_LATENCY_MS", 0),
		PaperRejectRate: getEnvFloat("PAPER_REJECT_RATE", 0),

		NodeID: nodeID(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AnalysisWorkers < 1 {
		return fmt.Errorf("config: ANALYSIS_WORKERS must be >= 1, got %d", c.AnalysisWorkers)
	}
	if c.MaxConcurrentTrades < 0 {
		return fmt.Errorf("config: MAX_CONCURRENT_TRADES must be >= 0, got %d", c.MaxConcurrentTrades)
	}
	if c.SlotScope != "global" && c.SlotScope != "node" {
		return fmt.Errorf("config: SLOT_SCOPE must be global or node, got %q", c.SlotScope)
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade >= 1 {
		return fmt.Errorf("config: RISK_PER_TRADE must be in (0,1), got %v", c.RiskPerTrade)
	}
	if c.Sizer != "fixed" && c.Sizer != "confidence" {
		return fmt.Errorf("config: SIZER must be fixed or confidence, got %q", c.Sizer)
	}
	if c.PaperRejectRate < 0 || c.PaperRejectRate > 1 {
		return fmt.Errorf("config: PAPER_REJECT_RATE must be in [0,1], got %v", c.PaperRejectRate)
	}
	return nil
}

// nodeID derives a stable identifier for this machine; run ids and the
// node slot scope hang off it.
func nodeID() string {
	if id, err := machineid.ProtectedID("cyclebot"); err == nil && len(id) >= 12 {
		return id[:12]
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "node-unknown"
	}
	return host
}

func parseWeights(val string) ([3]float64, error) {
	var w [3]float64
	parts := splitAndTrim(val)
	if len(parts) != 3 {
		return w, fmt.Errorf("config: RANK_WEIGHTS needs 3 values, got %d", len(parts))
	}
	sum := 0.0
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil || f < 0 {
			return w, fmt.Errorf("config: RANK_WEIGHTS value %q invalid", p)
		}
		w[i] = f
		sum += f
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return w, fmt.Errorf("config: RANK_WEIGHTS must sum to 1.0, got %v", sum)
	}
	return w, nil
}

// parseBarLimits parses "15m:96,1h:48" into a timeframe -> bars map.
// Malformed entries are skipped.
func parseBarLimits(val string) map[string]int {
	out := make(map[string]int)
	for _, part := range splitAndTrim(val) {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil || n <= 0 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = n
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
