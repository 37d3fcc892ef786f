package strategy

import (
	"context"
	"strings"
	"testing"

	"cyclebot/pkg/db"
)

const sampleConfig = `
strategies:
  - name: trend-follow
    type: trend
    enabled: true
    params:
      fast: 5
      slow: 30
  - name: remote-model
    type: model
    enabled: false
    params:
      endpoint: http://127.0.0.1:8500/analyze
      min_confidence: 0.55
`

func TestConfigParse(t *testing.T) {
	defs, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, expected 2", len(defs))
	}

	trend := defs[0]
	if trend.Name != "trend-follow" || trend.Type != TypeTrend || !trend.Enabled {
		t.Fatalf("unexpected trend definition: %+v", trend)
	}
	if trend.Trend == nil {
		t.Fatalf("trend params not decoded")
	}
	if trend.Trend.Fast != 5 || trend.Trend.Slow != 30 {
		t.Fatalf("fast/slow=%d/%d, expected 5/30", trend.Trend.Fast, trend.Trend.Slow)
	}
	// omitted fields keep their defaults
	if trend.Trend.RSIPeriod != 14 || trend.Trend.ATRPeriod != 14 {
		t.Fatalf("rsi/atr=%d/%d, expected defaults 14/14", trend.Trend.RSIPeriod, trend.Trend.ATRPeriod)
	}

	model := defs[1]
	if model.Type != TypeModel || model.Enabled {
		t.Fatalf("unexpected model definition: %+v", model)
	}
	if model.Model == nil || model.Model.Endpoint != "http://127.0.0.1:8500/analyze" || model.Model.MinConfidence != 0.55 {
		t.Fatalf("model params not decoded: %+v", model.Model)
	}
}

func TestConfigParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"empty list",
			`strategies: []`,
			"no strategies",
		},
		{
			"unnamed entry",
			"strategies:\n  - type: trend\n    enabled: true",
			"has no name",
		},
		{
			"duplicate name",
			"strategies:\n  - name: a\n    type: trend\n  - name: a\n    type: trend",
			"duplicate strategy name",
		},
		{
			"unknown type",
			"strategies:\n  - name: a\n    type: martingale",
			`unknown type "martingale"`,
		},
		{
			"model without endpoint",
			"strategies:\n  - name: a\n    type: model",
			"endpoint is required",
		},
		{
			"trend fast not below slow",
			"strategies:\n  - name: a\n    type: trend\n    params:\n      fast: 21\n      slow: 21",
			"must be shorter",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v, expected to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuildEnabledOnly(t *testing.T) {
	defs, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	sources, err := Build(defs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("got %d sources, expected 1 (disabled entries skipped)", len(sources))
	}
	if sources[0].Name() != "trend-follow" {
		t.Fatalf("source=%s, expected trend-follow", sources[0].Name())
	}
}

func TestSyncToStore(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()

	defs, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := SyncToStore(ctx, database, defs); err != nil {
		t.Fatalf("SyncToStore: %v", err)
	}

	stored, err := database.ListStrategies(ctx, false)
	if err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("got %d stored strategies, expected 2", len(stored))
	}
	byName := make(map[string]db.Strategy, len(stored))
	for _, s := range stored {
		byName[s.Name] = s
	}
	if !byName["trend-follow"].Enabled || byName["remote-model"].Enabled {
		t.Fatalf("enabled flags not mirrored: %+v", stored)
	}
	if !strings.Contains(byName["trend-follow"].Params, `"fast":5`) {
		t.Fatalf("params not persisted as JSON: %s", byName["trend-follow"].Params)
	}

	// Re-sync updates rows in place instead of duplicating them.
	defs[1].Enabled = true
	if err := SyncToStore(ctx, database, defs); err != nil {
		t.Fatalf("SyncToStore: %v", err)
	}
	enabled, err := database.ListStrategies(ctx, true)
	if err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	if len(enabled) != 2 {
		t.Fatalf("got %d enabled after re-sync, expected 2", len(enabled))
	}

	// Entries dropped from the file are disabled, never deleted.
	if err := SyncToStore(ctx, database, defs[:1]); err != nil {
		t.Fatalf("SyncToStore: %v", err)
	}
	stored, err = database.ListStrategies(ctx, false)
	if err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("got %d stored strategies after drop, expected 2", len(stored))
	}
	enabled, err = database.ListStrategies(ctx, true)
	if err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	if len(enabled) != 1 || enabled[0].Name != "trend-follow" {
		t.Fatalf("enabled=%+v, expected only trend-follow", enabled)
	}
}
