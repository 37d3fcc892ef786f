package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"cyclebot/pkg/db"
)

// Source types accepted in strategies.yaml.
const (
	TypeTrend = "trend"
	TypeModel = "model"
)

type rawStrategy struct {
	Name    string    `yaml:"name"`
	Type    string    `yaml:"type"`
	Enabled bool      `yaml:"enabled"`
	Params  yaml.Node `yaml:"params"`
}

type configFile struct {
	Strategies []rawStrategy `yaml:"strategies"`
}

// Definition is one validated strategy entry. Exactly one params pointer
// is set, matching Type.
type Definition struct {
	Name    string
	Type    string
	Enabled bool
	Trend   *TrendParams
	Model   *ModelParams
}

func (d Definition) params() any {
	switch {
	case d.Trend != nil:
		return d.Trend
	case d.Model != nil:
		return d.Model
	}
	return struct{}{}
}

// Load reads and validates the strategy config file. A bad entry is a
// startup error naming the offending strategy.
func Load(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy config: %w", err)
	}
	return Parse(data)
}

// Parse validates raw YAML config bytes.
func Parse(data []byte) ([]Definition, error) {
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse strategy config: %w", err)
	}
	if len(file.Strategies) == 0 {
		return nil, fmt.Errorf("strategy config lists no strategies")
	}

	seen := make(map[string]bool, len(file.Strategies))
	defs := make([]Definition, 0, len(file.Strategies))
	for i, raw := range file.Strategies {
		if raw.Name == "" {
			return nil, fmt.Errorf("strategy #%d has no name", i+1)
		}
		if seen[raw.Name] {
			return nil, fmt.Errorf("duplicate strategy name %q", raw.Name)
		}
		seen[raw.Name] = true

		def := Definition{Name: raw.Name, Type: raw.Type, Enabled: raw.Enabled}
		switch raw.Type {
		case TypeTrend:
			p := DefaultTrendParams()
			if raw.Params.Kind != 0 {
				if err := raw.Params.Decode(&p); err != nil {
					return nil, fmt.Errorf("strategy %s: bad params: %w", raw.Name, err)
				}
			}
			if err := p.validate(); err != nil {
				return nil, fmt.Errorf("strategy %s: %w", raw.Name, err)
			}
			def.Trend = &p
		case TypeModel:
			var p ModelParams
			if raw.Params.Kind != 0 {
				if err := raw.Params.Decode(&p); err != nil {
					return nil, fmt.Errorf("strategy %s: bad params: %w", raw.Name, err)
				}
			}
			if err := p.validate(); err != nil {
				return nil, fmt.Errorf("strategy %s: %w", raw.Name, err)
			}
			def.Model = &p
		default:
			return nil, fmt.Errorf("strategy %s: unknown type %q", raw.Name, raw.Type)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Build constructs the enabled sources.
func Build(defs []Definition) ([]SignalSource, error) {
	sources := make([]SignalSource, 0, len(defs))
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		var (
			src SignalSource
			err error
		)
		switch def.Type {
		case TypeTrend:
			src, err = NewTrendSource(def.Name, *def.Trend)
		case TypeModel:
			src, err = NewModelSource(def.Name, *def.Model)
		default:
			err = fmt.Errorf("unknown type %q", def.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("build strategy %s: %w", def.Name, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// SyncToStore mirrors the config file into the strategies table so the
// API can report what is configured. Entries dropped from the file are
// disabled, never deleted.
func SyncToStore(ctx context.Context, database *db.Database, defs []Definition) error {
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.params())
		if err != nil {
			return fmt.Errorf("encode params for strategy %s: %w", def.Name, err)
		}
		if err := database.UpsertStrategy(ctx, db.Strategy{
			ID:           uuid.NewString(),
			Name:         def.Name,
			StrategyType: def.Type,
			Params:       string(params),
			Enabled:      def.Enabled,
		}); err != nil {
			return fmt.Errorf("sync strategy %s: %w", def.Name, err)
		}
		names = append(names, def.Name)
	}
	return database.DisableStrategiesExcept(ctx, names)
}
