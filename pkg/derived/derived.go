// Package derived computes secondary metrics from primary metrics plus chart
// metadata, without per-mode special-casing in the orchestrator. Each mode
// has a closed registry of pure deriver functions; the registry and the
// mode's schema must agree, and a mismatch is a configuration bug, not a
// per-record failure.
package derived

import (
	"fmt"
	"math"

	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/types"
)

// Func is a pure deriver: (primary metrics, chart) -> value.
type Func func(m types.Metrics, chart *types.Chart) (types.MetricValue, error)

// ConfigError signals a registry/schema mismatch or an illegal enum value.
// These must never occur at runtime; callers treat them as fatal rather than
// as a per-record failure.
type ConfigError struct {
	Mode   gamemode.Mode
	Metric string
	Msg    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("derived metrics config error: mode=%s metric=%s: %s", e.Mode, e.Metric, e.Msg)
}

var registry = map[gamemode.Mode]map[string]Func{
	gamemode.ModeIIDXSP: {
		"percent": iidxPercent,
		"grade":   iidxGrade,
	},
	gamemode.ModeIIDXDP: {
		"percent": iidxPercent,
		"grade":   iidxGrade,
	},
	gamemode.ModeSDVX: {
		"grade": sdvxGrade,
	},
	gamemode.ModeWacca: {
		"grade": waccaGrade,
	},
}

// Derive returns the union of primary and derived metrics plus enum-index
// projections for every categorical metric present, required and optional.
func Derive(mode gamemode.Mode, primary types.Metrics, chart *types.Chart) (types.Metrics, map[string]int, error) {
	sp, ok := gamemode.SpecFor(mode)
	if !ok {
		return nil, nil, &ConfigError{Mode: mode, Msg: "no metric spec registered"}
	}

	out := primary.Clone()

	for name, fn := range registry[mode] {
		if _, ok := sp.Schema(name); !ok {
			return nil, nil, &ConfigError{Mode: mode, Metric: name, Msg: "deriver has no schema entry"}
		}
		v, err := fn(primary, chart)
		if err != nil {
			return nil, nil, fmt.Errorf("deriving %s for %s: %w", name, mode, err)
		}
		out[name] = v
	}

	// Materialize enum indexes alongside the values.
	indexes := make(map[string]int)
	for name, v := range out {
		schema, ok := sp.Schema(name)
		if !ok {
			return nil, nil, &ConfigError{Mode: mode, Metric: name, Msg: "metric has no schema entry"}
		}
		if schema.Kind != gamemode.KindEnum {
			continue
		}
		idx, ok := schema.EnumIndex(v.Enum)
		if !ok {
			return nil, nil, &ConfigError{Mode: mode, Metric: name, Msg: fmt.Sprintf("illegal enum value %q", v.Enum)}
		}
		indexes[name] = idx
	}

	return out, indexes, nil
}

// iidxPercent is EX score over double the notecount.
func iidxPercent(m types.Metrics, chart *types.Chart) (types.MetricValue, error) {
	notecount, ok := chart.Data["notecount"]
	if !ok || notecount <= 0 {
		return types.MetricValue{}, fmt.Errorf("chart %s has no notecount", chart.ChartID)
	}
	percent := m["score"].Num / (notecount * 2) * 100
	if percent > 100 {
		return types.MetricValue{}, fmt.Errorf("percent %.2f exceeds 100", percent)
	}
	return types.Num(percent), nil
}

var iidxGradeBoundaries = []struct {
	name string
	at   float64 // percent, as ninths of max
}{
	{"MAX", 100},
	{"MAX-", 94.44},
	{"AAA", 88.88},
	{"AA", 77.77},
	{"A", 66.66},
	{"B", 55.55},
	{"C", 44.44},
	{"D", 33.33},
	{"E", 22.22},
	{"F", 0},
}

func iidxGrade(m types.Metrics, chart *types.Chart) (types.MetricValue, error) {
	pv, err := iidxPercent(m, chart)
	if err != nil {
		return types.MetricValue{}, err
	}
	for _, b := range iidxGradeBoundaries {
		if pv.Num >= b.at {
			return types.Enum(b.name), nil
		}
	}
	return types.Enum("F"), nil
}

var sdvxGradeBoundaries = []struct {
	name string
	at   float64
}{
	{"S", 9_900_000},
	{"AAA+", 9_800_000},
	{"AAA", 9_700_000},
	{"AA+", 9_500_000},
	{"AA", 9_300_000},
	{"A+", 9_000_000},
	{"A", 8_700_000},
	{"B", 7_500_000},
	{"C", 6_500_000},
	{"D", 0},
}

func sdvxGrade(m types.Metrics, _ *types.Chart) (types.MetricValue, error) {
	score := m["score"].Num
	if score > 10_000_000 {
		return types.MetricValue{}, fmt.Errorf("score %d exceeds 10m", int64(score))
	}
	for _, b := range sdvxGradeBoundaries {
		if score >= b.at {
			return types.Enum(b.name), nil
		}
	}
	return types.Enum("D"), nil
}

var waccaGradeBoundaries = []struct {
	name string
	at   float64
}{
	{"MASTER", 1_000_000},
	{"SSS+", 990_000},
	{"SSS", 980_000},
	{"SS+", 970_000},
	{"SS", 960_000},
	{"S+", 950_000},
	{"S", 900_000},
	{"AAA", 870_000},
	{"AA", 800_000},
	{"A", 700_000},
	{"B", 300_000},
	{"C", 1},
	{"D", 0},
}

func waccaGrade(m types.Metrics, _ *types.Chart) (types.MetricValue, error) {
	score := math.Floor(m["score"].Num)
	for _, b := range waccaGradeBoundaries {
		if score >= b.at {
			return types.Enum(b.name), nil
		}
	}
	return types.Enum("D"), nil
}
