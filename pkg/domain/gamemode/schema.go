package gamemode

// MetricKind describes the value shape of a metric.
type MetricKind int

const (
	KindDecimal MetricKind = iota
	KindInteger
	KindEnum
)

// MetricSchema describes one metric of a mode.
//
// For enum metrics, Values holds the full legal value set ordered
// worst-to-best; a value's position in Values is its enum index, which is
// materialized onto persisted scores for efficient querying.
type MetricSchema struct {
	Name string
	Kind MetricKind

	// Values is the legal value set for enum metrics, ordered worst-to-best.
	Values []string

	// IdentityBearing marks optional metrics that participate in score
	// identity. Required metrics are always identity-bearing.
	IdentityBearing bool
}

// EnumIndex resolves a value's position within the schema's legal value set.
func (s MetricSchema) EnumIndex(value string) (int, bool) {
	for i, v := range s.Values {
		if v == value {
			return i, true
		}
	}
	return 0, false
}

// Spec is the full metric configuration for one mode.
type Spec struct {
	Mode Mode

	// Primary is the base dimension for personal-best merging.
	Primary string

	// Dimensions are the additional tracked PB dimensions. A score that is
	// strictly better on one of these gets that dimension spliced into the
	// composite PB.
	Dimensions []string

	Required []MetricSchema
	Optional []MetricSchema

	// Derived names the metrics the derived-metrics engine produces for this
	// mode, with their schemas. The deriver registry must stay in lockstep
	// with this set.
	Derived []MetricSchema
}

// Schema finds a metric's schema by name across required, optional and
// derived metrics.
func (sp Spec) Schema(name string) (MetricSchema, bool) {
	for _, set := range [][]MetricSchema{sp.Required, sp.Optional, sp.Derived} {
		for _, s := range set {
			if s.Name == name {
				return s, true
			}
		}
	}
	return MetricSchema{}, false
}

var iidxLamps = []string{
	"NO PLAY", "FAILED", "ASSIST CLEAR", "EASY CLEAR", "CLEAR",
	"HARD CLEAR", "EX HARD CLEAR", "FULL COMBO",
}

var iidxGrades = []string{"F", "E", "D", "C", "B", "A", "AA", "AAA", "MAX-", "MAX"}

var sdvxLamps = []string{
	"FAILED", "CLEAR", "EXCESSIVE CLEAR", "ULTIMATE CHAIN", "PERFECT ULTIMATE CHAIN",
}

var sdvxGrades = []string{"D", "C", "B", "A", "A+", "AA", "AA+", "AAA", "AAA+", "S"}

var waccaLamps = []string{"FAILED", "CLEAR", "MISSLESS", "FULL COMBO", "ALL MARVELOUS"}

var waccaGrades = []string{
	"D", "C", "B", "A", "AA", "AAA", "S", "S+", "SS", "SS+", "SSS", "SSS+", "MASTER",
}

func iidxSpec(m Mode) Spec {
	return Spec{
		Mode:       m,
		Primary:    "percent",
		Dimensions: []string{"lamp"},
		Required: []MetricSchema{
			{Name: "score", Kind: KindInteger},
			{Name: "lamp", Kind: KindEnum, Values: iidxLamps},
		},
		Optional: []MetricSchema{
			// bp is telemetry, not identity: resubmitting the same play with
			// bp attached must not create a duplicate score.
			{Name: "bp", Kind: KindInteger},
			{Name: "gauge", Kind: KindDecimal},
		},
		Derived: []MetricSchema{
			{Name: "percent", Kind: KindDecimal},
			{Name: "grade", Kind: KindEnum, Values: iidxGrades},
		},
	}
}

var specs = map[Mode]Spec{
	ModeIIDXSP: iidxSpec(ModeIIDXSP),
	ModeIIDXDP: iidxSpec(ModeIIDXDP),
	ModeSDVX: {
		Mode:       ModeSDVX,
		Primary:    "score",
		Dimensions: []string{"lamp"},
		Required: []MetricSchema{
			{Name: "score", Kind: KindInteger},
			{Name: "lamp", Kind: KindEnum, Values: sdvxLamps},
		},
		Optional: []MetricSchema{
			{Name: "exScore", Kind: KindInteger},
			{Name: "gauge", Kind: KindDecimal},
		},
		Derived: []MetricSchema{
			{Name: "grade", Kind: KindEnum, Values: sdvxGrades},
		},
	},
	ModeWacca: {
		Mode:       ModeWacca,
		Primary:    "score",
		Dimensions: []string{"lamp"},
		Required: []MetricSchema{
			{Name: "score", Kind: KindInteger},
			{Name: "lamp", Kind: KindEnum, Values: waccaLamps},
		},
		Optional: []MetricSchema{
			{Name: "fast", Kind: KindInteger},
			{Name: "slow", Kind: KindInteger},
		},
		Derived: []MetricSchema{
			{Name: "grade", Kind: KindEnum, Values: waccaGrades},
		},
	},
}

// SpecFor returns the metric spec for a mode.
func SpecFor(m Mode) (Spec, bool) {
	sp, ok := specs[m]
	return sp, ok
}
