// Package types holds the persisted record shapes for the score ingestion
// core. Firestore field names are snake_case to match the rest of the
// document store.
package types

import (
	"encoding/json"

	"github.com/kyoku-gg/server/pkg/domain/gamemode"
)

// MetricValue is a single metric value. Exactly one half is live, decided by
// the metric's schema kind: numeric metrics use Num, enum metrics use Enum.
type MetricValue struct {
	Num  float64 `firestore:"num" json:"num"`
	Enum string  `firestore:"enum,omitempty" json:"enum,omitempty"`
}

// Metrics maps metric name to value.
type Metrics map[string]MetricValue

// Num builds a numeric metric value.
func Num(v float64) MetricValue { return MetricValue{Num: v} }

// Enum builds an enum metric value.
func Enum(v string) MetricValue { return MetricValue{Enum: v} }

// Clone returns a deep copy.
func (m Metrics) Clone() Metrics {
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ChartRef is the converter-supplied reference a score carries before the
// catalog resolves it into a Chart.
type ChartRef struct {
	ChartID    string `firestore:"chart_id,omitempty" json:"chartId,omitempty"`
	SongTitle  string `firestore:"song_title,omitempty" json:"songTitle,omitempty"`
	Difficulty string `firestore:"difficulty,omitempty" json:"difficulty,omitempty"`
}

// Chart is an identifiable playable unit within a game mode.
type Chart struct {
	ChartID    string             `firestore:"chart_id" json:"chartId"`
	SongID     string             `firestore:"song_id" json:"songId"`
	Mode       gamemode.Mode      `firestore:"mode" json:"mode"`
	Difficulty string             `firestore:"difficulty" json:"difficulty"`
	Level      string             `firestore:"level" json:"level"`
	Data       map[string]float64 `firestore:"data" json:"data"` // notecount etc.
}

// Song groups charts.
type Song struct {
	SongID string `firestore:"song_id" json:"songId"`
	Title  string `firestore:"title" json:"title"`
	Artist string `firestore:"artist" json:"artist"`
}

// CanonicalScore is the normalized intermediate score a Converter produces.
// It is immutable input to the ingestion core: primary metrics only, no
// identity, no derived data.
type CanonicalScore struct {
	Mode         gamemode.Mode `firestore:"mode" json:"mode"`
	Service      string        `firestore:"service" json:"service"`
	Comment      string        `firestore:"comment,omitempty" json:"comment,omitempty"`
	TimeAchieved int64         `firestore:"time_achieved" json:"timeAchieved"` // unix ms, 0 = unknown
	Metrics      Metrics       `firestore:"metrics" json:"metrics"`
}

// PersistedScore is a canonical score with assigned identity, derived
// metrics, enum-index projections, ownership and provenance. Append-only:
// created once per unique identity, never mutated.
type PersistedScore struct {
	ScoreID      string         `firestore:"score_id" json:"scoreId"`
	UserID       string         `firestore:"user_id" json:"userId"`
	ChartID      string         `firestore:"chart_id" json:"chartId"`
	SongID       string         `firestore:"song_id" json:"songId"`
	Mode         gamemode.Mode  `firestore:"mode" json:"mode"`
	Service      string         `firestore:"service" json:"service"`
	ImportType   string         `firestore:"import_type" json:"importType"`
	ImportID     string         `firestore:"import_id" json:"importId"`
	Comment      string         `firestore:"comment,omitempty" json:"comment,omitempty"`
	Highlight    bool           `firestore:"highlight" json:"highlight"`
	TimeAchieved int64          `firestore:"time_achieved" json:"timeAchieved"`
	TimeAdded    int64          `firestore:"time_added" json:"timeAdded"`
	Metrics      Metrics        `firestore:"metrics" json:"metrics"`
	EnumIndexes  map[string]int `firestore:"enum_indexes" json:"enumIndexes"`
}

// PersonalBestRecord is the composite best per (user, chart). ComposedFrom
// records which underlying score contributed which dimension.
type PersonalBestRecord struct {
	UserID       string            `firestore:"user_id" json:"userId"`
	ChartID      string            `firestore:"chart_id" json:"chartId"`
	SongID       string            `firestore:"song_id" json:"songId"`
	Mode         gamemode.Mode     `firestore:"mode" json:"mode"`
	ComposedFrom map[string]string `firestore:"composed_from" json:"composedFrom"` // dimension -> scoreID
	Comments     []string          `firestore:"comments,omitempty" json:"comments,omitempty"`
	Highlight    bool              `firestore:"highlight" json:"highlight"`
	TimeAchieved int64             `firestore:"time_achieved" json:"timeAchieved"`
	Metrics      Metrics           `firestore:"metrics" json:"metrics"`
	EnumIndexes  map[string]int    `firestore:"enum_indexes" json:"enumIndexes"`
}

// OrphanRecord defers a normalized record whose chart reference could not be
// resolved. Keyed by a content hash so identical resubmissions collapse.
type OrphanRecord struct {
	OrphanID     string          `firestore:"orphan_id" json:"orphanId"`
	UserID       string          `firestore:"user_id" json:"userId"`
	ImportType   string          `firestore:"import_type" json:"importType"`
	Data         json.RawMessage `firestore:"data" json:"data"`
	Context      json.RawMessage `firestore:"context,omitempty" json:"context,omitempty"`
	ErrMsg       string          `firestore:"err_msg" json:"errMsg"`
	TimeInserted int64           `firestore:"time_inserted" json:"timeInserted"`
}

// UnverifiedChart is a chart definition submitted alongside an orphaned
// score, held until enough independent submissions corroborate it.
type UnverifiedChart struct {
	HashID         string   `firestore:"hash_id" json:"hashId"`
	Chart          Chart    `firestore:"chart" json:"chart"`
	Song           Song     `firestore:"song" json:"song"`
	Corroborations []string `firestore:"corroborations" json:"corroborations"` // distinct userIDs
	TimeInserted   int64    `firestore:"time_inserted" json:"timeInserted"`
}

// UserRecord is the slice of the user document this core needs.
type UserRecord struct {
	UserID   string `firestore:"user_id" json:"userId"`
	Username string `firestore:"username" json:"username"`
}
