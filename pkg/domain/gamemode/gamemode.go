// Package gamemode defines the closed set of supported game modes and the
// metric schema for each one. A game mode is a specific game+playtype pairing;
// every score in the system belongs to exactly one mode and is validated
// against that mode's schema.
package gamemode

import "fmt"

// Mode identifies a game+playtype combination. The set is closed: engines
// dispatch over this enum via fixed tables rather than string lookup.
type Mode int

const (
	ModeUnspecified Mode = iota
	ModeIIDXSP
	ModeIIDXDP
	ModeSDVX
	ModeWacca
)

var modeNames = map[Mode]string{
	ModeIIDXSP: "iidx:SP",
	ModeIIDXDP: "iidx:DP",
	ModeSDVX:   "sdvx:Single",
	ModeWacca:  "wacca:Single",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unspecified"
}

// Game returns the game half of the mode identifier, e.g. "iidx".
func (m Mode) Game() string {
	switch m {
	case ModeIIDXSP, ModeIIDXDP:
		return "iidx"
	case ModeSDVX:
		return "sdvx"
	case ModeWacca:
		return "wacca"
	}
	return ""
}

// Playtype returns the playtype half of the mode identifier, e.g. "SP".
func (m Mode) Playtype() string {
	switch m {
	case ModeIIDXSP:
		return "SP"
	case ModeIIDXDP:
		return "DP"
	case ModeSDVX, ModeWacca:
		return "Single"
	}
	return ""
}

// Parse resolves a "game:playtype" identifier into a Mode.
func Parse(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return ModeUnspecified, fmt.Errorf("unknown game mode %q", s)
}

// Modes returns every supported mode, in a stable order.
func Modes() []Mode {
	return []Mode{ModeIIDXSP, ModeIIDXDP, ModeSDVX, ModeWacca}
}

// ModesForGame returns the modes belonging to one game.
func ModesForGame(game string) []Mode {
	var out []Mode
	for _, m := range Modes() {
		if m.Game() == game {
			out = append(out, m)
		}
	}
	return out
}
