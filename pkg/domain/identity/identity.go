// Package identity assigns deterministic content-hash identities to scores
// and orphans. Equal inputs always produce equal tokens, so resubmitting the
// same play collapses onto the same identity and the store's uniqueness
// constraint acts as the final dedup backstop.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/types"
)

// AssignScoreID hashes (userID, chartID, identity-bearing metrics) into a
// score identity of the form "S<sha256 hex>".
//
// The identity-bearing set is the mode's full required-metric set plus any
// optional metrics flagged identity-bearing. Metrics outside that set
// (cosmetic telemetry like fast/slow counts) never affect the token, so a
// replay with extra telemetry attached does not become a duplicate.
func AssignScoreID(userID, chartID string, mode gamemode.Mode, m types.Metrics) (string, error) {
	sp, ok := gamemode.SpecFor(mode)
	if !ok {
		return "", fmt.Errorf("no metric spec for mode %s", mode)
	}

	var parts []string
	for _, schema := range sp.Required {
		v, ok := m[schema.Name]
		if !ok {
			return "", fmt.Errorf("score is missing required metric %q for mode %s", schema.Name, mode)
		}
		parts = append(parts, schema.Name+"="+formatValue(schema, v))
	}
	for _, schema := range sp.Optional {
		if !schema.IdentityBearing {
			continue
		}
		if v, ok := m[schema.Name]; ok {
			parts = append(parts, schema.Name+"="+formatValue(schema, v))
		}
	}

	// Deterministic ordering regardless of schema declaration order.
	sort.Strings(parts)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", userID, chartID, mode, strings.Join(parts, ";"))
	return "S" + hex.EncodeToString(h.Sum(nil)), nil
}

func formatValue(schema gamemode.MetricSchema, v types.MetricValue) string {
	if schema.Kind == gamemode.KindEnum {
		return v.Enum
	}
	return strconv.FormatFloat(v.Num, 'f', -1, 64)
}

// HashContent hashes arbitrary content segments under a single-letter
// prefix. Used for orphan ("O") and unverified-chart ("Q") identities.
func HashContent(prefix string, segments ...[]byte) string {
	h := sha256.New()
	for _, seg := range segments {
		h.Write(seg)
		h.Write([]byte{0})
	}
	return prefix + hex.EncodeToString(h.Sum(nil))
}
