package goals

import (
	"fmt"
	"math"

	"github.com/kyoku-gg/server/pkg/domain/gamemode"
)

// HumaniseValue renders a criterion or progress value for display. Enum
// values render as their name; a value outside the legal index range renders
// as the raw number rather than failing, since display must never break an
// import.
func HumaniseValue(schema gamemode.MetricSchema, value float64) string {
	if schema.Kind == gamemode.KindEnum {
		idx := int(value)
		if idx >= 0 && idx < len(schema.Values) {
			return schema.Values[idx]
		}
		return fmt.Sprintf("%v", value)
	}
	if value == math.Trunc(value) {
		return fmt.Sprintf("%d", int64(value))
	}
	return fmt.Sprintf("%.2f", value)
}
