package services

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// usageDetailsSuffix marks nested usage breakdowns that are not counters.
const usageDetailsSuffix = "_details"

// ExtractUsage converts a provider usage object into integer counters.
// Keys ending in "_details" are dropped, as are values that cannot be read
// as an integer. Floats are truncated. A nil input returns nil.
func ExtractUsage(raw map[string]any) map[string]int {
	if raw == nil {
		return nil
	}
	usage := make(map[string]int, len(raw))
	for key, value := range raw {
		if strings.HasSuffix(key, usageDetailsSuffix) {
			continue
		}
		if n, ok := toInt(value); ok {
			usage[key] = n
		}
	}
	return usage
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil {
			return toInt(f)
		}
		return 0, false
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
