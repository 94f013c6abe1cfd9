package metric

import (
	"fmt"
	"math"
)

// FormatValue renders a computed value for human-facing messages. Time units
// promote to the next unit when large enough ("76 minutes" reads "1h 16min"),
// percent values keep one decimal, everything else keeps two.
func FormatValue(value float64, unit string) string {
	switch unit {
	case "seconds":
		if value >= 60 {
			return FormatValue(value/60, "minutes")
		}
		return fmt.Sprintf("%ds", int(math.Round(value)))
	case "minutes":
		if value >= 60 {
			h := int(value) / 60
			m := int(math.Round(value)) % 60
			if m == 0 {
				return fmt.Sprintf("%dh", h)
			}
			return fmt.Sprintf("%dh %dmin", h, m)
		}
		return fmt.Sprintf("%dmin", int(math.Round(value)))
	case "hours":
		if value >= 24 {
			d := int(value) / 24
			h := int(math.Round(value)) % 24
			if h == 0 {
				return fmt.Sprintf("%dd", d)
			}
			return fmt.Sprintf("%dd %dh", d, h)
		}
		return fmt.Sprintf("%.1fh", value)
	case "days":
		return fmt.Sprintf("%.1fd", value)
	case "%":
		return fmt.Sprintf("%.1f%%", value)
	default:
		if value == math.Trunc(value) {
			return fmt.Sprintf("%d", int(value))
		}
		return fmt.Sprintf("%.2f", value)
	}
}
