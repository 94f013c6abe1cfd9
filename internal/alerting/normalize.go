package alerting

import "strings"

// NormalizeIdentifier canonicalizes identifiers extracted from the dataset
// so that "28999614877" and "28999614877.0" deduplicate to the same alert.
// The float suffix appears when a numeric column round-trips through the
// spreadsheet export.
func NormalizeIdentifier(v string) string {
	s := strings.TrimSpace(v)
	if base, ok := strings.CutSuffix(s, ".0"); ok && isDigits(base) {
		return base
	}
	return s
}

func isDigits(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
