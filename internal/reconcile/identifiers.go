package reconcile

import "strings"

// ValidIdentifiers filters global trade identifier candidates. A candidate
// is kept only if it is 12 to 14 ASCII digits and differs from the
// product's own source id. Order is preserved and duplicates are removed.
func ValidIdentifiers(candidates []string, sourceID string) []string {
	sourceID = strings.TrimSpace(sourceID)
	seen := make(map[string]bool, len(candidates))
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if !isTradeIdentifier(c) {
			continue
		}
		if sourceID != "" && strings.EqualFold(c, sourceID) {
			continue
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func isTradeIdentifier(s string) bool {
	if len(s) < 12 || len(s) > 14 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
