package webhook

import "github.com/tidwall/gjson"

// matchesFilter reports whether every key in filter is present at the top
// level of dataJSON with the expected value, per spec.md §4.4's "all keys
// must match (strict equality)". An empty filter always matches. Filters
// are top-level-equality only — no deep-path matching (an Open Question
// resolved in favor of simplicity).
func matchesFilter(dataJSON []byte, filter map[string]string) bool {
	if len(filter) == 0 {
		return true
	}
	fields := gjson.ParseBytes(dataJSON).Map()
	for field, expected := range filter {
		actual, ok := fields[field]
		if !ok || actual.String() != expected {
			return false
		}
	}
	return true
}
