package ingest

import "strings"

// containsExcluded reports whether any exclusion term appears
// (case-insensitive) in the title or description.
func containsExcluded(title, description string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	combined := strings.ToLower(title + " " + description)
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
