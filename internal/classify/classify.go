// Package classify maps article text onto the closed set of ethics categories
// by keyword matching.
package classify

import "strings"

// Classify returns every category whose keyword list has at least one keyword
// appearing, case-insensitively, as a substring of the headline or the
// description. Multi-word keywords match as exact phrases. Text that matches
// nothing is labelled uncategorized.
func Classify(headline, description string) []string {
	headline = strings.ToLower(headline)
	description = strings.ToLower(description)

	var out []string
	for _, name := range names {
		for _, kw := range categoryKeywords[name] {
			kw = phrase(kw)
			if kw == "" {
				continue
			}
			if strings.Contains(headline, kw) || strings.Contains(description, kw) {
				out = append(out, name)
				break
			}
		}
	}

	if len(out) == 0 {
		return []string{Uncategorized}
	}
	return out
}

// phrase strips wrapping quote marks and lowercases a keyword.
func phrase(kw string) string {
	kw = strings.TrimSpace(kw)
	if len(kw) >= 2 && kw[0] == '"' && kw[len(kw)-1] == '"' {
		kw = kw[1 : len(kw)-1]
	}
	return strings.ToLower(kw)
}
