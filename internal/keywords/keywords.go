// Package keywords extracts the significant words of a meeting title.
package keywords

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinLength is the shortest token treated as a keyword.
const MinLength = 3

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Extract returns the lower-cased, de-duplicated title words that are not stopwords
// and are at least MinLength characters long, in title order. At most max words are
// returned; max <= 0 returns none.
func Extract(title string, stopwords []string, max int) []string {
	if max <= 0 {
		return nil
	}

	stop := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		stop[strings.ToLower(w)] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(title), -1) {
		if utf8.RuneCountInString(w) < MinLength {
			continue
		}
		if _, ok := stop[w]; ok {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == max {
			break
		}
	}
	return out
}
