package invoker

import (
	"regexp"
	"strings"
)

// Explicit statements of the answer. The last occurrence wins because
// reasoning responses state their conclusion at the end.
var conclusionRules = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:ANSWER|CHOICE|OPTION)\s*(?:IS|:)\s*\(?([A-J])\b`),
	regexp.MustCompile(`\b([A-J])\s+IS\s+(?:THE\s+)?(?:CORRECT|RIGHT|BEST)\b`),
	regexp.MustCompile(`\b(?:CORRECT|RIGHT|BEST)\s+(?:ANSWER|CHOICE|OPTION)\s*(?:IS|:)?\s*\(?([A-J])\b`),
}

// Positional rules, tried in order; the first match wins. A and I are
// excluded from the loose rules because they are also English words.
var positionalRules = []*regexp.Regexp{
	regexp.MustCompile(`^\s*\(?([B-HJ])\)?[.:)]`),
	regexp.MustCompile(`^\s*\(([A-J])\)`),
	regexp.MustCompile(`\b([B-HJ])[.:)]`),
	regexp.MustCompile(`(?:^|[^A-Z])(A)\.(?:$|\W)`),
	regexp.MustCompile(`\b([B-HJ])\b`),
}

// ExtractAnswer finds the option letter a response commits to. Only letters
// in valid are accepted. It returns "" when no rule yields a valid letter.
func ExtractAnswer(response, valid string) string {
	text := strings.ToUpper(strings.TrimSpace(response))
	if text == "" {
		return ""
	}
	ok := func(l string) bool { return len(l) == 1 && strings.Contains(valid, l) }

	if clean := strings.Trim(text, "."); ok(clean) {
		return clean
	}

	if len(text) > 1 {
		first, second := text[:1], text[1]
		if ok(first) {
			if strings.IndexByte(".):", second) >= 0 {
				return first
			}
			if second == ',' || second == ' ' {
				if first != "A" && first != "I" {
					return first
				}
			}
		}
	}

	for _, re := range conclusionRules {
		matches := re.FindAllStringSubmatch(text, -1)
		for i := len(matches) - 1; i >= 0; i-- {
			if ok(matches[i][1]) {
				return matches[i][1]
			}
		}
	}

	for _, re := range positionalRules {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if ok(m[1]) {
				return m[1]
			}
		}
	}
	return ""
}
