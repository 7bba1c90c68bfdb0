package grading

import (
	"regexp"
	"strings"
)

// chinesePatterns are substrings flagging a likely prompt-injection attempt
// inside user-supplied prompt fragments (custom prompt, previous-round
// context). Checked case-insensitively; kept short and literal rather than
// a general classifier, matching the original implementation's approach.
var chinesePatterns = []string{"忽略以上", "忽略上述", "忽略所有", "忽略之前", "无视上面"}

var englishPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore above`),
	regexp.MustCompile(`(?i)ignore all`),
	regexp.MustCompile(`(?i)ignore previous`),
	regexp.MustCompile(`(?i)disregard`),
}

const filteredMarker = "[已过滤]"
const filteredMarkerEN = "[filtered]"

// sanitizeUserInput truncates input to maxChars runes (never bytes, to
// avoid splitting a multi-byte rune mid-sequence) and redacts a small fixed
// list of injection-marker substrings. It never touches the essay body
// itself — only prompt fragments the caller supplies around it.
func sanitizeUserInput(input string, maxChars int) string {
	runes := []rune(input)
	truncated := input
	if len(runes) > maxChars {
		truncated = string(runes[:maxChars])
	}

	lower := strings.ToLower(truncated)
	result := truncated
	for _, pattern := range chinesePatterns {
		if strings.Contains(lower, pattern) {
			result = strings.ReplaceAll(result, pattern, filteredMarker)
		}
	}
	for _, re := range englishPatterns {
		result = re.ReplaceAllString(result, filteredMarkerEN)
	}
	return result
}
