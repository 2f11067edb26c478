package delivery

import (
	"regexp"
	"strings"
)

var (
	base64Pattern       = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)
	markdownLinkPattern = regexp.MustCompile(`\[[^\]]*\]\([^)]*\)`)
)

// ClassifyText infers the text type of a free-text payload. Heuristics run
// in a fixed order: JSON, then Base64, then Markdown, then HTML, falling
// back to Plain.
func ClassifyText(text string) TextType {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return TextPlain
	}

	if isJSON(trimmed) {
		return TextJSON
	}
	if isBase64(trimmed) {
		return TextBase64
	}
	if isMarkdown(trimmed) {
		return TextMarkdown
	}
	if strings.Contains(trimmed, "<") && strings.Contains(trimmed, ">") {
		return TextHTML
	}
	return TextPlain
}

// isJSON checks for matching object or array delimiters only; payloads are
// not parsed, the orchestrator renders them opportunistically.
func isJSON(s string) bool {
	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}

func isBase64(s string) bool {
	return len(s)%4 == 0 && base64Pattern.MatchString(s)
}

func isMarkdown(s string) bool {
	if strings.Contains(s, "```") || strings.Contains(s, "**") {
		return true
	}
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			return true
		}
	}
	return markdownLinkPattern.MatchString(s)
}
