package gemini

import "strings"

// CleanJSON strips Markdown fences and surrounding chatter from a model
// response, keeping the span from the first opening bracket to its matching
// last close. Works for both object and array responses.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")

	start, closer := objStart, "}"
	if objStart == -1 || (arrStart != -1 && arrStart < objStart) {
		start, closer = arrStart, "]"
	}
	if start == -1 {
		return s
	}
	if end := strings.LastIndex(s, closer); end > start {
		return strings.TrimSpace(s[start : end+1])
	}
	return s
}
