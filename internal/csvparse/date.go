package csvparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var monthNames = map[string]int{
	"jan": 1, "january": 1,
	"feb": 2, "february": 2,
	"mar": 3, "march": 3,
	"apr": 4, "april": 4,
	"may": 5,
	"jun": 6, "june": 6,
	"jul": 7, "july": 7,
	"aug": 8, "august": 8,
	"sep": 9, "sept": 9, "september": 9,
	"oct": 10, "october": 10,
	"nov": 11, "november": 11,
	"dec": 12, "december": 12,
}

var (
	isoDatePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	dateSplitter  = regexp.MustCompile(`[-/.\s]+`)
)

// parseFlexibleDate normalizes a raw date string to ISO YYYY-MM-DD.
// The rule's dateFormat only decides component order; actual separators in
// the data may differ. Returns "" when the value cannot be interpreted.
func parseFlexibleDate(raw, dateFormat string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if isoDatePrefix.MatchString(raw) {
		return raw[:10]
	}

	parts := dateSplitter.Split(raw, -1)
	if len(parts) != 3 {
		return ""
	}

	var year, month, day string
	switch leadingToken(dateFormat) {
	case "YYYY":
		year, month, day = parts[0], parts[1], parts[2]
	case "DD":
		day, month, year = parts[0], parts[1], parts[2]
	case "MM":
		month, day, year = parts[0], parts[1], parts[2]
	default:
		if len(parts[0]) == 4 && allDigits(parts[0]) {
			year, month, day = parts[0], parts[1], parts[2]
		} else {
			day, month, year = parts[0], parts[1], parts[2]
		}
	}

	y, ok := parseYear(year)
	if !ok {
		return ""
	}
	m, ok := parseMonth(month)
	if !ok || m < 1 || m > 12 {
		return ""
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

func leadingToken(dateFormat string) string {
	upper := strings.ToUpper(dateFormat)
	switch {
	case strings.HasPrefix(upper, "YYYY"):
		return "YYYY"
	case strings.HasPrefix(upper, "DD"):
		return "DD"
	case strings.HasPrefix(upper, "MM"):
		return "MM"
	}
	return ""
}

// parseYear expands 2-digit years with the >50 pivot: 73 is 1973, 24 is 2024.
func parseYear(s string) (int, bool) {
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	if len(s) <= 2 {
		if y > 50 {
			return 1900 + y, true
		}
		return 2000 + y, true
	}
	return y, true
}

func parseMonth(s string) (int, bool) {
	if m, err := strconv.Atoi(s); err == nil {
		return m, true
	}
	if m, ok := monthNames[strings.ToLower(s)]; ok {
		return m, true
	}
	return 0, false
}

func allDigits(s string) bool {
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
