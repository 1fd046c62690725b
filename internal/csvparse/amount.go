package csvparse

import (
	"strconv"
	"strings"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

// Common currency glyphs stripped even when the rule names no symbol.
var currencyGlyphs = []string{"$", "€", "£", "¥", "₹", "USD", "EUR", "GBP"}

// parseAmount converts a raw money string to a signed float. Parentheses or
// a leading minus mean negative. Thousands/decimal separators come from the
// rule when configured; otherwise they are auto-detected by comparing the
// last-seen comma and dot. A value that cannot be parsed resolves to zero.
func parseAmount(raw string, rule *domain.ParsingRule) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	if rule != nil && rule.CurrencySymbol != "" {
		s = strings.ReplaceAll(s, rule.CurrencySymbol, "")
	}
	for _, glyph := range currencyGlyphs {
		s = strings.ReplaceAll(s, glyph, "")
	}
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimPrefix(s, "-")
	}
	s = strings.TrimPrefix(s, "+")

	if rule != nil && rule.ThousandsSeparator != "" && rule.DecimalSeparator != "" {
		s = strings.ReplaceAll(s, rule.ThousandsSeparator, "")
		if rule.DecimalSeparator != "." {
			s = strings.ReplaceAll(s, rule.DecimalSeparator, ".")
		}
	} else {
		lastComma := strings.LastIndex(s, ",")
		lastDot := strings.LastIndex(s, ".")
		if lastComma > lastDot {
			// European: 1.234,56
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	s = keepNumeric(s)
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if negative {
		return -val
	}
	return val
}

func keepNumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
