package merge

import (
	"regexp"
	"strings"
)

// Heuristics for zero-amount rows that are really the tail of the previous
// transaction: bank routing codes, addresses, and payee detail lines that
// statements wrap onto the next line.

var continuationKeywords = []string{
	"sort code",
	"account number",
	"iban",
	"bic",
	"swift",
	"carried forward",
	"brought forward",
	"continued",
	"reference:",
}

var (
	// An uppercase bank-code-like token: "HSBC", "NWBKGB2L", "20-00-00".
	bankCodeToken = regexp.MustCompile(`^[A-Z]{3,}[A-Z0-9]*$|^\d{2}-\d{2}-\d{2}$`)
	// A street number leading an address line: "42 High Street".
	streetNumber = regexp.MustCompile(`^\d{1,5}\s+[A-Z][a-z]`)
	// "Name Address" capitalization: several capitalized words, no digits.
	nameAddress = regexp.MustCompile(`^([A-Z][a-z]+\s+){2,}[A-Z][a-z]+$`)
)

// looksLikeContinuation reports whether a zero-amount description reads like
// the continuation of an earlier line rather than a transaction of its own.
// Best effort: false negatives leave a stray empty row, false positives glue
// an extra fragment onto the previous description.
func looksLikeContinuation(desc string) bool {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return false
	}

	lower := strings.ToLower(desc)
	for _, kw := range continuationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	first := strings.Fields(desc)[0]
	if bankCodeToken.MatchString(first) {
		return true
	}
	if streetNumber.MatchString(desc) {
		return true
	}
	return nameAddress.MatchString(desc)
}
