// Package csvparse converts raw delimited statement text into transactions
// using a parsing rule. Parse never returns an error: row-level problems
// degrade to warnings and skipped rows so one bad line cannot sink a file.
package csvparse

import (
	"fmt"
	"strings"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

// Parse applies rule to content and returns the extracted transactions plus
// any row-level warnings. The caller decides what zero transactions means;
// Parse itself treats nothing as fatal.
func Parse(content string, rule *domain.ParsingRule) ([]domain.Transaction, []string) {
	var warnings []string
	if rule == nil {
		return nil, []string{"no parsing rule provided"}
	}

	lines := nonBlankLines(content)
	if len(lines) == 0 {
		return nil, []string{"file contains no data lines"}
	}

	delim := rule.EffectiveDelimiter()

	var header []string
	if rule.HeaderRow >= 0 && rule.HeaderRow < len(lines) {
		header = splitFields(lines[rule.HeaderRow], delim)
	}

	cols, err := resolveColumns(rule, header)
	if err != nil {
		return nil, []string{err.Error()}
	}

	start := rule.EffectiveDataStartRow()
	if start < 0 {
		start = 0
	}
	end := len(lines) - rule.SkipFooterRows
	if end > len(lines) {
		end = len(lines)
	}

	var txns []domain.Transaction
	for i := start; i < end; i++ {
		txn, warning, ok := parseRow(lines[i], delim, rule, cols, i)
		if warning != "" {
			warnings = append(warnings, warning)
		}
		if ok {
			txns = append(txns, txn)
		}
	}
	return txns, warnings
}

// CountCandidateRows reports how many lines fall inside the rule's data-row
// range. The self-healing trigger uses it to distinguish an empty file from
// a rule that fails to match a populated one.
func CountCandidateRows(content string, rule *domain.ParsingRule) int {
	lines := nonBlankLines(content)
	start := 0
	footer := 0
	if rule != nil {
		start = rule.EffectiveDataStartRow()
		footer = rule.SkipFooterRows
	}
	if start < 0 {
		start = 0
	}
	n := len(lines) - footer - start
	if n < 0 {
		return 0
	}
	return n
}

// resolvedColumns holds the rule's column bindings resolved to indexes.
// -1 means the column is not bound.
type resolvedColumns struct {
	date        int
	description int
	amount      int
	debit       int
	credit      int
	balance     int
	reference   int
}

func resolveColumns(rule *domain.ParsingRule, header []string) (resolvedColumns, error) {
	cols := resolvedColumns{
		date:        resolveColumn(rule.DateColumn, header),
		description: resolveColumn(rule.DescriptionColumn, header),
		amount:      resolveColumn(rule.AmountColumn, header),
		debit:       resolveColumn(rule.DebitColumn, header),
		credit:      resolveColumn(rule.CreditColumn, header),
		balance:     resolveColumn(rule.BalanceColumn, header),
		reference:   resolveColumn(rule.ReferenceColumn, header),
	}
	if cols.date < 0 {
		return cols, fmt.Errorf("date column %s not found in header", describeRef(rule.DateColumn))
	}
	if cols.description < 0 {
		return cols, fmt.Errorf("description column %s not found in header", describeRef(rule.DescriptionColumn))
	}
	if cols.amount < 0 && cols.debit < 0 && cols.credit < 0 {
		return cols, fmt.Errorf("no amount, debit, or credit column resolved")
	}
	return cols, nil
}

// resolveColumn maps a name-or-index binding to a field index. Numeric
// bindings pass through unchecked; name bindings match header text
// case-insensitively, exact match first, then substring, first match wins.
func resolveColumn(ref *domain.ColumnRef, header []string) int {
	if ref == nil {
		return -1
	}
	if ref.ByIndex {
		return ref.Index
	}
	want := strings.ToLower(strings.TrimSpace(ref.Name))
	if want == "" {
		return -1
	}
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) == want {
			return i
		}
	}
	for i, h := range header {
		if strings.Contains(strings.ToLower(h), want) {
			return i
		}
	}
	return -1
}

func describeRef(ref *domain.ColumnRef) string {
	if ref == nil {
		return "(unset)"
	}
	if ref.ByIndex {
		return fmt.Sprintf("#%d", ref.Index)
	}
	return fmt.Sprintf("%q", ref.Name)
}

// parseRow extracts one transaction from a data line. A recovered panic or
// any per-row failure becomes a warning (or a silent skip for blank
// descriptions) instead of aborting the parse.
func parseRow(line, delim string, rule *domain.ParsingRule, cols resolvedColumns, rowIdx int) (txn domain.Transaction, warning string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			warning = fmt.Sprintf("row %d: %v", rowIdx+1, r)
			ok = false
		}
	}()

	fields := splitFields(line, delim)

	required := cols.date
	if cols.description > required {
		required = cols.description
	}
	if len(fields) <= required {
		return txn, "", false
	}

	date := parseFlexibleDate(field(fields, cols.date), rule.DateFormat)
	if date == "" {
		return txn, fmt.Sprintf("row %d: unparsable date %q", rowIdx+1, field(fields, cols.date)), false
	}

	description := strings.TrimSpace(field(fields, cols.description))
	if description == "" {
		return txn, "", false
	}

	amount, txnType, ok := resolveAmount(fields, rule, cols)
	if !ok || amount == 0 {
		return txn, "", false
	}

	txn = domain.Transaction{
		Date:        date,
		Description: description,
		Amount:      amount,
		Type:        txnType,
		Confidence:  1.0,
	}
	if cols.balance >= 0 && cols.balance < len(fields) {
		if raw := strings.TrimSpace(fields[cols.balance]); raw != "" {
			b := parseAmount(raw, rule)
			txn.Balance = &b
		}
	}
	if cols.reference >= 0 && cols.reference < len(fields) {
		txn.Reference = strings.TrimSpace(fields[cols.reference])
	}
	return txn, "", true
}

// resolveAmount computes the non-negative magnitude and the credit/debit
// type, either from separate debit/credit columns or from a single signed
// amount column.
func resolveAmount(fields []string, rule *domain.ParsingRule, cols resolvedColumns) (float64, domain.TransactionType, bool) {
	if cols.debit >= 0 || cols.credit >= 0 {
		debit := parseAmount(field(fields, cols.debit), rule)
		credit := parseAmount(field(fields, cols.credit), rule)
		if credit > 0 {
			return credit, domain.TypeCredit, true
		}
		if debit > 0 {
			return debit, domain.TypeDebit, true
		}
		return 0, "", false
	}

	raw := field(fields, cols.amount)
	signed := parseAmount(raw, rule)

	if rule.DebitCreditMode == domain.DetectByKeyword {
		joined := strings.ToLower(strings.Join(fields, " "))
		for _, kw := range rule.DebitKeywords {
			if kw != "" && strings.Contains(joined, strings.ToLower(kw)) {
				return abs(signed), domain.TypeDebit, true
			}
		}
		for _, kw := range rule.CreditKeywords {
			if kw != "" && strings.Contains(joined, strings.ToLower(kw)) {
				return abs(signed), domain.TypeCredit, true
			}
		}
	}

	if signed < 0 {
		return -signed, domain.TypeDebit, true
	}
	return signed, domain.TypeCredit, true
}

func field(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// splitFields splits a delimited line, honoring double-quoted fields.
// A doubled quote inside a quoted field is a literal quote.
func splitFields(line, delim string) []string {
	var (
		fields   []string
		current  strings.Builder
		inQuotes bool
	)
	if delim == "" {
		delim = ","
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				current.WriteByte('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
		case !inQuotes && strings.HasPrefix(line[i:], delim):
			fields = append(fields, current.String())
			current.Reset()
			i += len(delim) - 1
		default:
			current.WriteByte(c)
		}
	}
	fields = append(fields, current.String())
	return fields
}

func nonBlankLines(content string) []string {
	raw := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
