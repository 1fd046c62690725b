// Package merge combines per-unit extraction results into one ordered
// transaction list with statement-level balances and period bounds, folding
// page-boundary continuation fragments back into their transactions.
package merge

import (
	"sort"
	"strings"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

// Merged is the consolidated output of one extraction run.
type Merged struct {
	Transactions   []domain.Transaction
	OpeningBalance *float64
	ClosingBalance *float64
	PeriodStart    string
	PeriodEnd      string
	Confidence     float64 // average of unit confidences
	Warnings       []string
	TokensInput    int64
	TokensOutput   int64
}

// Merge orders the unit results, concatenates transactions, stitches
// continuations, and derives statement-level fields. docCtx may be nil.
func Merge(results []*domain.PageResult, docCtx *domain.DocumentContext) *Merged {
	units := make([]*domain.PageResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			units = append(units, r)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Page < units[j].Page })

	m := &Merged{}
	var confidenceSum float64
	var confidenceCount int
	for _, u := range units {
		m.Transactions = append(m.Transactions, u.Transactions...)
		m.Warnings = append(m.Warnings, u.Warnings...)
		m.TokensInput += u.TokensInput
		m.TokensOutput += u.TokensOutput
		if u.Confidence > 0 {
			confidenceSum += u.Confidence
			confidenceCount++
		}
		if m.PeriodStart == "" && u.PeriodStart != "" {
			m.PeriodStart = u.PeriodStart
			m.PeriodEnd = u.PeriodEnd
		}
	}
	if confidenceCount > 0 {
		m.Confidence = confidenceSum / float64(confidenceCount)
	}

	if len(units) > 0 {
		m.OpeningBalance = units[0].OpeningBalance
		m.ClosingBalance = units[len(units)-1].ClosingBalance
	}
	if docCtx != nil {
		if m.OpeningBalance == nil {
			m.OpeningBalance = docCtx.OpeningBalance
		}
		if m.ClosingBalance == nil {
			m.ClosingBalance = docCtx.ClosingBalance
		}
		if m.PeriodStart == "" {
			m.PeriodStart = docCtx.PeriodStart
			m.PeriodEnd = docCtx.PeriodEnd
		}
	}

	m.Transactions = stitch(m.Transactions)
	return m
}

// stitch folds continuation fragments into the preceding real transaction.
// Order-dependent on purpose: continuation text is emitted directly after
// the transaction it belongs to.
func stitch(txns []domain.Transaction) []domain.Transaction {
	var out []domain.Transaction
	for _, t := range txns {
		isContinuation := t.Type == domain.TypeContinuation || t.Continuation ||
			(t.Amount == 0 && looksLikeContinuation(t.Description))
		if isContinuation && len(out) > 0 {
			prev := &out[len(out)-1]
			if text := strings.TrimSpace(t.Description); text != "" {
				prev.Description = strings.TrimSpace(prev.Description) + " " + text
			}
			continue
		}
		if isContinuation {
			// Nothing to attach to; a bare fragment is not a transaction.
			continue
		}
		out = append(out, t)
	}
	return out
}
