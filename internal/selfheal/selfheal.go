// Package selfheal repairs a parsing rule that produced zero transactions
// from a file that visibly holds data. One model call, one re-parse, then
// give up: repair is a soft path, never a loop.
package selfheal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rumor-ml/bankstmt/internal/csvparse"
	"github.com/rumor-ml/bankstmt/internal/domain"
	"github.com/rumor-ml/bankstmt/internal/gemini"
)

// MinCandidateRows is the trigger floor: zero parsed transactions from a
// file with more data rows than this points at the rule, not the data.
const MinCandidateRows = 10

// sampleLines bounds how much raw file text the repair prompt carries.
const sampleLines = 15

// Persister saves a corrected rule so future statements from the same bank
// skip the repair.
type Persister interface {
	PutRule(ctx context.Context, rule *domain.ParsingRule) error
}

// Result is the outcome of one repair attempt.
type Result struct {
	Rule         *domain.ParsingRule // corrected rule, nil if repair failed
	Transactions []domain.Transaction
	Warnings     []string
	Usage        gemini.TokenUsage
}

// ShouldAttempt reports whether the zero-transaction outcome qualifies for
// repair.
func ShouldAttempt(parsed []domain.Transaction, content string, rule *domain.ParsingRule) bool {
	return len(parsed) == 0 && csvparse.CountCandidateRows(content, rule) > MinCandidateRows
}

// Heal asks the model for a corrected rule, re-parses with it, and persists
// the fix when the re-parse produces transactions. Failure at any step
// degrades to warnings plus zero transactions.
func Heal(ctx context.Context, model gemini.Invoker, store Persister, rule *domain.ParsingRule, content string, parseWarnings []string) *Result {
	res := &Result{}

	prompt, err := repairPrompt(rule, content, parseWarnings)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("rule repair skipped: %v", err))
		return res
	}

	raw, usage, err := model.GenerateJSON(ctx, prompt, nil)
	res.Usage = usage
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("rule repair call failed: %v", err))
		return res
	}

	healed, err := mergeCorrection(rule, gemini.CleanJSON(raw))
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("rule repair returned an unusable correction: %v", err))
		return res
	}

	txns, warnings := csvparse.Parse(content, healed)
	if len(txns) == 0 {
		res.Warnings = append(res.Warnings, "rule repair did not recover any transactions")
		res.Warnings = append(res.Warnings, warnings...)
		return res
	}

	now := time.Now()
	healed.SelfHealedAt = &now
	if err := store.PutRule(ctx, healed); err != nil {
		// The fix worked for this run even if it could not be saved.
		res.Warnings = append(res.Warnings, fmt.Sprintf("corrected rule could not be saved: %v", err))
	}

	res.Rule = healed
	res.Transactions = txns
	res.Warnings = append(res.Warnings, warnings...)
	return res
}

func repairPrompt(rule *domain.ParsingRule, content string, parseWarnings []string) (string, error) {
	ruleJSON, err := json.MarshalIndent(rule, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal rule: %w", err)
	}

	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	if len(lines) > sampleLines {
		lines = lines[:sampleLines]
	}

	var b strings.Builder
	b.WriteString("A CSV parsing rule extracted zero transactions from a bank statement export that clearly contains data. The rule is wrong. Correct it.\n\n")
	b.WriteString("Current rule:\n")
	b.Write(ruleJSON)
	b.WriteString("\n\n")
	if len(parseWarnings) > 0 {
		b.WriteString("Parser warnings:\n")
		for _, w := range parseWarnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "First %d lines of the file:\n", len(lines))
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteString(`
Return STRICT JSON only: the corrected rule object with the same field names as the current rule. Column bindings may be header names (strings) or zero-based indexes (numbers). Adjust only what is wrong; keep correct fields as they are.`)
	return b.String(), nil
}

// mergeCorrection overlays the model's correction onto the original rule.
// Identity fields always come from the original so a sloppy correction
// cannot point the rule at another bank.
func mergeCorrection(original *domain.ParsingRule, correctionJSON string) (*domain.ParsingRule, error) {
	origJSON, err := json.Marshal(original)
	if err != nil {
		return nil, fmt.Errorf("marshal original rule: %w", err)
	}

	var base map[string]json.RawMessage
	if err := json.Unmarshal(origJSON, &base); err != nil {
		return nil, fmt.Errorf("decode original rule: %w", err)
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal([]byte(correctionJSON), &overlay); err != nil {
		return nil, fmt.Errorf("decode correction: %w", err)
	}

	for k, v := range overlay {
		switch k {
		case "id", "bankIdentifier", "bankDisplayName", "createdBy", "createdAt", "confirmedAt", "usageCount", "lastUsedAt", "selfHealedAt":
			continue
		}
		base[k] = v
	}

	mergedJSON, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshal merged rule: %w", err)
	}
	var merged domain.ParsingRule
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("decode merged rule: %w", err)
	}
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("merged rule invalid: %w", err)
	}
	return &merged, nil
}
