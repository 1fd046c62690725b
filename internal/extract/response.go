package extract

import (
	"encoding/json"
	"fmt"

	"github.com/rumor-ml/bankstmt/internal/domain"
	"github.com/rumor-ml/bankstmt/internal/gemini"
)

// Model responses are decoded through map[string]any with typed accessors,
// never straight into structs: the model adds fields freely and a surprise
// shape must degrade, not corrupt control flow.

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func getOptionalFloat(m map[string]any, key string) *float64 {
	if _, ok := m[key]; !ok {
		return nil
	}
	if m[key] == nil {
		return nil
	}
	f := getFloat(m, key)
	return &f
}

func getInt(m map[string]any, key string) int {
	return int(getFloat(m, key))
}

func getBool(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func getSlice(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

func getStrings(m map[string]any, key string) []string {
	var out []string
	for _, v := range getSlice(m, key) {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// decodeObject parses cleaned model output into a generic map. An array
// response takes element 0, matching the tolerance the rest of the pipeline
// promises.
func decodeObject(raw string) (map[string]any, error) {
	clean := gemini.CleanJSON(raw)

	var parsed any
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal model JSON: %w", err)
	}

	switch v := parsed.(type) {
	case map[string]any:
		return v, nil
	case []any:
		if len(v) > 0 {
			if obj, ok := v[0].(map[string]any); ok {
				return obj, nil
			}
		}
		return nil, fmt.Errorf("model returned an array with no object element")
	}
	return nil, fmt.Errorf("model returned JSON of unexpected kind")
}

// decodeTransaction maps one model transaction object onto the typed record.
func decodeTransaction(m map[string]any) domain.Transaction {
	txn := domain.Transaction{
		Date:         getString(m, "date"),
		Description:  getString(m, "description"),
		Amount:       getFloat(m, "amount"),
		Type:         domain.TransactionType(getString(m, "type")),
		Balance:      getOptionalFloat(m, "balance"),
		Reference:    getString(m, "reference"),
		Category:     getString(m, "category"),
		Confidence:   getFloat(m, "confidence"),
		Continuation: getBool(m, "continuation"),
	}
	if txn.Amount < 0 {
		txn.Amount = -txn.Amount
		if txn.Type == "" {
			txn.Type = domain.TypeDebit
		}
	}
	return txn
}

func decodeTransactions(items []any) []domain.Transaction {
	var out []domain.Transaction
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, decodeTransaction(m))
		}
	}
	return out
}

// decodePageResult maps a pass-2 response object onto a PageResult. The
// model's confidence and warnings pass through unmodified; a missing
// confidence defaults to 1 so an older prompt shape does not force review.
func decodePageResult(m map[string]any, page int) *domain.PageResult {
	result := &domain.PageResult{
		Page:           page,
		Transactions:   decodeTransactions(getSlice(m, "transactions")),
		OpeningBalance: getOptionalFloat(m, "openingBalance"),
		ClosingBalance: getOptionalFloat(m, "closingBalance"),
		PeriodStart:    getString(m, "periodStart"),
		PeriodEnd:      getString(m, "periodEnd"),
		Confidence:     getFloat(m, "confidence"),
		Warnings:       getStrings(m, "warnings"),
	}
	if _, ok := m["confidence"]; !ok {
		result.Confidence = 1.0
	}
	return result
}

// decodeDocumentContext maps a pass-1 response onto DocumentContext,
// stashing unrecognized keys in the Extra side-maps.
func decodeDocumentContext(m map[string]any) *domain.DocumentContext {
	doc := &domain.DocumentContext{
		TotalPages:     getInt(m, "totalPages"),
		PeriodStart:    getString(m, "periodStart"),
		PeriodEnd:      getString(m, "periodEnd"),
		OpeningBalance: getOptionalFloat(m, "openingBalance"),
		ClosingBalance: getOptionalFloat(m, "closingBalance"),
		Currency:       getString(m, "currency"),
		Extra:          extraKeys(m, "totalPages", "periodStart", "periodEnd", "openingBalance", "closingBalance", "currency", "transactions", "multiPageTransactions"),
	}
	for _, item := range getSlice(m, "transactions") {
		tm, ok := item.(map[string]any)
		if !ok {
			continue
		}
		doc.Transactions = append(doc.Transactions, domain.TransactionSummary{
			Page:              getInt(tm, "page"),
			Date:              getString(tm, "date"),
			Description:       getString(tm, "description"),
			Amount:            getFloat(tm, "amount"),
			ContinuesNext:     getBool(tm, "continuesOnNextPage"),
			ContinuedFromPrev: getBool(tm, "continuedFromPreviousPage"),
			Extra:             extraKeys(tm, "page", "date", "description", "amount", "continuesOnNextPage", "continuedFromPreviousPage"),
		})
	}
	for _, item := range getSlice(m, "multiPageTransactions") {
		mm, ok := item.(map[string]any)
		if !ok {
			continue
		}
		span := domain.MultiPageTransaction{
			Description: getString(mm, "description"),
			Extra:       extraKeys(mm, "description", "pages"),
		}
		for _, p := range getSlice(mm, "pages") {
			if f, ok := p.(float64); ok {
				span.Pages = append(span.Pages, int(f))
			}
		}
		doc.MultiPage = append(doc.MultiPage, span)
	}
	return doc
}

func extraKeys(m map[string]any, known ...string) map[string]any {
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}
	var extra map[string]any
	for k, v := range m {
		if !knownSet[k] {
			if extra == nil {
				extra = make(map[string]any)
			}
			extra[k] = v
		}
	}
	return extra
}
