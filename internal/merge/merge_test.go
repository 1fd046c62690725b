package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

func f(v float64) *float64 { return &v }

func TestMergeOrdersAndAggregates(t *testing.T) {
	results := []*domain.PageResult{
		{
			Page:           2,
			Transactions:   []domain.Transaction{{Date: "2024-01-20", Description: "Rent", Amount: 900, Type: domain.TypeDebit}},
			ClosingBalance: f(100.00),
			Confidence:     0.9,
			TokensInput:    200,
			TokensOutput:   80,
		},
		{
			Page:           1,
			Transactions:   []domain.Transaction{{Date: "2024-01-05", Description: "Salary", Amount: 2000, Type: domain.TypeCredit}},
			OpeningBalance: f(1000.00),
			ClosingBalance: f(3000.00),
			PeriodStart:    "2024-01-01",
			PeriodEnd:      "2024-01-31",
			Confidence:     1.0,
			TokensInput:    100,
			TokensOutput:   40,
		},
	}

	m := Merge(results, nil)

	require.Len(t, m.Transactions, 2)
	assert.Equal(t, "Salary", m.Transactions[0].Description)
	assert.Equal(t, "Rent", m.Transactions[1].Description)

	require.NotNil(t, m.OpeningBalance)
	assert.Equal(t, 1000.00, *m.OpeningBalance)
	require.NotNil(t, m.ClosingBalance)
	assert.Equal(t, 100.00, *m.ClosingBalance)

	assert.Equal(t, "2024-01-01", m.PeriodStart)
	assert.Equal(t, "2024-01-31", m.PeriodEnd)
	assert.InDelta(t, 0.95, m.Confidence, 1e-9)
	assert.Equal(t, int64(300), m.TokensInput)
	assert.Equal(t, int64(120), m.TokensOutput)
}

func TestMergeSingleUnitClosingBalance(t *testing.T) {
	m := Merge([]*domain.PageResult{{
		Page:           1,
		OpeningBalance: f(500.00),
		ClosingBalance: f(750.00),
	}}, nil)

	require.NotNil(t, m.ClosingBalance)
	assert.Equal(t, 750.00, *m.ClosingBalance)
}

func TestMergeContextFallback(t *testing.T) {
	docCtx := &domain.DocumentContext{
		OpeningBalance: f(1.00),
		ClosingBalance: f(2.00),
		PeriodStart:    "2024-02-01",
		PeriodEnd:      "2024-02-29",
	}
	m := Merge([]*domain.PageResult{{Page: 1}}, docCtx)

	require.NotNil(t, m.OpeningBalance)
	assert.Equal(t, 1.00, *m.OpeningBalance)
	assert.Equal(t, "2024-02-29", m.PeriodEnd)
}

func TestStitchContinuationType(t *testing.T) {
	txns := []domain.Transaction{
		{Date: "2024-01-05", Description: "Transfer to J Smith", Amount: 50, Type: domain.TypeDebit},
		{Description: "ref 12345 London", Type: domain.TypeContinuation},
		{Date: "2024-01-06", Description: "Coffee", Amount: 3, Type: domain.TypeDebit},
	}

	out := stitch(txns)
	require.Len(t, out, 2)
	assert.Equal(t, "Transfer to J Smith ref 12345 London", out[0].Description)
	assert.Equal(t, "Coffee", out[1].Description)
}

func TestStitchExplicitMarker(t *testing.T) {
	txns := []domain.Transaction{
		{Date: "2024-01-05", Description: "Payment", Amount: 10, Type: domain.TypeDebit},
		{Description: "second half", Continuation: true},
	}

	out := stitch(txns)
	require.Len(t, out, 1)
	assert.Equal(t, "Payment second half", out[0].Description)
}

func TestStitchZeroAmountHeuristic(t *testing.T) {
	txns := []domain.Transaction{
		{Date: "2024-01-05", Description: "Standing order", Amount: 25, Type: domain.TypeDebit},
		{Description: "42 High Street"}, // address fragment, zero amount
		{Date: "2024-01-06", Description: "Groceries", Amount: 30, Type: domain.TypeDebit},
	}

	out := stitch(txns)
	require.Len(t, out, 2)
	assert.Equal(t, "Standing order 42 High Street", out[0].Description)
}

func TestStitchLeadingFragmentDropped(t *testing.T) {
	txns := []domain.Transaction{
		{Description: "orphan tail", Type: domain.TypeContinuation},
		{Date: "2024-01-05", Description: "Real", Amount: 5, Type: domain.TypeDebit},
	}

	out := stitch(txns)
	require.Len(t, out, 1)
	assert.Equal(t, "Real", out[0].Description)
}

func TestLooksLikeContinuation(t *testing.T) {
	positive := []string{
		"HSBC",
		"NWBKGB2L",
		"20-00-00",
		"42 High Street",
		"John Smith Esquire",
		"sort code 12-34-56",
		"IBAN GB29NWBK60161331926819",
		"balance carried forward",
	}
	for _, desc := range positive {
		assert.True(t, looksLikeContinuation(desc), "expected continuation: %q", desc)
	}

	negative := []string{
		"",
		"Tesco Stores 3042",
		"Amazon.co.uk",
		"Payment received - thank you",
		"card payment",
	}
	for _, desc := range negative {
		assert.False(t, looksLikeContinuation(desc), "expected transaction: %q", desc)
	}
}
