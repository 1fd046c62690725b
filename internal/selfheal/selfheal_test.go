package selfheal

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/bankstmt/internal/domain"
	"github.com/rumor-ml/bankstmt/internal/gemini"
)

type fakeInvoker struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeInvoker) GenerateJSON(_ context.Context, prompt string, _ *gemini.DocumentPart) (string, gemini.TokenUsage, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", gemini.TokenUsage{}, f.err
	}
	return f.response, gemini.TokenUsage{Input: 10, Output: 5}, nil
}

type fakePersister struct {
	saved *domain.ParsingRule
	err   error
}

func (f *fakePersister) PutRule(_ context.Context, rule *domain.ParsingRule) error {
	if f.err != nil {
		return f.err
	}
	f.saved = rule
	return nil
}

// brokenRule binds the date column to a header that does not exist, so the
// parse yields zero rows.
func brokenRule() *domain.ParsingRule {
	return &domain.ParsingRule{
		ID:                "rule-1",
		BankIdentifier:    "test_bank",
		BankDisplayName:   "Test Bank",
		HeaderRow:         0,
		DateColumn:        domain.ColByName("Posting Date"),
		DescriptionColumn: domain.ColByName("Desc"),
		AmountColumn:      domain.ColByName("Amount"),
		DebitCreditMode:   domain.DetectBySign,
	}
}

func statementContent(rows int) string {
	var b strings.Builder
	b.WriteString("Date,Desc,Amount\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "2024-01-%02d,Item %d,-%d.00\n", i%27+1, i, i+1)
	}
	return b.String()
}

func TestShouldAttempt(t *testing.T) {
	rule := brokenRule()
	assert.True(t, ShouldAttempt(nil, statementContent(50), rule))
	assert.False(t, ShouldAttempt(nil, statementContent(5), rule))
	assert.False(t, ShouldAttempt([]domain.Transaction{{}}, statementContent(50), rule))
}

func TestHealSuccess(t *testing.T) {
	fake := &fakeInvoker{response: `{"dateColumn": "Date", "descriptionColumn": "Desc", "amountColumn": "Amount", "bankIdentifier": "hijacked_bank", "id": "other-rule"}`}
	persister := &fakePersister{}
	rule := brokenRule()
	content := statementContent(50)

	res := Heal(context.Background(), fake, persister, rule, content, []string{`date column "Posting Date" not found in header`})

	require.NotNil(t, res.Rule)
	assert.Len(t, res.Transactions, 50)

	// Identity fields survive a correction that tries to change them.
	assert.Equal(t, "rule-1", res.Rule.ID)
	assert.Equal(t, "test_bank", res.Rule.BankIdentifier)
	assert.NotNil(t, res.Rule.SelfHealedAt)
	assert.Nil(t, res.Rule.ConfirmedAt)

	require.NotNil(t, persister.saved)
	assert.Equal(t, "rule-1", persister.saved.ID)

	// The prompt carries the failing rule, warnings, and a file sample.
	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], "Posting Date")
	assert.Contains(t, fake.prompts[0], "First 15 lines")
	assert.Contains(t, fake.prompts[0], "Item 0")
}

func TestHealModelFailure(t *testing.T) {
	fake := &fakeInvoker{err: fmt.Errorf("model timeout")}
	res := Heal(context.Background(), fake, &fakePersister{}, brokenRule(), statementContent(50), nil)

	assert.Nil(t, res.Rule)
	assert.Empty(t, res.Transactions)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "repair call failed")
}

func TestHealCorrectionStillBroken(t *testing.T) {
	// Correction points at yet another nonexistent header.
	fake := &fakeInvoker{response: `{"dateColumn": "Transaction Date"}`}
	res := Heal(context.Background(), fake, &fakePersister{}, brokenRule(), statementContent(50), nil)

	assert.Nil(t, res.Rule)
	assert.Empty(t, res.Transactions)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "did not recover")
}

func TestHealPersistFailureIsSoft(t *testing.T) {
	fake := &fakeInvoker{response: `{"dateColumn": "Date"}`}
	persister := &fakePersister{err: fmt.Errorf("store unavailable")}
	res := Heal(context.Background(), fake, persister, brokenRule(), statementContent(50), nil)

	require.NotNil(t, res.Rule)
	assert.Len(t, res.Transactions, 50)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "could not be saved")
}

func TestHealUnusableCorrection(t *testing.T) {
	fake := &fakeInvoker{response: `"just a string"`}
	res := Heal(context.Background(), fake, &fakePersister{}, brokenRule(), statementContent(50), nil)

	assert.Nil(t, res.Rule)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "unusable correction")
}
