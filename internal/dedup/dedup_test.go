package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

func f(v float64) *float64 { return &v }

func txn(date string, amount float64, txnType domain.TransactionType) domain.Transaction {
	return domain.Transaction{Date: date, Description: "item", Amount: amount, Type: txnType}
}

func TestSignatureStable(t *testing.T) {
	a := txn("2024-01-05", 4.50, domain.TypeDebit)
	b := txn("2024-01-05", 4.50, domain.TypeDebit)
	b.Description = "a different description"

	sigA, okA := Signature(&a)
	sigB, okB := Signature(&b)
	require.True(t, okA)
	require.True(t, okB)
	// Description is deliberately outside the signature.
	assert.Equal(t, sigA, sigB)
}

func TestSignatureDiscriminates(t *testing.T) {
	base := txn("2024-01-05", 4.50, domain.TypeDebit)
	baseSig, _ := Signature(&base)

	variants := []domain.Transaction{
		txn("2024-01-06", 4.50, domain.TypeDebit),
		txn("2024-01-05", 4.51, domain.TypeDebit),
		txn("2024-01-05", 4.50, domain.TypeCredit),
	}
	withBalance := txn("2024-01-05", 4.50, domain.TypeDebit)
	withBalance.Balance = f(100.00)
	variants = append(variants, withBalance)

	for _, v := range variants {
		sig, ok := Signature(&v)
		require.True(t, ok)
		assert.NotEqual(t, baseSig, sig)
	}
}

func TestSignatureRejectsInvalid(t *testing.T) {
	invalid := []domain.Transaction{
		{Description: "no date", Amount: 1, Type: domain.TypeDebit},
		{Date: "05/01/2024", Description: "bad date", Amount: 1, Type: domain.TypeDebit},
		{Date: "2024-01-05", Description: "zero amount", Type: domain.TypeDebit},
		{Date: "2024-01-05", Description: "continuation", Amount: 1, Type: domain.TypeContinuation},
	}
	for _, v := range invalid {
		_, ok := Signature(&v)
		assert.False(t, ok, "%q should not produce a signature", v.Description)
	}
}

func TestFilterAgainstExisting(t *testing.T) {
	existing := []domain.StoredTransaction{
		{Date: "2024-01-05", Description: "old", Amount: 4.50, Type: domain.TypeDebit},
	}
	incoming := []domain.Transaction{
		txn("2024-01-05", 4.50, domain.TypeDebit), // duplicate of stored
		txn("2024-01-06", 2000.00, domain.TypeCredit),
	}

	res := Filter(existing, incoming)
	require.Len(t, res.Kept, 1)
	assert.Equal(t, "2024-01-06", res.Kept[0].Date)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 0, res.Invalid)
}

func TestFilterInBatch(t *testing.T) {
	incoming := []domain.Transaction{
		txn("2024-01-06", 2000.00, domain.TypeCredit),
		txn("2024-01-06", 2000.00, domain.TypeCredit), // same-batch repeat
	}

	res := Filter(nil, incoming)
	assert.Len(t, res.Kept, 1)
	assert.Equal(t, 1, res.Duplicates)
}

func TestFilterDropsInvalidSilently(t *testing.T) {
	incoming := []domain.Transaction{
		{Description: "no date", Amount: 1, Type: domain.TypeDebit},
		txn("2024-01-06", 5.00, domain.TypeDebit),
	}

	res := Filter(nil, incoming)
	assert.Len(t, res.Kept, 1)
	assert.Equal(t, 1, res.Invalid)
}

func TestFilterIdempotent(t *testing.T) {
	existing := []domain.StoredTransaction{
		{Date: "2024-01-01", Description: "stored", Amount: 10, Type: domain.TypeDebit},
	}
	batch := []domain.Transaction{
		txn("2024-01-05", 4.50, domain.TypeDebit),
		txn("2024-01-06", 2000.00, domain.TypeCredit),
	}

	first := Filter(existing, batch)
	require.Len(t, first.Kept, 2)

	// Simulate persistence of the first run, then run the same batch again.
	for _, k := range first.Kept {
		existing = append(existing, domain.StoredTransaction{
			Date: k.Date, Description: k.Description, Amount: k.Amount, Type: k.Type, Balance: k.Balance,
		})
	}
	second := Filter(existing, batch)
	assert.Empty(t, second.Kept)
	assert.Equal(t, 2, second.Duplicates)
}
