// Package dedup filters newly extracted transactions against previously
// stored rows and against the current batch via SHA256 signatures.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

// Signature builds the strict duplicate fingerprint for a transaction:
// SHA256("{date}|{type}|{amount}|{balance}") with amounts formatted to two
// decimal places and a missing balance spelled "null". Returns false for
// transactions that fail basic validity; those are dropped before any
// comparison.
func Signature(t *domain.Transaction) (string, bool) {
	if !t.Valid() {
		return "", false
	}
	return fingerprint(t.Date, t.Type, t.Amount, t.Balance), true
}

func fingerprint(date string, txnType domain.TransactionType, amount float64, balance *float64) string {
	b := "null"
	if balance != nil {
		b = fmt.Sprintf("%.2f", *balance)
	}
	input := fmt.Sprintf("%s|%s|%.2f|%s", date, txnType, amount, b)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// Result reports what Filter kept and why rows were dropped.
type Result struct {
	Kept       []domain.Transaction
	Duplicates int
	Invalid    int
}

// Filter returns the incoming transactions that are neither invalid nor
// duplicates. A row is a duplicate when its signature matches an existing
// stored transaction or an earlier row in the same batch; the in-batch check
// protects against one run emitting the same transaction twice, e.g. via
// page overlap.
func Filter(existing []domain.StoredTransaction, incoming []domain.Transaction) *Result {
	seen := make(map[string]bool, len(existing)+len(incoming))
	for i := range existing {
		e := &existing[i]
		seen[fingerprint(e.Date, e.Type, e.Amount, e.Balance)] = true
	}

	res := &Result{}
	for _, t := range incoming {
		sig, ok := Signature(&t)
		if !ok {
			res.Invalid++
			continue
		}
		if seen[sig] {
			res.Duplicates++
			continue
		}
		seen[sig] = true
		res.Kept = append(res.Kept, t)
	}
	return res
}
