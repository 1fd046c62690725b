// Package reconcile decides how a finished extraction run updates the
// account aggregate: counters always move, the running balance only when the
// statement is at least as recent as what the account already reflects.
package reconcile

import "github.com/rumor-ml/bankstmt/internal/domain"

// ShouldUpdateBalance reports whether the statement's closing balance may
// replace the account's running balance. A backfilled older statement must
// never drag the balance backwards.
func ShouldUpdateBalance(acct *domain.Account, periodEnd string) bool {
	if acct.Balance == nil {
		return true
	}
	if acct.LatestPeriodEnd == "" {
		return true
	}
	return periodEnd >= acct.LatestPeriodEnd
}

// Apply mutates the account in place for one completed run: counters bump
// unconditionally, balance and latestPeriodEnd move only when
// ShouldUpdateBalance allows and the statement actually reported a closing
// balance.
func Apply(acct *domain.Account, closingBalance *float64, periodEnd string, transactionsAdded int) {
	acct.TransactionCount += int64(transactionsAdded)
	acct.StatementCount++

	if closingBalance == nil || !ShouldUpdateBalance(acct, periodEnd) {
		return
	}
	acct.Balance = closingBalance
	if periodEnd != "" && periodEnd > acct.LatestPeriodEnd {
		acct.LatestPeriodEnd = periodEnd
	}
}
