// Package cleanup removes a deleted statement's transactions and rolls the
// account counters back. Runs independently of any in-flight extraction and
// is safe to trigger twice: the second pass finds nothing to delete.
package cleanup

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

// Store is the document-store surface the cascade needs.
type Store interface {
	DeleteStatementTransactions(ctx context.Context, statementID string) (int, error)
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	UpdateAccount(ctx context.Context, acct *domain.Account) error
}

// Run deletes every transaction of a statement and decrements the account's
// counters by what was actually deleted. accountID may be empty when the
// statement never reached an account; then only the delete happens.
func Run(ctx context.Context, log zerolog.Logger, store Store, statementID, accountID string) error {
	deleted, err := store.DeleteStatementTransactions(ctx, statementID)
	if err != nil {
		return fmt.Errorf("cascade delete for statement %s: %w", statementID, err)
	}
	log.Info().Str("statementId", statementID).Int("deleted", deleted).Msg("statement transactions removed")

	if accountID == "" || deleted == 0 {
		return nil
	}

	acct, err := store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %s after cascade delete: %w", accountID, err)
	}

	acct.TransactionCount -= int64(deleted)
	if acct.TransactionCount < 0 {
		acct.TransactionCount = 0
	}
	if acct.StatementCount > 0 {
		acct.StatementCount--
	}

	if err := store.UpdateAccount(ctx, acct); err != nil {
		return fmt.Errorf("update account %s after cascade delete: %w", accountID, err)
	}
	return nil
}
