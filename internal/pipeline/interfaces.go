package pipeline

import (
	"context"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

// StatementStore is the document-store surface the orchestrator writes runs
// through.
type StatementStore interface {
	GetStatement(ctx context.Context, statementID string) (*domain.StatementRecord, error)
	UpdateStatement(ctx context.Context, rec *domain.StatementRecord) error
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	UpdateAccount(ctx context.Context, acct *domain.Account) error
	GetTransactionsByAccount(ctx context.Context, accountID string) ([]domain.StoredTransaction, error)
	SaveTransactions(ctx context.Context, txns []*domain.StoredTransaction) error
}

// RuleStore is the parsing-rule surface the CSV path depends on.
type RuleStore interface {
	Find(ctx context.Context, userID, bankIdentifier string) (*domain.ParsingRule, error)
	IncrementUsage(ctx context.Context, ruleID string) error
	PutRule(ctx context.Context, rule *domain.ParsingRule) error
}

// BlobFetcher retrieves the statement file bytes named by a record's fileUrl.
type BlobFetcher interface {
	Fetch(ctx context.Context, fileURL string) ([]byte, error)
}
