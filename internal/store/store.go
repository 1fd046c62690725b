// Package store wraps Firestore with the statement pipeline's document
// operations: statement status records, account aggregates, and persisted
// transactions.
package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

const (
	statementsCollection   = "statements"
	accountsCollection     = "accounts"
	transactionsCollection = "transactions"
)

// maxBatchWrites stays under Firestore's 500-writes-per-batch limit.
const maxBatchWrites = 450

// Client wraps the Firestore client with pipeline-specific operations.
type Client struct {
	Firestore *firestore.Client
	Auth      *auth.Client
	projectID string
}

// NewClient initializes the Firebase app and its Firestore and Auth clients.
// Credentials come from the environment unless credsPath names a file.
func NewClient(ctx context.Context, projectID, credsPath string) (*Client, error) {
	conf := &firebase.Config{ProjectID: projectID}

	var opts []option.ClientOption
	if credsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credsPath))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		firestoreClient.Close()
		return nil, fmt.Errorf("failed to create Auth client: %w", err)
	}

	return &Client{
		Firestore: firestoreClient,
		Auth:      authClient,
		projectID: projectID,
	}, nil
}

// Close closes the underlying Firestore client.
func (c *Client) Close() error {
	return c.Firestore.Close()
}

// GetStatement retrieves one statement status record.
func (c *Client) GetStatement(ctx context.Context, statementID string) (*domain.StatementRecord, error) {
	doc, err := c.Firestore.Collection(statementsCollection).Doc(statementID).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get statement %s: %w", statementID, err)
	}

	var rec domain.StatementRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to parse statement %s: %w", statementID, err)
	}
	rec.ID = doc.Ref.ID
	return &rec, nil
}

// UpdateStatement writes the full statement record back.
func (c *Client) UpdateStatement(ctx context.Context, rec *domain.StatementRecord) error {
	rec.UpdatedAt = time.Now()
	_, err := c.Firestore.Collection(statementsCollection).Doc(rec.ID).Set(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to update statement %s: %w", rec.ID, err)
	}
	return nil
}

// GetAccount retrieves one account aggregate record.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	doc, err := c.Firestore.Collection(accountsCollection).Doc(accountID).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", accountID, err)
	}

	var acct domain.Account
	if err := doc.DataTo(&acct); err != nil {
		return nil, fmt.Errorf("failed to parse account %s: %w", accountID, err)
	}
	acct.ID = doc.Ref.ID
	return &acct, nil
}

// UpdateAccount writes the full account record back.
func (c *Client) UpdateAccount(ctx context.Context, acct *domain.Account) error {
	acct.UpdatedAt = time.Now()
	_, err := c.Firestore.Collection(accountsCollection).Doc(acct.ID).Set(ctx, acct)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", acct.ID, err)
	}
	return nil
}

// GetTransactionsByAccount loads every stored transaction for an account.
// The dedup engine indexes the result once per run.
func (c *Client) GetTransactionsByAccount(ctx context.Context, accountID string) ([]domain.StoredTransaction, error) {
	iter := c.Firestore.Collection(transactionsCollection).
		Where("accountId", "==", accountID).
		Documents(ctx)

	var txns []domain.StoredTransaction
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate transactions for account %s: %w", accountID, err)
		}

		var txn domain.StoredTransaction
		if err := doc.DataTo(&txn); err != nil {
			return nil, fmt.Errorf("failed to parse transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

// SaveTransactions persists stored transactions in sequential write batches
// under the per-batch limit.
func (c *Client) SaveTransactions(ctx context.Context, txns []*domain.StoredTransaction) error {
	for start := 0; start < len(txns); start += maxBatchWrites {
		end := start + maxBatchWrites
		if end > len(txns) {
			end = len(txns)
		}

		batch := c.Firestore.Batch()
		for _, txn := range txns[start:end] {
			ref := c.Firestore.Collection(transactionsCollection).Doc(txn.ID)
			batch.Set(ref, txn)
		}
		if _, err := batch.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit transaction batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// DeleteStatement removes the statement status record itself.
func (c *Client) DeleteStatement(ctx context.Context, statementID string) error {
	_, err := c.Firestore.Collection(statementsCollection).Doc(statementID).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete statement %s: %w", statementID, err)
	}
	return nil
}

// DeleteStatementTransactions removes every transaction belonging to a
// statement, batch by batch. Returns how many documents were deleted.
// Idempotent: a second call finds nothing and deletes nothing.
func (c *Client) DeleteStatementTransactions(ctx context.Context, statementID string) (int, error) {
	deleted := 0
	for {
		iter := c.Firestore.Collection(transactionsCollection).
			Where("statementId", "==", statementID).
			Limit(maxBatchWrites).
			Documents(ctx)

		batch := c.Firestore.Batch()
		n := 0
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return deleted, fmt.Errorf("failed to iterate transactions for statement %s: %w", statementID, err)
			}
			batch.Delete(doc.Ref)
			n++
		}
		if n == 0 {
			return deleted, nil
		}
		if _, err := batch.Commit(ctx); err != nil {
			return deleted, fmt.Errorf("failed to commit delete batch: %w", err)
		}
		deleted += n
	}
}
