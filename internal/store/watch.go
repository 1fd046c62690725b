package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

// WatchPendingStatements listens to the statements collection and invokes
// handle for every snapshot of a record whose status is pending_extraction.
// Duplicate snapshots of the same document are expected; the caller's entry
// guard decides whether a snapshot starts a run. A document falling out of
// the filtered query, by status change or deletion, is reported through
// departed so the guard can forget it and accept a later reset back into
// pending. Blocks until ctx is canceled or the listen stream fails.
func (c *Client) WatchPendingStatements(ctx context.Context, handle func(rec *domain.StatementRecord), departed func(statementID string)) error {
	snapshots := c.Firestore.Collection(statementsCollection).
		Where("status", "==", string(domain.StatusPendingExtraction)).
		Snapshots(ctx)
	defer snapshots.Stop()

	for {
		snap, err := snapshots.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("statement watch stream failed: %w", err)
		}

		for _, change := range snap.Changes {
			if change.Kind == firestore.DocumentRemoved {
				departed(change.Doc.Ref.ID)
				continue
			}
			var rec domain.StatementRecord
			if err := change.Doc.DataTo(&rec); err != nil {
				continue
			}
			rec.ID = change.Doc.Ref.ID
			handle(&rec)
		}
	}
}
