// Package pipeline is the extraction orchestrator: it reacts to statement
// records entering pending_extraction, sequences parsing and model passes,
// and leaves every run in exactly one terminal status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rumor-ml/bankstmt/internal/bankname"
	"github.com/rumor-ml/bankstmt/internal/csvparse"
	"github.com/rumor-ml/bankstmt/internal/dedup"
	"github.com/rumor-ml/bankstmt/internal/domain"
	"github.com/rumor-ml/bankstmt/internal/extract"
	"github.com/rumor-ml/bankstmt/internal/gemini"
	"github.com/rumor-ml/bankstmt/internal/logger"
	"github.com/rumor-ml/bankstmt/internal/merge"
	"github.com/rumor-ml/bankstmt/internal/parsers/ofx"
	"github.com/rumor-ml/bankstmt/internal/pdfinfo"
	"github.com/rumor-ml/bankstmt/internal/reconcile"
	"github.com/rumor-ml/bankstmt/internal/rulestore"
	"github.com/rumor-ml/bankstmt/internal/selfheal"
	"github.com/rumor-ml/bankstmt/internal/spreadsheet"
)

// PageBatchSize bounds concurrent model calls within one run.
const PageBatchSize = 5

// Orchestrator runs statement extractions. One instance serves many runs;
// per-run state lives on the stack of Run.
type Orchestrator struct {
	store StatementStore
	rules RuleStore
	blobs BlobFetcher
	model gemini.Invoker

	mu       sync.Mutex
	lastSeen map[string]domain.StatementStatus
}

// New wires an orchestrator.
func New(store StatementStore, rules RuleStore, blobs BlobFetcher, model gemini.Invoker) *Orchestrator {
	return &Orchestrator{
		store:    store,
		rules:    rules,
		blobs:    blobs,
		model:    model,
		lastSeen: make(map[string]domain.StatementStatus),
	}
}

// HandleStatusChange is the entry guard. It starts a run only when the
// record transitions into pending_extraction from some other state, which
// makes duplicate trigger deliveries harmless. Returns whether a run was
// started.
func (o *Orchestrator) HandleStatusChange(ctx context.Context, rec *domain.StatementRecord) bool {
	o.mu.Lock()
	prev, seen := o.lastSeen[rec.ID]
	o.lastSeen[rec.ID] = rec.Status
	o.mu.Unlock()

	if rec.Status != domain.StatusPendingExtraction {
		return false
	}
	if seen && prev == domain.StatusPendingExtraction {
		return false
	}

	if err := o.Run(ctx, rec.ID); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("statementId", rec.ID).Msg("extraction run failed")
	}
	return true
}

// HandleDeparture clears the entry guard once a statement leaves
// pending_extraction, so a later reset back into pending starts a fresh
// run. Also keeps the guard map from growing without bound.
func (o *Orchestrator) HandleDeparture(statementID string) {
	o.mu.Lock()
	delete(o.lastSeen, statementID)
	o.mu.Unlock()
}

// Run executes one extraction end to end. Whatever happens, the statement
// record ends in a terminal status: a panic or error anywhere becomes
// failed with the message recorded.
func (o *Orchestrator) Run(ctx context.Context, statementID string) (err error) {
	log := logger.FromContext(ctx).With().Str("statementId", statementID).Logger()
	ctx = logger.WithContext(ctx, log)

	rec, err := o.store.GetStatement(ctx, statementID)
	if err != nil {
		return fmt.Errorf("load statement %s: %w", statementID, err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction run panicked: %v", r)
			o.fail(ctx, rec, err.Error())
		}
	}()

	if rec.UserID == "" || rec.AccountID == "" || rec.FileURL == "" {
		o.fail(ctx, rec, "statement record is missing userId, accountId, or fileUrl")
		return nil
	}

	o.setStatus(ctx, rec, domain.StatusExtracting, 5)

	content, err := o.blobs.Fetch(ctx, rec.FileURL)
	if err != nil {
		o.fail(ctx, rec, fmt.Sprintf("could not fetch statement file: %v", err))
		return nil
	}

	kind := detectFileKind(rec)
	log.Info().Str("kind", string(kind)).Int("bytes", len(content)).Msg("extraction started")

	var (
		results []*domain.PageResult
		docCtx  *domain.DocumentContext
	)

	switch kind {
	case kindOFX:
		unit, parseErr := ofx.Parse(content)
		if parseErr != nil {
			o.fail(ctx, rec, fmt.Sprintf("could not parse OFX file: %v", parseErr))
			return nil
		}
		results = []*domain.PageResult{unit}

	case kindCSV, kindSpreadsheet:
		text := string(content)
		if kind == kindSpreadsheet {
			text, err = spreadsheet.ToCSV(content)
			if err != nil {
				o.fail(ctx, rec, fmt.Sprintf("could not read spreadsheet: %v", err))
				return nil
			}
		}
		results, err = o.runDelimited(ctx, rec, text)
		if err != nil {
			o.fail(ctx, rec, err.Error())
			return nil
		}
		if results == nil {
			// Terminal without extraction: needs_rules_confirmation.
			return nil
		}

	case kindPDF, kindImage:
		results, docCtx = o.runPaged(ctx, rec, content, kind)

	default:
		o.fail(ctx, rec, fmt.Sprintf("unsupported statement file type %q (%s)", rec.FileType, rec.OriginalFileName))
		return nil
	}

	if err := o.finish(ctx, rec, results, docCtx); err != nil {
		o.fail(ctx, rec, fmt.Sprintf("could not persist extraction results: %v", err))
	}
	return nil
}

// runDelimited handles CSV and converted spreadsheets: confirmed rule,
// programmatic parse, self-healing, and the model fallback. A nil result
// slice with nil error means the run already ended in
// needs_rules_confirmation.
func (o *Orchestrator) runDelimited(ctx context.Context, rec *domain.StatementRecord, text string) ([]*domain.PageResult, error) {
	log := logger.FromContext(ctx)
	bankID := bankname.Identifier(rec.BankName)

	rule, err := o.rules.Find(ctx, rec.UserID, bankID)
	if errors.Is(err, rulestore.ErrNotFound) {
		o.setStatus(ctx, rec, domain.StatusNeedsRulesConfirmation, rec.Progress)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not look up parsing rules for bank %q: %v", bankID, err)
	}
	if !rule.Confirmed() {
		o.setStatus(ctx, rec, domain.StatusNeedsRulesConfirmation, rec.Progress)
		return nil, nil
	}

	o.setStatus(ctx, rec, domain.StatusExtracting, 20)
	txns, warnings := csvparse.Parse(text, rule)
	rec.AddWarnings(warnings...)

	if selfheal.ShouldAttempt(txns, text, rule) {
		o.setStatus(ctx, rec, domain.StatusSelfHealing, 30)
		log.Info().Str("ruleId", rule.ID).Msg("zero rows parsed, attempting rule repair")

		res := selfheal.Heal(ctx, o.model, o.rules, rule, text, warnings)
		rec.AddWarnings(res.Warnings...)
		rec.TokensInput += res.Usage.Input
		rec.TokensOutput += res.Usage.Output
		if len(res.Transactions) > 0 {
			txns = res.Transactions
			rule = res.Rule
		}
		o.setStatus(ctx, rec, domain.StatusExtracting, 40)
	}

	if len(txns) == 0 {
		rec.AddWarnings("rule-based parsing produced no transactions, falling back to model extraction")
		return o.runChunks(ctx, rec, text), nil
	}

	if err := o.rules.IncrementUsage(ctx, rule.ID); err != nil {
		log.Warn().Err(err).Str("ruleId", rule.ID).Msg("could not increment rule usage")
	}

	return []*domain.PageResult{{
		Page:         1,
		Transactions: txns,
		Confidence:   1.0,
	}}, nil
}

// runChunks extracts a delimited file through the model in size-bounded
// chunks, concurrently in groups like PDF pages.
func (o *Orchestrator) runChunks(ctx context.Context, rec *domain.StatementRecord, text string) []*domain.PageResult {
	chunks := extract.ChunkCSV(text)
	rec.PagesTotal = len(chunks)
	return o.runBatched(ctx, rec, len(chunks), func(unit int) (*domain.PageResult, error) {
		return extract.ExtractChunk(ctx, o.model, chunks[unit-1], unit-1, len(chunks))
	})
}

// runPaged handles PDFs and images: optional context pass, then per-page
// extraction in bounded concurrency groups.
func (o *Orchestrator) runPaged(ctx context.Context, rec *domain.StatementRecord, content []byte, kind fileKind) ([]*domain.PageResult, *domain.DocumentContext) {
	log := logger.FromContext(ctx)
	mime := mimeForKind(kind, rec)

	pages := rec.PageCount
	if pages < 1 {
		if kind == kindPDF {
			if n, err := pdfinfo.PageCount(content); err == nil {
				pages = n
			} else {
				rec.AddWarnings(fmt.Sprintf("could not count PDF pages, assuming one: %v", err))
				pages = 1
			}
		} else {
			pages = 1
		}
	}
	rec.PagesTotal = pages

	var docCtx *domain.DocumentContext
	if pages > 1 {
		var usage gemini.TokenUsage
		var warnings []string
		docCtx, usage, warnings = extract.ScanDocument(ctx, o.model, content, mime)
		rec.AddWarnings(warnings...)
		rec.TokensInput += usage.Input
		rec.TokensOutput += usage.Output
		o.setStatus(ctx, rec, domain.StatusExtracting, 15)
		log.Info().Int("pages", pages).Bool("context", docCtx != nil).Msg("document scan finished")
	}

	results := o.runBatched(ctx, rec, pages, func(page int) (*domain.PageResult, error) {
		return extract.ExtractPage(ctx, o.model, content, mime, page, docCtx)
	})
	return results, docCtx
}

// runBatched issues unit extractions in groups of PageBatchSize with a join
// between groups. A failed call degrades to an empty unit result with a
// warning instead of aborting the batch. Progress is published after every
// group.
func (o *Orchestrator) runBatched(ctx context.Context, rec *domain.StatementRecord, units int, call func(unit int) (*domain.PageResult, error)) []*domain.PageResult {
	results := make([]*domain.PageResult, units)

	for start := 0; start < units; start += PageBatchSize {
		end := start + PageBatchSize
		if end > units {
			end = units
		}

		var wg sync.WaitGroup
		for unit := start + 1; unit <= end; unit++ {
			wg.Add(1)
			go func(unit int) {
				defer wg.Done()
				res, err := call(unit)
				if err != nil {
					res = &domain.PageResult{
						Page:     unit,
						Warnings: []string{fmt.Sprintf("unit %d extraction failed: %v", unit, err)},
					}
				}
				results[unit-1] = res
			}(unit)
		}
		wg.Wait()

		rec.PagesCompleted = end
		progress := 15 + (75*end)/units
		// Progress never regresses within a run; the model fallback after
		// self-healing would otherwise publish a lower percentage.
		if progress < rec.Progress {
			progress = rec.Progress
		}
		o.setStatus(ctx, rec, domain.StatusExtracting, progress)
	}
	return results
}

// finish merges, deduplicates, persists, reconciles, and picks the terminal
// status.
func (o *Orchestrator) finish(ctx context.Context, rec *domain.StatementRecord, results []*domain.PageResult, docCtx *domain.DocumentContext) error {
	log := logger.FromContext(ctx)

	merged := merge.Merge(results, docCtx)
	rec.AddWarnings(merged.Warnings...)
	rec.TokensInput += merged.TokensInput
	rec.TokensOutput += merged.TokensOutput

	existing, err := o.store.GetTransactionsByAccount(ctx, rec.AccountID)
	if err != nil {
		return fmt.Errorf("load existing transactions: %w", err)
	}

	filtered := dedup.Filter(existing, merged.Transactions)
	log.Info().
		Int("extracted", len(merged.Transactions)).
		Int("kept", len(filtered.Kept)).
		Int("duplicates", filtered.Duplicates).
		Int("invalid", filtered.Invalid).
		Msg("deduplication finished")

	stored := make([]*domain.StoredTransaction, 0, len(filtered.Kept))
	for _, txn := range filtered.Kept {
		st, err := domain.NewStoredTransaction(uuid.NewString(), txn, rec.UserID, rec.AccountID, rec.ID)
		if err != nil {
			rec.AddWarnings(fmt.Sprintf("transaction dropped at persistence: %v", err))
			continue
		}
		stored = append(stored, st)
	}
	if err := o.store.SaveTransactions(ctx, stored); err != nil {
		return fmt.Errorf("save transactions: %w", err)
	}

	acct, err := o.store.GetAccount(ctx, rec.AccountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	reconcile.Apply(acct, merged.ClosingBalance, merged.PeriodEnd, len(stored))
	if err := o.store.UpdateAccount(ctx, acct); err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	rec.OpeningBalance = merged.OpeningBalance
	rec.ClosingBalance = merged.ClosingBalance
	rec.PeriodStart = merged.PeriodStart
	rec.PeriodEnd = merged.PeriodEnd
	rec.TransactionCount = len(stored)

	status := domain.StatusCompleted
	if needsReview(merged) {
		status = domain.StatusNeedsReview
	}
	o.setStatus(ctx, rec, status, 100)
	log.Info().Str("status", string(status)).Int("stored", len(stored)).Msg("extraction finished")
	return nil
}

// needsReview applies the quality gate: low average run confidence or any
// individually doubtful transaction surfaces the run for human review.
func needsReview(merged *merge.Merged) bool {
	if merged.Confidence > 0 && merged.Confidence < domain.ReviewRunConfidence {
		return true
	}
	for _, t := range merged.Transactions {
		if t.Confidence > 0 && t.Confidence < domain.ReviewTransactionConfidence {
			return true
		}
	}
	return false
}

// setStatus publishes a status/progress update. Best-effort: a failed write
// is logged and the run carries on with its in-memory record.
func (o *Orchestrator) setStatus(ctx context.Context, rec *domain.StatementRecord, status domain.StatementStatus, progress int) {
	rec.Status = status
	rec.Progress = progress
	if err := o.store.UpdateStatement(ctx, rec); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("status", string(status)).Msg("could not publish status update")
	}
}

// fail stamps the terminal failed state with a human-readable message.
func (o *Orchestrator) fail(ctx context.Context, rec *domain.StatementRecord, message string) {
	log := logger.FromContext(ctx)
	log.Error().Str("reason", message).Msg("extraction failed")
	rec.Status = domain.StatusFailed
	rec.ErrorMessage = message
	if err := o.store.UpdateStatement(ctx, rec); err != nil {
		log.Error().Err(err).Msg("could not record failure")
	}
}
