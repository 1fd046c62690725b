package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/bankstmt/internal/domain"
	"github.com/rumor-ml/bankstmt/internal/gemini"
	"github.com/rumor-ml/bankstmt/internal/rulestore"
)

type fakeStore struct {
	mu       sync.Mutex
	rec      *domain.StatementRecord
	acct     *domain.Account
	existing []domain.StoredTransaction
	saved    []*domain.StoredTransaction
	statuses []domain.StatementStatus
	progress []int
}

func (f *fakeStore) GetStatement(context.Context, string) (*domain.StatementRecord, error) {
	return f.rec, nil
}

func (f *fakeStore) UpdateStatement(_ context.Context, rec *domain.StatementRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, rec.Status)
	f.progress = append(f.progress, rec.Progress)
	return nil
}

func (f *fakeStore) GetAccount(context.Context, string) (*domain.Account, error) {
	if f.acct == nil {
		return nil, fmt.Errorf("account not found")
	}
	return f.acct, nil
}

func (f *fakeStore) UpdateAccount(context.Context, *domain.Account) error { return nil }

func (f *fakeStore) GetTransactionsByAccount(context.Context, string) ([]domain.StoredTransaction, error) {
	return f.existing, nil
}

func (f *fakeStore) SaveTransactions(_ context.Context, txns []*domain.StoredTransaction) error {
	f.saved = append(f.saved, txns...)
	return nil
}

type fakeRules struct {
	rule       *domain.ParsingRule
	findErr    error
	usageBumps int
	putRules   []*domain.ParsingRule
}

func (f *fakeRules) Find(context.Context, string, string) (*domain.ParsingRule, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.rule, nil
}

func (f *fakeRules) IncrementUsage(context.Context, string) error {
	f.usageBumps++
	return nil
}

func (f *fakeRules) PutRule(_ context.Context, rule *domain.ParsingRule) error {
	f.putRules = append(f.putRules, rule)
	return nil
}

type fakeBlobs struct {
	content []byte
	err     error
}

func (f *fakeBlobs) Fetch(context.Context, string) ([]byte, error) {
	return f.content, f.err
}

// fakeModel answers by prompt shape: the context-pass prompt gets a document
// summary, page prompts get a per-page result keyed off the page number.
type fakeModel struct {
	mu         sync.Mutex
	calls      int
	confidence float64
}

var pageNumberRe = regexp.MustCompile(`from page (\d+) of`)

func (f *fakeModel) GenerateJSON(_ context.Context, prompt string, _ *gemini.DocumentPart) (string, gemini.TokenUsage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	usage := gemini.TokenUsage{Input: 100, Output: 50}
	conf := f.confidence
	if conf == 0 {
		conf = 0.95
	}

	if strings.Contains(prompt, "Examine the ENTIRE") {
		return `{"totalPages": 2, "periodStart": "2024-01-01", "periodEnd": "2024-01-31", "openingBalance": 1000, "closingBalance": 900, "currency": "GBP", "transactions": [], "multiPageTransactions": []}`, usage, nil
	}
	if m := pageNumberRe.FindStringSubmatch(prompt); m != nil {
		page := m[1]
		return fmt.Sprintf(`{"page": %s, "transactions": [{"date": "2024-01-0%s", "description": "Page %s item", "amount": %s.50, "type": "debit", "confidence": %f}], "confidence": %f}`,
			page, page, page, page, conf, conf), usage, nil
	}
	return `{"transactions": [], "confidence": 1}`, usage, nil
}

func confirmedRule() *domain.ParsingRule {
	now := time.Now()
	return &domain.ParsingRule{
		ID:                "rule-1",
		BankIdentifier:    "test_bank",
		HeaderRow:         0,
		DateColumn:        domain.ColByName("Date"),
		DescriptionColumn: domain.ColByName("Desc"),
		AmountColumn:      domain.ColByName("Amount"),
		DebitCreditMode:   domain.DetectBySign,
		ConfirmedAt:       &now,
	}
}

func statementRecord(fileType string) *domain.StatementRecord {
	return &domain.StatementRecord{
		ID:               "stmt-1",
		UserID:           "user-1",
		AccountID:        "acc-1",
		BankName:         "Test Bank",
		FileURL:          "gs://bucket/stmt",
		FileType:         fileType,
		OriginalFileName: "statement." + fileType,
		Status:           domain.StatusPendingExtraction,
	}
}

func TestRunCSVCompletes(t *testing.T) {
	csv := "Date,Desc,Amount\n2024-01-05,Coffee Shop,-4.50\n2024-01-06,Salary,2000.00\n2024-01-06,Salary,2000.00"
	store := &fakeStore{rec: statementRecord("csv"), acct: &domain.Account{ID: "acc-1"}}
	rules := &fakeRules{rule: confirmedRule()}
	o := New(store, rules, &fakeBlobs{content: []byte(csv)}, &fakeModel{})

	require.NoError(t, o.Run(context.Background(), "stmt-1"))

	// The in-batch duplicate third row is rejected.
	require.Len(t, store.saved, 2)
	assert.Equal(t, domain.TypeDebit, store.saved[0].Type)
	assert.Equal(t, 4.50, store.saved[0].Amount)
	assert.Equal(t, domain.TypeCredit, store.saved[1].Type)

	assert.Equal(t, domain.StatusCompleted, store.rec.Status)
	assert.Equal(t, 100, store.rec.Progress)
	assert.Equal(t, 2, store.rec.TransactionCount)
	assert.Equal(t, 1, rules.usageBumps)
	assert.Empty(t, store.rec.ErrorMessage)
}

func TestRunCSVNoRule(t *testing.T) {
	store := &fakeStore{rec: statementRecord("csv"), acct: &domain.Account{ID: "acc-1"}}
	rules := &fakeRules{findErr: fmt.Errorf("no rule: %w", rulestore.ErrNotFound)}
	o := New(store, rules, &fakeBlobs{content: []byte("Date,Desc,Amount\n")}, &fakeModel{})

	require.NoError(t, o.Run(context.Background(), "stmt-1"))

	assert.Equal(t, domain.StatusNeedsRulesConfirmation, store.rec.Status)
	assert.Empty(t, store.saved)
}

func TestRunCSVUnconfirmedRule(t *testing.T) {
	rule := confirmedRule()
	rule.ConfirmedAt = nil
	store := &fakeStore{rec: statementRecord("csv"), acct: &domain.Account{ID: "acc-1"}}
	o := New(store, &fakeRules{rule: rule}, &fakeBlobs{content: []byte("Date,Desc,Amount\n")}, &fakeModel{})

	require.NoError(t, o.Run(context.Background(), "stmt-1"))
	assert.Equal(t, domain.StatusNeedsRulesConfirmation, store.rec.Status)
}

func TestRunMissingFieldsFails(t *testing.T) {
	rec := statementRecord("csv")
	rec.AccountID = ""
	store := &fakeStore{rec: rec}
	o := New(store, &fakeRules{}, &fakeBlobs{}, &fakeModel{})

	require.NoError(t, o.Run(context.Background(), "stmt-1"))

	assert.Equal(t, domain.StatusFailed, store.rec.Status)
	assert.Contains(t, store.rec.ErrorMessage, "missing")
}

func TestRunBlobFetchFails(t *testing.T) {
	store := &fakeStore{rec: statementRecord("pdf")}
	o := New(store, &fakeRules{}, &fakeBlobs{err: fmt.Errorf("object not found")}, &fakeModel{})

	require.NoError(t, o.Run(context.Background(), "stmt-1"))

	assert.Equal(t, domain.StatusFailed, store.rec.Status)
	assert.Contains(t, store.rec.ErrorMessage, "could not fetch")
}

func TestRunUnknownKindFails(t *testing.T) {
	rec := statementRecord("bin")
	rec.OriginalFileName = "statement.bin"
	store := &fakeStore{rec: rec}
	o := New(store, &fakeRules{}, &fakeBlobs{content: []byte("data")}, &fakeModel{})

	require.NoError(t, o.Run(context.Background(), "stmt-1"))
	assert.Equal(t, domain.StatusFailed, store.rec.Status)
}

func TestRunPDFMultiPage(t *testing.T) {
	rec := statementRecord("pdf")
	rec.PageCount = 2
	store := &fakeStore{rec: rec, acct: &domain.Account{ID: "acc-1"}}
	model := &fakeModel{}
	o := New(store, &fakeRules{}, &fakeBlobs{content: []byte("%PDF")}, model)

	require.NoError(t, o.Run(context.Background(), "stmt-1"))

	// Context pass plus one call per page.
	assert.Equal(t, 3, model.calls)
	assert.Equal(t, domain.StatusCompleted, store.rec.Status)
	require.Len(t, store.saved, 2)
	assert.Equal(t, 2, store.rec.PagesTotal)
	assert.Equal(t, 2, store.rec.PagesCompleted)

	// Period and balances flow in from the context pass fallback.
	assert.Equal(t, "2024-01-31", store.rec.PeriodEnd)
	require.NotNil(t, store.rec.OpeningBalance)
	assert.Equal(t, 1000.0, *store.rec.OpeningBalance)
	assert.Positive(t, store.rec.TokensInput)
}

func TestRunSinglePageSkipsContextPass(t *testing.T) {
	rec := statementRecord("pdf")
	rec.PageCount = 1
	store := &fakeStore{rec: rec, acct: &domain.Account{ID: "acc-1"}}
	model := &fakeModel{}
	o := New(store, &fakeRules{}, &fakeBlobs{content: []byte("%PDF")}, model)

	require.NoError(t, o.Run(context.Background(), "stmt-1"))
	assert.Equal(t, 1, model.calls)
	assert.Equal(t, domain.StatusCompleted, store.rec.Status)
}

func TestRunLowConfidenceNeedsReview(t *testing.T) {
	rec := statementRecord("pdf")
	rec.PageCount = 1
	store := &fakeStore{rec: rec, acct: &domain.Account{ID: "acc-1"}}
	o := New(store, &fakeRules{}, &fakeBlobs{content: []byte("%PDF")}, &fakeModel{confidence: 0.5})

	require.NoError(t, o.Run(context.Background(), "stmt-1"))
	assert.Equal(t, domain.StatusNeedsReview, store.rec.Status)
}

func TestHandleStatusChangeEntryGuard(t *testing.T) {
	csv := "Date,Desc,Amount\n2024-01-05,Coffee,-4.50"
	store := &fakeStore{rec: statementRecord("csv"), acct: &domain.Account{ID: "acc-1"}}
	o := New(store, &fakeRules{rule: confirmedRule()}, &fakeBlobs{content: []byte(csv)}, &fakeModel{})

	trigger := statementRecord("csv")
	assert.True(t, o.HandleStatusChange(context.Background(), trigger))

	// A duplicate snapshot of the same pending record does not restart.
	assert.False(t, o.HandleStatusChange(context.Background(), trigger))

	// Leaving and re-entering pending_extraction triggers again.
	done := statementRecord("csv")
	done.Status = domain.StatusCompleted
	assert.False(t, o.HandleStatusChange(context.Background(), done))
	assert.True(t, o.HandleStatusChange(context.Background(), statementRecord("csv")))
}

func TestHandleStatusChangeRetriggersAfterReset(t *testing.T) {
	csv := "Date,Desc,Amount\n2024-01-05,Coffee,-4.50"
	store := &fakeStore{rec: statementRecord("csv"), acct: &domain.Account{ID: "acc-1"}}
	o := New(store, &fakeRules{rule: confirmedRule()}, &fakeBlobs{content: []byte(csv)}, &fakeModel{})

	assert.True(t, o.HandleStatusChange(context.Background(), statementRecord("csv")))
	assert.False(t, o.HandleStatusChange(context.Background(), statementRecord("csv")))

	// The run finishes, the record drops out of the pending query, and the
	// user later resets it to pending_extraction.
	o.HandleDeparture("stmt-1")

	o.mu.Lock()
	_, tracked := o.lastSeen["stmt-1"]
	o.mu.Unlock()
	assert.False(t, tracked)

	assert.True(t, o.HandleStatusChange(context.Background(), statementRecord("csv")))
}

func TestRunBatchedProgressMonotonic(t *testing.T) {
	store := &fakeStore{rec: statementRecord("csv")}
	o := New(store, &fakeRules{}, &fakeBlobs{}, &fakeModel{})

	// Rule repair already published 40; the first fallback batches would
	// otherwise compute a lower percentage.
	rec := store.rec
	rec.Status = domain.StatusExtracting
	rec.Progress = 40

	o.runBatched(context.Background(), rec, 16, func(unit int) (*domain.PageResult, error) {
		return &domain.PageResult{Page: unit}, nil
	})

	last := 40
	for _, p := range store.progress {
		assert.GreaterOrEqual(t, p, last)
		last = p
	}
	assert.Equal(t, 90, rec.Progress)
}

func TestRunStatusNeverLeftIntermediate(t *testing.T) {
	// Account lookup fails after extraction; the record must still land on
	// a terminal status.
	csv := "Date,Desc,Amount\n2024-01-05,Coffee,-4.50"
	store := &fakeStore{rec: statementRecord("csv")} // no account
	o := New(store, &fakeRules{rule: confirmedRule()}, &fakeBlobs{content: []byte(csv)}, &fakeModel{})

	require.NoError(t, o.Run(context.Background(), "stmt-1"))
	assert.True(t, store.rec.Status.Terminal())
	assert.Equal(t, domain.StatusFailed, store.rec.Status)
}
