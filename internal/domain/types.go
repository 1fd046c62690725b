// Package domain holds the shared types of the statement ingestion pipeline.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TransactionType carries the sign of a transaction. Amounts are always
// non-negative magnitudes; direction lives here, never in the number.
type TransactionType string

const (
	TypeCredit TransactionType = "credit"
	TypeDebit  TransactionType = "debit"
	// TypeContinuation marks page-boundary text with no date/amount of its
	// own. Continuations never survive merging; see internal/merge.
	TypeContinuation TransactionType = "continuation"
)

// Transaction is one extracted or parsed statement line.
type Transaction struct {
	Date        string          `json:"date" firestore:"date"` // YYYY-MM-DD
	Description string          `json:"description" firestore:"description"`
	Amount      float64         `json:"amount" firestore:"amount"` // non-negative magnitude
	Type        TransactionType `json:"type" firestore:"type"`
	Balance     *float64        `json:"balance,omitempty" firestore:"balance,omitempty"`
	Reference   string          `json:"reference,omitempty" firestore:"reference,omitempty"`
	Category    string          `json:"category,omitempty" firestore:"category,omitempty"`
	Confidence  float64         `json:"confidence,omitempty" firestore:"confidence,omitempty"`
	// Continuation is the model's explicit marker that this row is the tail
	// of a transaction started on an earlier page.
	Continuation bool `json:"continuation,omitempty" firestore:"continuation,omitempty"`
}

// Valid reports whether the transaction has the minimum shape required for
// storage: a parseable date, a description, and a non-zero magnitude.
func (t *Transaction) Valid() bool {
	if t.Date == "" || t.Description == "" || t.Amount <= 0 {
		return false
	}
	if _, err := time.Parse("2006-01-02", t.Date); err != nil {
		return false
	}
	return t.Type == TypeCredit || t.Type == TypeDebit
}

// PageResult is one extraction unit's output: a single PDF page, a single
// CSV/spreadsheet chunk, or a whole single-pass file. Transient; consumed by
// the merger.
type PageResult struct {
	Page           int
	Transactions   []Transaction
	OpeningBalance *float64
	ClosingBalance *float64
	PeriodStart    string
	PeriodEnd      string
	Confidence     float64
	Warnings       []string
	TokensInput    int64
	TokensOutput   int64
}

// TransactionSummary is one line of the context pass's cross-page inventory.
// Extra keeps unrecognized model output without letting it reach control flow.
type TransactionSummary struct {
	Page              int            `json:"page"`
	Date              string         `json:"date,omitempty"`
	Description       string         `json:"description"`
	Amount            float64        `json:"amount,omitempty"`
	ContinuesNext     bool           `json:"continuesOnNextPage,omitempty"`
	ContinuedFromPrev bool           `json:"continuedFromPreviousPage,omitempty"`
	Extra             map[string]any `json:"-"`
}

// MultiPageTransaction names a transaction the context pass saw straddling a
// page boundary.
type MultiPageTransaction struct {
	Description string         `json:"description"`
	Pages       []int          `json:"pages"`
	Extra       map[string]any `json:"-"`
}

// DocumentContext is the whole-document summary produced once per multi-page
// PDF and consumed by every per-page extraction call of that run.
type DocumentContext struct {
	TotalPages     int
	PeriodStart    string
	PeriodEnd      string
	OpeningBalance *float64
	ClosingBalance *float64
	Currency       string
	Transactions   []TransactionSummary
	MultiPage      []MultiPageTransaction
	Extra          map[string]any
}

// SummariesForPage returns the context transactions attributed to one page.
func (d *DocumentContext) SummariesForPage(page int) []TransactionSummary {
	if d == nil {
		return nil
	}
	var out []TransactionSummary
	for _, s := range d.Transactions {
		if s.Page == page {
			out = append(out, s)
		}
	}
	return out
}

// ContinuationInto reports whether the previous page flagged a transaction
// continuing into the given page.
func (d *DocumentContext) ContinuationInto(page int) bool {
	if d == nil {
		return false
	}
	for _, s := range d.Transactions {
		if s.Page == page-1 && s.ContinuesNext {
			return true
		}
	}
	return false
}

// SpansForPage returns the multi-page transactions that touch the given page.
func (d *DocumentContext) SpansForPage(page int) []MultiPageTransaction {
	if d == nil {
		return nil
	}
	var out []MultiPageTransaction
	for _, m := range d.MultiPage {
		for _, p := range m.Pages {
			if p == page {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// StatementStatus is the lifecycle state of a statement record. The pipeline
// owns every transition after pending_extraction.
type StatementStatus string

const (
	StatusUploaded               StatementStatus = "uploaded"
	StatusScanning               StatementStatus = "scanning"
	StatusPendingExtraction      StatementStatus = "pending_extraction"
	StatusExtracting             StatementStatus = "extracting"
	StatusSelfHealing            StatementStatus = "self_healing"
	StatusNeedsRulesConfirmation StatementStatus = "needs_rules_confirmation"
	StatusNeedsReview            StatementStatus = "needs_review"
	StatusCompleted              StatementStatus = "completed"
	StatusFailed                 StatementStatus = "failed"
)

// Terminal reports whether a status ends the run. Exactly four statuses are
// valid exit states.
func (s StatementStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNeedsReview, StatusNeedsRulesConfirmation, StatusFailed:
		return true
	}
	return false
}

// MaxStatementWarnings caps the warnings surfaced on a statement record.
const MaxStatementWarnings = 20

// StatementRecord is the externally created status document the pipeline
// reacts to and mutates.
type StatementRecord struct {
	ID               string          `firestore:"id"`
	UserID           string          `firestore:"userId"`
	AccountID        string          `firestore:"accountId"`
	BankName         string          `firestore:"bankName,omitempty"`
	FileURL          string          `firestore:"fileUrl"`
	MIMEType         string          `firestore:"mimeType,omitempty"`
	FileType         string          `firestore:"fileType,omitempty"`
	OriginalFileName string          `firestore:"originalFileName,omitempty"`
	PageCount        int             `firestore:"pageCount,omitempty"`
	Status           StatementStatus `firestore:"status"`
	Progress         int             `firestore:"progress"`
	PagesTotal       int             `firestore:"pagesTotal,omitempty"`
	PagesCompleted   int             `firestore:"pagesCompleted,omitempty"`
	OpeningBalance   *float64        `firestore:"openingBalance,omitempty"`
	ClosingBalance   *float64        `firestore:"closingBalance,omitempty"`
	PeriodStart      string          `firestore:"periodStart,omitempty"`
	PeriodEnd        string          `firestore:"periodEnd,omitempty"`
	TransactionCount int             `firestore:"transactionCount"`
	TokensInput      int64           `firestore:"tokensInput,omitempty"`
	TokensOutput     int64           `firestore:"tokensOutput,omitempty"`
	Warnings         []string        `firestore:"warnings,omitempty"`
	ErrorMessage     string          `firestore:"errorMessage,omitempty"`
	CreatedAt        time.Time       `firestore:"createdAt"`
	UpdatedAt        time.Time       `firestore:"updatedAt"`
}

// AddWarnings appends warnings up to the record cap; overflow is dropped.
func (r *StatementRecord) AddWarnings(warnings ...string) {
	for _, w := range warnings {
		if len(r.Warnings) >= MaxStatementWarnings {
			return
		}
		if strings.TrimSpace(w) == "" {
			continue
		}
		r.Warnings = append(r.Warnings, w)
	}
}

// Account is the external aggregate record. Only the reconciler and the
// counter step mutate it.
type Account struct {
	ID               string    `firestore:"id"`
	UserID           string    `firestore:"userId"`
	Name             string    `firestore:"name,omitempty"`
	BankName         string    `firestore:"bankName,omitempty"`
	Balance          *float64  `firestore:"balance,omitempty"`
	TransactionCount int64     `firestore:"transactionCount"`
	StatementCount   int64     `firestore:"statementCount"`
	LatestPeriodEnd  string    `firestore:"latestPeriodEnd,omitempty"` // YYYY-MM-DD
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

// StoredTransaction is one persisted, confirmed non-duplicate row, denormalized
// for downstream querying.
type StoredTransaction struct {
	ID          string          `firestore:"id"`
	UserID      string          `firestore:"userId"`
	AccountID   string          `firestore:"accountId"`
	StatementID string          `firestore:"statementId"`
	Date        string          `firestore:"date"`
	Description string          `firestore:"description"`
	Amount      float64         `firestore:"amount"`
	Type        TransactionType `firestore:"type"`
	Balance     *float64        `firestore:"balance,omitempty"`
	Reference   string          `firestore:"reference,omitempty"`
	Category    string          `firestore:"category,omitempty"`
	SearchText  string          `firestore:"searchText"`
	Month       string          `firestore:"month"` // YYYY-MM bucket
	NeedsReview bool            `firestore:"needsReview"`
	CreatedAt   time.Time       `firestore:"createdAt"`
}

// NewStoredTransaction denormalizes an extracted transaction for persistence.
// The needsReview flag derives from per-transaction confidence.
func NewStoredTransaction(id string, t Transaction, userID, accountID, statementID string) (*StoredTransaction, error) {
	if id == "" {
		return nil, fmt.Errorf("transaction ID cannot be empty")
	}
	if !t.Valid() {
		return nil, fmt.Errorf("transaction %q on %q is not storable", t.Description, t.Date)
	}
	return &StoredTransaction{
		ID:          id,
		UserID:      userID,
		AccountID:   accountID,
		StatementID: statementID,
		Date:        t.Date,
		Description: t.Description,
		Amount:      t.Amount,
		Type:        t.Type,
		Balance:     t.Balance,
		Reference:   t.Reference,
		Category:    t.Category,
		SearchText:  strings.ToLower(strings.TrimSpace(t.Description)),
		Month:       t.Date[:7],
		NeedsReview: t.Confidence > 0 && t.Confidence < ReviewTransactionConfidence,
		CreatedAt:   time.Now(),
	}, nil
}

const (
	// ReviewRunConfidence is the average-confidence floor below which a run
	// ends in needs_review instead of completed.
	ReviewRunConfidence = 0.85
	// ReviewTransactionConfidence is the per-transaction floor; a single
	// transaction below it pushes the whole run into needs_review.
	ReviewTransactionConfidence = 0.8
)

// DebitCreditMode selects how the CSV parser decides transaction direction
// when a rule binds a single amount column.
type DebitCreditMode string

const (
	// DetectBySign treats negative amounts as debits.
	DetectBySign DebitCreditMode = "sign"
	// DetectByKeyword scans the row for the rule's debit/credit keyword lists.
	DetectByKeyword DebitCreditMode = "keyword"
	// DetectSeparateColumns reads distinct debit and credit columns.
	DetectSeparateColumns DebitCreditMode = "separate"
)

// ColumnRef binds a logical transaction field to a CSV column, either by
// zero-based index or by header name. Rule JSON produced by users and by the
// model may spell a binding as a bare number, a bare string, or an object;
// UnmarshalJSON accepts all three.
type ColumnRef struct {
	Name    string `json:"name,omitempty" firestore:"name,omitempty"`
	Index   int    `json:"index" firestore:"index"`
	ByIndex bool   `json:"byIndex" firestore:"byIndex"`
}

// ColByIndex builds an index binding.
func ColByIndex(i int) *ColumnRef { return &ColumnRef{Index: i, ByIndex: true} }

// ColByName builds a header-name binding.
func ColByName(name string) *ColumnRef { return &ColumnRef{Name: name} }

// UnmarshalJSON accepts 2, "Amount", or {"index":2}/{"name":"Amount"}.
func (c *ColumnRef) UnmarshalJSON(data []byte) error {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("column binding cannot be null")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ColumnRef{Name: s}
		return nil
	case '{':
		type alias ColumnRef
		var a alias
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		if a.Name == "" {
			a.ByIndex = true
		}
		*c = ColumnRef(a)
		return nil
	default:
		var i int
		if err := json.Unmarshal(data, &i); err != nil {
			return fmt.Errorf("column binding must be a name or an index: %w", err)
		}
		*c = ColumnRef{Index: i, ByIndex: true}
		return nil
	}
}

// MarshalJSON writes the compact form: a bare index or a bare name.
func (c ColumnRef) MarshalJSON() ([]byte, error) {
	if c.ByIndex {
		return json.Marshal(c.Index)
	}
	return json.Marshal(c.Name)
}

// ParsingRule describes how one bank's CSV/spreadsheet exports map to
// normalized transactions. A rule drives automatic extraction only once
// ConfirmedAt is set; until then it is mutable by its creator.
type ParsingRule struct {
	ID              string `json:"id" firestore:"id"`
	BankIdentifier  string `json:"bankIdentifier" firestore:"bankIdentifier"`
	BankDisplayName string `json:"bankDisplayName" firestore:"bankDisplayName"`

	HeaderRow      int    `json:"headerRow" firestore:"headerRow"`
	DataStartRow   int    `json:"dataStartRow,omitempty" firestore:"dataStartRow"` // 0 means headerRow+1
	SkipFooterRows int    `json:"skipFooterRows,omitempty" firestore:"skipFooterRows"`
	Delimiter      string `json:"delimiter,omitempty" firestore:"delimiter"` // default ","

	DateColumn        *ColumnRef `json:"dateColumn" firestore:"dateColumn"`
	DescriptionColumn *ColumnRef `json:"descriptionColumn" firestore:"descriptionColumn"`
	AmountColumn      *ColumnRef `json:"amountColumn,omitempty" firestore:"amountColumn,omitempty"`
	DebitColumn       *ColumnRef `json:"debitColumn,omitempty" firestore:"debitColumn,omitempty"`
	CreditColumn      *ColumnRef `json:"creditColumn,omitempty" firestore:"creditColumn,omitempty"`
	BalanceColumn     *ColumnRef `json:"balanceColumn,omitempty" firestore:"balanceColumn,omitempty"`
	ReferenceColumn   *ColumnRef `json:"referenceColumn,omitempty" firestore:"referenceColumn,omitempty"`

	DateFormat         string          `json:"dateFormat,omitempty" firestore:"dateFormat,omitempty"` // e.g. "DD/MM/YYYY"
	ThousandsSeparator string          `json:"thousandsSeparator,omitempty" firestore:"thousandsSeparator,omitempty"`
	DecimalSeparator   string          `json:"decimalSeparator,omitempty" firestore:"decimalSeparator,omitempty"`
	CurrencySymbol     string          `json:"currencySymbol,omitempty" firestore:"currencySymbol,omitempty"`
	DebitCreditMode    DebitCreditMode `json:"debitCreditMode,omitempty" firestore:"debitCreditMode,omitempty"`
	DebitKeywords      []string        `json:"debitKeywords,omitempty" firestore:"debitKeywords,omitempty"`
	CreditKeywords     []string        `json:"creditKeywords,omitempty" firestore:"creditKeywords,omitempty"`

	CreatedBy    string     `json:"createdBy" firestore:"createdBy"`
	CreatedAt    time.Time  `json:"createdAt" firestore:"createdAt"`
	ConfirmedAt  *time.Time `json:"confirmedAt,omitempty" firestore:"confirmedAt,omitempty"`
	SelfHealedAt *time.Time `json:"selfHealedAt,omitempty" firestore:"selfHealedAt,omitempty"`
	UsageCount   int64      `json:"usageCount" firestore:"usageCount"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty" firestore:"lastUsedAt,omitempty"`
}

// Confirmed reports whether the rule may drive automatic extraction.
func (r *ParsingRule) Confirmed() bool {
	return r != nil && r.ConfirmedAt != nil
}

// EffectiveDataStartRow resolves the default documented on DataStartRow.
func (r *ParsingRule) EffectiveDataStartRow() int {
	if r.DataStartRow > r.HeaderRow {
		return r.DataStartRow
	}
	return r.HeaderRow + 1
}

// EffectiveDelimiter resolves the default delimiter.
func (r *ParsingRule) EffectiveDelimiter() string {
	if r.Delimiter == "" {
		return ","
	}
	return r.Delimiter
}

// Validate checks the minimum shape a rule needs before it can parse anything.
func (r *ParsingRule) Validate() error {
	if r.BankIdentifier == "" {
		return fmt.Errorf("rule is missing a bank identifier")
	}
	if r.DateColumn == nil {
		return fmt.Errorf("rule is missing a date column binding")
	}
	if r.DescriptionColumn == nil {
		return fmt.Errorf("rule is missing a description column binding")
	}
	if r.AmountColumn == nil && (r.DebitColumn == nil || r.CreditColumn == nil) {
		return fmt.Errorf("rule needs either an amount column or both debit and credit columns")
	}
	if r.HeaderRow < 0 || r.DataStartRow < 0 || r.SkipFooterRows < 0 {
		return fmt.Errorf("row offsets cannot be negative")
	}
	return nil
}
