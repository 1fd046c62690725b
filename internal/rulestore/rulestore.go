// Package rulestore persists per-bank CSV parsing rules and enforces their
// lifecycle: created unconfirmed, confirmed once by the owner, mutable only
// until then.
package rulestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/bankstmt/internal/domain"
)

const rulesCollection = "parsing-rules"

var (
	// ErrNotFound means no rule exists for the requested bank or ID.
	ErrNotFound = errors.New("parsing rule not found")
	// ErrPermissionDenied means the caller is not the rule's creator.
	ErrPermissionDenied = errors.New("only the rule's creator may do that")
	// ErrRuleConfirmed means the rule is confirmed and no longer mutable.
	ErrRuleConfirmed = errors.New("confirmed rules cannot be edited")
	// ErrImmutableField means an edit touched a field outside the allow-list.
	ErrImmutableField = errors.New("field cannot be edited")
)

// Store is the Firestore-backed rule repository.
type Store struct {
	fs *firestore.Client
}

// New wraps an existing Firestore client.
func New(fs *firestore.Client) *Store {
	return &Store{fs: fs}
}

// Find returns the best rule for a bank identifier: the user's own rule
// when one exists, otherwise the most-used confirmed rule from any user.
// Returns ErrNotFound when neither exists.
func (s *Store) Find(ctx context.Context, userID, bankIdentifier string) (*domain.ParsingRule, error) {
	rules, err := s.rulesForBank(ctx, bankIdentifier)
	if err != nil {
		return nil, err
	}
	best := bestRule(rules, userID)
	if best == nil {
		return nil, fmt.Errorf("no rule for bank %q: %w", bankIdentifier, ErrNotFound)
	}
	return best, nil
}

// bestRule selects from candidate rules: the requesting user's rule first,
// then any confirmed rule, ties broken by usage count descending.
func bestRule(rules []*domain.ParsingRule, userID string) *domain.ParsingRule {
	var own, shared *domain.ParsingRule
	for _, r := range rules {
		if r.CreatedBy == userID {
			if own == nil || r.UsageCount > own.UsageCount {
				own = r
			}
			continue
		}
		if !r.Confirmed() {
			continue
		}
		if shared == nil || r.UsageCount > shared.UsageCount {
			shared = r
		}
	}
	if own != nil {
		return own
	}
	return shared
}

// ListForBank returns the rules a user may see for a bank: their own rules
// in any state, plus confirmed rules shared by other users.
func (s *Store) ListForBank(ctx context.Context, userID, bankIdentifier string) ([]*domain.ParsingRule, error) {
	rules, err := s.rulesForBank(ctx, bankIdentifier)
	if err != nil {
		return nil, err
	}
	return visibleRules(rules, userID), nil
}

func visibleRules(rules []*domain.ParsingRule, userID string) []*domain.ParsingRule {
	visible := make([]*domain.ParsingRule, 0, len(rules))
	for _, r := range rules {
		if r.CreatedBy == userID || r.Confirmed() {
			visible = append(visible, r)
		}
	}
	return visible
}

func (s *Store) rulesForBank(ctx context.Context, bankIdentifier string) ([]*domain.ParsingRule, error) {
	iter := s.fs.Collection(rulesCollection).
		Where("bankIdentifier", "==", bankIdentifier).
		Documents(ctx)

	var rules []*domain.ParsingRule
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate rules for bank %s: %w", bankIdentifier, err)
		}

		var rule domain.ParsingRule
		if err := doc.DataTo(&rule); err != nil {
			return nil, fmt.Errorf("failed to parse rule: %w", err)
		}
		rule.ID = doc.Ref.ID
		rules = append(rules, &rule)
	}
	return rules, nil
}

// Get retrieves one rule by ID.
func (s *Store) Get(ctx context.Context, ruleID string) (*domain.ParsingRule, error) {
	doc, err := s.fs.Collection(rulesCollection).Doc(ruleID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule %s: %w", ruleID, err)
	}

	var rule domain.ParsingRule
	if err := doc.DataTo(&rule); err != nil {
		return nil, fmt.Errorf("failed to parse rule %s: %w", ruleID, err)
	}
	rule.ID = doc.Ref.ID
	return &rule, nil
}

// Save creates a new unconfirmed rule with usage count zero.
func (s *Store) Save(ctx context.Context, rule *domain.ParsingRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.ConfirmedAt = nil
	rule.UsageCount = 0
	rule.CreatedAt = time.Now()

	_, err := s.fs.Collection(rulesCollection).Doc(rule.ID).Set(ctx, rule)
	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
	}
	return nil
}

// PutRule writes a rule back verbatim. Used by the self-healing path, which
// must persist a correction regardless of confirmation state; the user-facing
// Update keeps its restrictions.
func (s *Store) PutRule(ctx context.Context, rule *domain.ParsingRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}
	_, err := s.fs.Collection(rulesCollection).Doc(rule.ID).Set(ctx, rule)
	if err != nil {
		return fmt.Errorf("failed to put rule %s: %w", rule.ID, err)
	}
	return nil
}

// Confirm stamps the rule as confirmed. Owner-only and irreversible through
// this API; confirming twice is a no-op.
func (s *Store) Confirm(ctx context.Context, ruleID, userID string) (*domain.ParsingRule, error) {
	rule, err := s.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule.CreatedBy != userID {
		return nil, fmt.Errorf("confirm rule %s: %w", ruleID, ErrPermissionDenied)
	}
	if rule.Confirmed() {
		return rule, nil
	}

	now := time.Now()
	rule.ConfirmedAt = &now
	if err := s.PutRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// IncrementUsage bumps the usage counter and stamps lastUsedAt after a
// successful extraction.
func (s *Store) IncrementUsage(ctx context.Context, ruleID string) error {
	_, err := s.fs.Collection(rulesCollection).Doc(ruleID).Update(ctx, []firestore.Update{
		{Path: "usageCount", Value: firestore.Increment(1)},
		{Path: "lastUsedAt", Value: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to increment usage for rule %s: %w", ruleID, err)
	}
	return nil
}

// Update applies a partial edit to an unconfirmed rule. Owner-only, and
// restricted to the geometry/format allow-list: identity and lifecycle
// fields cannot be changed through this path.
func (s *Store) Update(ctx context.Context, ruleID, userID string, fields map[string]any) (*domain.ParsingRule, error) {
	rule, err := s.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule.CreatedBy != userID {
		return nil, fmt.Errorf("update rule %s: %w", ruleID, ErrPermissionDenied)
	}
	if rule.Confirmed() {
		return nil, fmt.Errorf("update rule %s: %w", ruleID, ErrRuleConfirmed)
	}

	updates, err := allowedUpdates(fields)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return rule, nil
	}

	if _, err := s.fs.Collection(rulesCollection).Doc(ruleID).Update(ctx, updates); err != nil {
		return nil, fmt.Errorf("failed to update rule %s: %w", ruleID, err)
	}
	return s.Get(ctx, ruleID)
}

// updatableFields is the allow-list of user-editable rule fields.
var updatableFields = map[string]bool{
	"headerRow":          true,
	"dataStartRow":       true,
	"skipFooterRows":     true,
	"delimiter":          true,
	"dateColumn":         true,
	"descriptionColumn":  true,
	"amountColumn":       true,
	"debitColumn":        true,
	"creditColumn":       true,
	"balanceColumn":      true,
	"referenceColumn":    true,
	"dateFormat":         true,
	"thousandsSeparator": true,
	"decimalSeparator":   true,
	"currencySymbol":     true,
	"debitCreditMode":    true,
	"debitKeywords":      true,
	"creditKeywords":     true,
}

func allowedUpdates(fields map[string]any) ([]firestore.Update, error) {
	var updates []firestore.Update
	for k, v := range fields {
		if !updatableFields[k] {
			return nil, fmt.Errorf("field %q: %w", k, ErrImmutableField)
		}
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	return updates, nil
}
