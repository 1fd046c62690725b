// Package handlers implements the HTTP API: parsing-rule management and
// statement progress reads.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rumor-ml/bankstmt/internal/bankname"
	"github.com/rumor-ml/bankstmt/internal/domain"
	"github.com/rumor-ml/bankstmt/internal/logger"
	"github.com/rumor-ml/bankstmt/internal/middleware"
	"github.com/rumor-ml/bankstmt/internal/rulestore"
)

// RuleService is the rule-repository surface the handlers call.
type RuleService interface {
	ListForBank(ctx context.Context, userID, bankIdentifier string) ([]*domain.ParsingRule, error)
	Save(ctx context.Context, rule *domain.ParsingRule) error
	Confirm(ctx context.Context, ruleID, userID string) (*domain.ParsingRule, error)
	Update(ctx context.Context, ruleID, userID string, fields map[string]any) (*domain.ParsingRule, error)
}

// RulesHandler serves the /api/rules endpoints.
type RulesHandler struct {
	rules RuleService
}

// NewRulesHandler creates the handler.
func NewRulesHandler(rules RuleService) *RulesHandler {
	return &RulesHandler{rules: rules}
}

// List handles GET /api/rules?bank=<name or identifier>. The bank parameter
// accepts a display name and is normalized before lookup.
func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	bank := r.URL.Query().Get("bank")
	if bank == "" {
		http.Error(w, "Missing bank parameter", http.StatusBadRequest)
		return
	}

	rules, err := h.rules.ListForBank(r.Context(), userID, bankname.Identifier(bank))
	if err != nil {
		writeError(r, w, "Failed to list rules", err)
		return
	}
	writeJSON(r, w, http.StatusOK, rules)
}

// Create handles POST /api/rules. The rule is stored unconfirmed and owned
// by the caller.
func (h *RulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var rule domain.ParsingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	rule.CreatedBy = userID
	if rule.BankIdentifier == "" {
		rule.BankIdentifier = bankname.Identifier(rule.BankDisplayName)
	}
	rule.BankDisplayName = bankname.Normalize(rule.BankDisplayName)

	if err := rule.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.rules.Save(r.Context(), &rule); err != nil {
		writeError(r, w, "Failed to save rule", err)
		return
	}
	writeJSON(r, w, http.StatusCreated, &rule)
}

// Confirm handles POST /api/rules/{id}/confirm. Only the rule's creator may
// confirm, and confirming twice is a no-op.
func (h *RulesHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rule, err := h.rules.Confirm(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(r, w, "Failed to confirm rule", err)
		return
	}
	writeJSON(r, w, http.StatusOK, rule)
}

// Update handles PATCH /api/rules/{id} with a JSON object of field edits.
// Confirmed rules and non-geometry fields are rejected.
func (h *RulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	rule, err := h.rules.Update(r.Context(), r.PathValue("id"), userID, fields)
	if err != nil {
		writeError(r, w, "Failed to update rule", err)
		return
	}
	writeJSON(r, w, http.StatusOK, rule)
}

// writeError maps repository sentinels onto HTTP statuses.
func writeError(r *http.Request, w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, rulestore.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, rulestore.ErrPermissionDenied):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, rulestore.ErrRuleConfirmed):
		http.Error(w, "Rule is confirmed and cannot be edited", http.StatusConflict)
	case errors.Is(err, rulestore.ErrImmutableField):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("path", r.URL.Path).Msg(message)
		http.Error(w, message, http.StatusInternalServerError)
	}
}

func writeJSON(r *http.Request, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("path", r.URL.Path).Msg("response encoding failed")
	}
}
