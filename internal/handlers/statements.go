package handlers

import (
	"context"
	"net/http"

	"github.com/rumor-ml/bankstmt/internal/cleanup"
	"github.com/rumor-ml/bankstmt/internal/domain"
	"github.com/rumor-ml/bankstmt/internal/logger"
	"github.com/rumor-ml/bankstmt/internal/middleware"
)

// StatementService is the store surface for statement reads and deletion,
// including the cascade that removes the statement's transactions.
type StatementService interface {
	GetStatement(ctx context.Context, statementID string) (*domain.StatementRecord, error)
	DeleteStatement(ctx context.Context, statementID string) error
	cleanup.Store
}

// StatementsHandler serves statement record access.
type StatementsHandler struct {
	store StatementService
}

// NewStatementsHandler creates the handler.
func NewStatementsHandler(store StatementService) *StatementsHandler {
	return &StatementsHandler{store: store}
}

// Get handles GET /api/statements/{id}. Clients poll it for extraction
// status and progress. Records owned by other users read as not found.
func (h *StatementsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rec, err := h.store.GetStatement(r.Context(), r.PathValue("id"))
	if err != nil || rec.UserID != userID {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	writeJSON(r, w, http.StatusOK, rec)
}

// Delete handles DELETE /api/statements/{id}: removes the record, its
// transactions, and rolls the account counters back.
func (h *StatementsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id := r.PathValue("id")
	rec, err := h.store.GetStatement(r.Context(), id)
	if err != nil || rec.UserID != userID {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	if err := h.store.DeleteStatement(r.Context(), id); err != nil {
		writeError(r, w, "Failed to delete statement", err)
		return
	}
	if err := cleanup.Run(r.Context(), logger.FromContext(r.Context()), h.store, id, rec.AccountID); err != nil {
		writeError(r, w, "Failed to clean up statement transactions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health.
func HealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
