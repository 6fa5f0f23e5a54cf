package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/k1networth/cb-testclient/internal/shared/httpx"
	"github.com/k1networth/cb-testclient/internal/shared/requestid"
)

type Finder interface {
	ByCode(ctx context.Context, code string, limit int) ([]Entry, error)
}

// Handler serves the audit trail of one transaction code.
type Handler struct {
	Log   *slog.Logger
	Store Finder
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/audit/callbacks", httpx.WithRoute("/audit/callbacks", http.HandlerFunc(h.List)))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, r, http.StatusBadRequest, "validation_error", "code is required")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, r, http.StatusBadRequest, "validation_error", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	entries, err := h.Store.ByCode(r.Context(), code, limit)
	if err != nil {
		h.Log.Error("audit_query_failed", slog.String("transaction_code", code), slog.String("err", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(struct {
		Entries []Entry `json:"entries"`
	}{entries})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":       code,
			"message":    message,
			"request_id": requestid.Get(r.Context()),
		},
	})
}
