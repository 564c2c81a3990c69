package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/autocally/autocally/pkg/store"
)

// TranscriptsHandler serves the persisted transcript of one call.
type TranscriptsHandler struct {
	Store  store.Store
	Logger *slog.Logger
}

type transcriptEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type transcriptsResponse struct {
	CallID      string            `json:"call_id"`
	Transcripts []transcriptEntry `json:"transcripts"`
}

func (h TranscriptsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "bad_request", "method not allowed")
		return
	}
	callID := strings.TrimSpace(r.PathValue("id"))
	if callID == "" {
		writeJSONError(w, r, http.StatusBadRequest, "bad_request", "call id is required")
		return
	}

	entries, err := h.Store.Transcripts(r.Context(), callID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, r, http.StatusNotFound, "not_found", "unknown call")
			return
		}
		if h.Logger != nil {
			h.Logger.Error("transcript lookup failed", "call_id", callID, "err", err)
		}
		writeJSONError(w, r, http.StatusInternalServerError, "persistence_error", "transcript lookup failed")
		return
	}

	out := transcriptsResponse{CallID: callID, Transcripts: make([]transcriptEntry, 0, len(entries))}
	for _, e := range entries {
		out.Transcripts = append(out.Transcripts, transcriptEntry{Role: e.Role, Text: e.Text, CreatedAt: e.CreatedAt})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}
