package http

import (
	"net/http"
	"strconv"
	"strings"
)

// handleSummary computes the spending summary for the caller's active
// account over the requested window (current month by default).
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, userID string) {
	from, to, err := parseDateRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	scope, err := s.currentScope(r, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := s.spend.Summary(r.Context(), scope, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

func (s *Server) handleListUsage(w http.ResponseWriter, r *http.Request, userID string) {
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	records, err := s.usage.ListUsageByUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]usageDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toUsageDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": out})
}
