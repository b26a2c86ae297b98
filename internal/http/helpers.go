package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ricevute/internal/account"
	"ricevute/internal/core"
	"ricevute/internal/family"
	"ricevute/internal/ingest"
	"ricevute/internal/storage"
)

const maxJSONBody = 1 << 20 // 1MB

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// writeError maps domain errors onto HTTP statuses and stable error codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method, "url", r.URL.Path, "error", err)
		writeJSON(w, status, errorResponse{Error: "internal server error", Code: code})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, account.ErrUnknownAccount):
		return http.StatusNotFound, "unknown_account"
	case errors.Is(err, family.ErrNotAdmin):
		return http.StatusForbidden, "not_admin"
	case errors.Is(err, family.ErrNotMember):
		return http.StatusForbidden, "not_member"
	case errors.Is(err, family.ErrTargetIsAdmin):
		return http.StatusForbidden, "target_is_admin"
	case errors.Is(err, errScopeForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, family.ErrLastAdmin):
		return http.StatusConflict, "last_admin"
	case errors.Is(err, family.ErrDuplicateInvitation):
		return http.StatusConflict, "duplicate_invitation"
	case errors.Is(err, storage.ErrAlreadyMember):
		return http.StatusConflict, "already_member"
	case errors.Is(err, family.ErrInvitationNotPending):
		return http.StatusConflict, "invitation_not_pending"
	case errors.Is(err, family.ErrInvitationExpired):
		return http.StatusGone, "invitation_expired"
	case errors.Is(err, family.ErrEmptyFamilyName),
		errors.Is(err, family.ErrInvalidEmail),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidQuantity),
		errors.Is(err, core.ErrEmptyVendor),
		errors.Is(err, core.ErrEmptyItemName):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, core.ErrNoItems):
		return http.StatusUnprocessableEntity, "no_items"
	case errors.Is(err, ingest.ErrEmptyImage):
		return http.StatusBadRequest, "empty_image"
	case errors.Is(err, ingest.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge, "image_too_large"
	case errors.Is(err, ingest.ErrExtractionParse):
		return http.StatusUnprocessableEntity, "extraction_parse"
	case errors.Is(err, ingest.ErrExtractionFormat):
		return http.StatusUnprocessableEntity, "extraction_format"
	case errors.Is(err, ingest.ErrEmptyExtraction):
		return http.StatusUnprocessableEntity, "empty_extraction"
	case errors.Is(err, ingest.ErrMissingCategory):
		return http.StatusUnprocessableEntity, "missing_category"
	case errors.Is(err, ingest.ErrExtractionTimeout):
		return http.StatusGatewayTimeout, "extraction_timeout"
	case errors.Is(err, ingest.ErrExtractorOffline):
		return http.StatusServiceUnavailable, "extractor_offline"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// parseDateRange reads ?from= and ?to= query parameters. Missing bounds
// default to the current calendar month.
func parseDateRange(r *http.Request) (from, to core.Date, err error) {
	now := time.Now().UTC()
	from = core.NewDate(now.Year(), int(now.Month()), 1)
	to = core.DateOf(now)

	if v := strings.TrimSpace(r.URL.Query().Get("from")); v != "" {
		if from, err = core.ParseDate(v); err != nil {
			return from, to, fmt.Errorf("%w: from=%q", core.ErrInvalidDate, v)
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("to")); v != "" {
		if to, err = core.ParseDate(v); err != nil {
			return from, to, fmt.Errorf("%w: to=%q", core.ErrInvalidDate, v)
		}
	}
	if from.After(to) {
		return from, to, fmt.Errorf("%w: from is after to", core.ErrInvalidDate)
	}
	return from, to, nil
}

// sanitizeInput removes potentially dangerous characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
