package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ricevute/internal/core"
	"ricevute/internal/services"
)

// itemRequest is one item as submitted by a client. total_price is
// intentionally not accepted: line totals are always recomputed.
type itemRequest struct {
	Name        string `json:"name"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	CategoryID  string `json:"category_id"`
	Description string `json:"description"`
}

type receiptRequest struct {
	VendorName  string        `json:"vendor_name"`
	Date        string        `json:"date"`
	TaxAmount   string        `json:"tax_amount"`
	TipAmount   string        `json:"tip_amount"`
	Notes       string        `json:"notes"`
	Items       []itemRequest `json:"items"`
	AIExtracted bool          `json:"ai_extracted"`
	AIData      string        `json:"ai_data"`
}

// handleIngestReceipt runs the extraction pipeline and returns a draft for
// review. Nothing is persisted here: the client saves the reviewed draft
// through POST /api/receipts.
//
// The image arrives either as a multipart "image" part or as a JSON body
// with a base64 payload.
func (s *Server) handleIngestReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	image, mimeType, err := s.readImage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cats, err := s.categories.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	draft, err := s.reconciler.Ingest(r.Context(), userID, image, mimeType, cats)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftDTO(draft))
}

func (s *Server) readImage(r *http.Request) ([]byte, string, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(s.maxImageBytes); err != nil {
			return nil, "", fmt.Errorf("parse multipart form: %w", err)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			return nil, "", fmt.Errorf("read image part: %w", err)
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, s.maxImageBytes+1))
		if err != nil {
			return nil, "", fmt.Errorf("read image: %w", err)
		}
		return data, header.Header.Get("Content-Type"), nil
	}

	var req struct {
		ImageBase64 string `json:"image_base64"`
		MimeType    string `json:"mime_type"`
	}
	body := http.MaxBytesReader(nil, r.Body, s.maxImageBytes*2)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, "", fmt.Errorf("decode request body: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		return nil, "", fmt.Errorf("decode image payload: %w", err)
	}
	return data, req.MimeType, nil
}

func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	var req receiptRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_body"})
		return
	}

	in, err := s.buildReceiptInput(r, userID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.receipts.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptDTO(created))
}

func (s *Server) buildReceiptInput(r *http.Request, userID string, req receiptRequest) (services.ReceiptInput, error) {
	scope, err := s.currentScope(r, userID)
	if err != nil {
		return services.ReceiptInput{}, err
	}

	date, err := core.ParseDate(req.Date)
	if err != nil {
		return services.ReceiptInput{}, err
	}
	in := services.ReceiptInput{
		VendorName:  sanitizeInput(req.VendorName),
		Date:        date,
		Notes:       sanitizeInput(req.Notes),
		Scope:       scope,
		AIExtracted: req.AIExtracted,
		AIData:      req.AIData,
	}
	if in.TaxAmount, err = parseOptionalAmount(req.TaxAmount); err != nil {
		return services.ReceiptInput{}, err
	}
	if in.TipAmount, err = parseOptionalAmount(req.TipAmount); err != nil {
		return services.ReceiptInput{}, err
	}
	for _, it := range req.Items {
		input, err := parseItemRequest(it)
		if err != nil {
			return services.ReceiptInput{}, err
		}
		in.Items = append(in.Items, input)
	}
	return in, nil
}

func parseItemRequest(it itemRequest) (services.ItemInput, error) {
	cents, err := core.ParseDecimalToCents(it.UnitPrice)
	if err != nil {
		return services.ItemInput{}, fmt.Errorf("%w: unit_price %q", core.ErrInvalidAmount, it.UnitPrice)
	}
	return services.ItemInput{
		Name:        sanitizeInput(it.Name),
		Quantity:    it.Quantity,
		UnitPrice:   core.Money{Cents: cents},
		CategoryID:  strings.TrimSpace(it.CategoryID),
		Description: sanitizeInput(it.Description),
	}, nil
}

func parseOptionalAmount(s string) (core.Money, error) {
	if strings.TrimSpace(s) == "" {
		return core.Money{}, nil
	}
	cents, err := core.ParseDecimalToCents(s)
	if err != nil {
		return core.Money{}, err
	}
	return core.Money{Cents: cents}, nil
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request, userID string) {
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

	receipts, err := s.spend.ListReceipts(r.Context(), scope, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]receiptDTO, 0, len(receipts))
	for _, rec := range receipts {
		out = append(out, toReceiptDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": out})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	rec, err := s.receipts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.authorizeReceipt(r, userID, rec.Receipt); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptDTO(rec))
}

func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		VendorName *string `json:"vendor_name"`
		Date       *string `json:"date"`
		TaxAmount  *string `json:"tax_amount"`
		TipAmount  *string `json:"tip_amount"`
		Notes      *string `json:"notes"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_body"})
		return
	}

	var patch core.ReceiptPatch
	if req.VendorName != nil {
		v := sanitizeInput(*req.VendorName)
		patch.VendorName = &v
	}
	if req.Date != nil {
		d, err := core.ParseDate(*req.Date)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch.Date = &d
	}
	if req.TaxAmount != nil {
		m, err := parseOptionalAmount(*req.TaxAmount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch.TaxAmount = &m
	}
	if req.TipAmount != nil {
		m, err := parseOptionalAmount(*req.TipAmount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch.TipAmount = &m
	}
	if req.Notes != nil {
		v := sanitizeInput(*req.Notes)
		patch.Notes = &v
	}

	if _, err := s.loadAuthorizedReceipt(r, userID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.receipts.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptDTO(core.ReceiptWithItems{Receipt: rec}))
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	if _, err := s.loadAuthorizedReceipt(r, userID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.receipts.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReplaceItems(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Items []itemRequest `json:"items"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_body"})
		return
	}

	inputs := make([]services.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		input, err := parseItemRequest(it)
		if err != nil {
			writeError(w, r, err)
			return
		}
		inputs = append(inputs, input)
	}

	if _, err := s.loadAuthorizedReceipt(r, userID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	total, err := s.receipts.ReplaceItems(r.Context(), r.PathValue("id"), inputs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_amount": total.String()})
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request, userID string) {
	var req itemRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_body"})
		return
	}
	input, err := parseItemRequest(req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := s.loadAuthorizedReceipt(r, userID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	item, total, err := s.receipts.AddItem(r.Context(), r.PathValue("id"), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"item": itemDTO{
			ID:          item.ID,
			Name:        item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.String(),
			TotalPrice:  item.TotalPrice.String(),
			CategoryID:  item.CategoryID,
			Description: item.Description,
		},
		"total_amount": total.String(),
	})
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request, userID string) {
	item, err := s.receipts.Item(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.loadAuthorizedReceipt(r, userID, item.ReceiptID); err != nil {
		writeError(w, r, err)
		return
	}
	total, err := s.receipts.RemoveItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_amount": total.String()})
}
