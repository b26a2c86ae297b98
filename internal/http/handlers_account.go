package http

import (
	"net/http"
	"strings"
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request, userID string) {
	fams, err := s.families.LoadFamilies(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sel := s.resolver.Resolve(userID, fams.Families, false)

	resp := accountsResponse{Loading: sel.Loading}
	for _, a := range sel.Available {
		resp.Accounts = append(resp.Accounts, toAccountDTO(a))
	}
	if sel.Current != nil {
		dto := toAccountDTO(*sel.Current)
		resp.Current = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSelectAccount(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		AccountID string `json:"account_id"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_body"})
		return
	}
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "account_id is required", Code: "invalid_body"})
		return
	}

	fams, err := s.families.LoadFamilies(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sel := s.resolver.Resolve(userID, fams.Families, false)
	if err := s.resolver.Select(&sel, req.AccountID); err != nil {
		writeError(w, r, err)
		return
	}

	dto := toAccountDTO(*sel.Current)
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request, userID string) {
	cats, err := s.categories.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]categoryDTO, 0, len(cats))
	for _, c := range cats {
		out = append(out, toCategoryDTO(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}
