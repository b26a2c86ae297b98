package http

import (
	"net/http"
)

func (s *Server) handleListFamilies(w http.ResponseWriter, r *http.Request, userID string) {
	fams, err := s.families.LoadFamilies(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]familyDTO, 0, len(fams.Families))
	for _, f := range fams.Families {
		out = append(out, familyDTO{
			ID:        f.ID,
			Name:      f.Name,
			Role:      string(fams.Roles[f.ID]),
			CreatedBy: f.CreatedBy,
			CreatedAt: f.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"families": out})
}

func (s *Server) handleCreateFamily(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Name string `json:"name"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_body"})
		return
	}

	fam, err := s.families.CreateFamily(r.Context(), userID, sanitizeInput(req.Name))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, familyDTO{
		ID:        fam.ID,
		Name:      fam.Name,
		Role:      "admin",
		CreatedBy: fam.CreatedBy,
		CreatedAt: fam.CreatedAt,
	})
}

func (s *Server) handleDeleteFamily(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.families.DeleteFamily(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request, userID string) {
	familyID := r.PathValue("id")
	// Membership check before exposing the roster.
	if _, err := s.families.Role(r.Context(), userID, familyID); err != nil {
		writeError(w, r, err)
		return
	}
	members, err := s.families.LoadMembers(r.Context(), familyID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]memberDTO, 0, len(members))
	for _, m := range members {
		out = append(out, toMemberDTO(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request, userID string) {
	err := s.families.RemoveMember(r.Context(), userID, r.PathValue("id"), r.PathValue("userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaveFamily(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.families.Leave(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Email string `json:"email"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_body"})
		return
	}

	inv, err := s.families.Invite(r.Context(), userID, r.PathValue("id"), req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvitationDTO(inv))
}

// handleListInvitations returns live pending invitations across every
// family the caller belongs to.
func (s *Server) handleListInvitations(w http.ResponseWriter, r *http.Request, userID string) {
	fams, err := s.families.LoadFamilies(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	familyIDs := make([]string, 0, len(fams.Families))
	for _, f := range fams.Families {
		familyIDs = append(familyIDs, f.ID)
	}
	invitations, err := s.families.PendingInvitations(r.Context(), familyIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]invitationDTO, 0, len(invitations))
	for _, inv := range invitations {
		out = append(out, toInvitationDTO(inv))
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": out})
}

func (s *Server) handleCancelInvitation(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.families.CancelInvitation(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.families.Accept(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
