package http

import (
	"errors"
	"net/http"

	"ricevute/internal/core"
)

// errScopeForbidden rejects by-id access to a receipt outside the
// caller's accounts.
var errScopeForbidden = errors.New("receipt belongs to another account")

// authorizeReceipt checks that the caller may act on a receipt: personal
// receipts only for their owner, family receipts for any current member.
// Identity headers name the caller but say nothing about the rows they
// touch, so every by-id operation goes through this check.
func (s *Server) authorizeReceipt(r *http.Request, userID string, rec core.Receipt) error {
	if rec.FamilyID == "" {
		if rec.UserID != userID {
			return errScopeForbidden
		}
		return nil
	}
	if _, err := s.families.Role(r.Context(), userID, rec.FamilyID); err != nil {
		return err
	}
	return nil
}

// loadAuthorizedReceipt fetches the receipt row and runs the scope check.
func (s *Server) loadAuthorizedReceipt(r *http.Request, userID, receiptID string) (core.Receipt, error) {
	rec, err := s.receipts.Receipt(r.Context(), receiptID)
	if err != nil {
		return core.Receipt{}, err
	}
	if err := s.authorizeReceipt(r, userID, rec); err != nil {
		return core.Receipt{}, err
	}
	return rec, nil
}
