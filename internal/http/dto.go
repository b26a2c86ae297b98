package http

import (
	"time"

	"ricevute/internal/core"
	"ricevute/internal/ingest"
)

// Wire types for the JSON API. Monetary amounts travel as decimal strings
// ("12.34"); cents never leak onto the wire.

type accountDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	FamilyID string `json:"family_id,omitempty"`
}

type accountsResponse struct {
	Accounts []accountDTO `json:"accounts"`
	Current  *accountDTO  `json:"current,omitempty"`
	Loading  bool         `json:"loading,omitempty"`
}

type familyDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type memberDTO struct {
	UserID   string    `json:"user_id"`
	Name     string    `json:"name,omitempty"`
	Email    string    `json:"email,omitempty"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type invitationDTO struct {
	ID            string    `json:"id"`
	FamilyID      string    `json:"family_id"`
	InvitedEmail  string    `json:"invited_email"`
	InvitedByName string    `json:"invited_by_name,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type categoryDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Level    int    `json:"level"`
	ParentID string `json:"parent_id,omitempty"`
	Color    string `json:"color,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

type itemDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	TotalPrice   string `json:"total_price"`
	CategoryID   string `json:"category_id,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
	Description  string `json:"description,omitempty"`
}

type receiptDTO struct {
	ID          string    `json:"id"`
	VendorName  string    `json:"vendor_name"`
	Date        string    `json:"date"`
	TotalAmount string    `json:"total_amount"`
	TaxAmount   string    `json:"tax_amount"`
	TipAmount   string    `json:"tip_amount"`
	Notes       string    `json:"notes,omitempty"`
	FamilyID    string    `json:"family_id,omitempty"`
	AddedBy     string    `json:"added_by,omitempty"`
	AIExtracted bool      `json:"ai_extracted"`
	CreatedAt   time.Time `json:"created_at"`
	Items       []itemDTO `json:"items"`
}

type draftItemDTO struct {
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	TotalPrice   string `json:"total_price"`
	CategoryID   string `json:"category_id,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
	Description  string `json:"description,omitempty"`
}

type draftDTO struct {
	VendorName  string         `json:"vendor_name"`
	Date        string         `json:"date,omitempty"`
	TotalAmount string         `json:"total_amount"`
	TaxAmount   string         `json:"tax_amount"`
	TipAmount   string         `json:"tip_amount"`
	Items       []draftItemDTO `json:"items"`
	Model       string         `json:"model,omitempty"`
}

type breakdownDTO struct {
	Category string `json:"category"`
	Amount   string `json:"amount"`
	Count    int    `json:"count"`
}

type dailySpendDTO struct {
	Date   string `json:"date"`
	Amount string `json:"amount"`
}

type summaryDTO struct {
	TotalAmount       string          `json:"total_amount"`
	TransactionCount  int             `json:"transaction_count"`
	AvgTransaction    string          `json:"avg_transaction"`
	CategoryBreakdown []breakdownDTO  `json:"category_breakdown"`
	DailySpending     []dailySpendDTO `json:"daily_spending"`
}

type usageDTO struct {
	ID               string    `json:"id"`
	FunctionName     string    `json:"function_name"`
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	ReceiptID        string    `json:"receipt_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func toAccountDTO(a core.Account) accountDTO {
	return accountDTO{ID: a.ID, Name: a.Name, Type: string(a.Type), FamilyID: a.FamilyID}
}

func toMemberDTO(m core.Member) memberDTO {
	return memberDTO{
		UserID:   m.UserID,
		Name:     m.Name,
		Email:    m.Email,
		Role:     string(m.Role),
		JoinedAt: m.JoinedAt,
	}
}

func toInvitationDTO(inv core.Invitation) invitationDTO {
	return invitationDTO{
		ID:            inv.ID,
		FamilyID:      inv.FamilyID,
		InvitedEmail:  inv.InvitedEmail,
		InvitedByName: inv.InvitedByName,
		Status:        string(inv.Status),
		CreatedAt:     inv.CreatedAt,
		ExpiresAt:     inv.ExpiresAt,
	}
}

func toCategoryDTO(c core.Category) categoryDTO {
	return categoryDTO{
		ID:       c.ID,
		Name:     c.Name,
		Level:    c.Level,
		ParentID: c.ParentID,
		Color:    c.Color,
		Icon:     c.Icon,
	}
}

func toReceiptDTO(r core.ReceiptWithItems) receiptDTO {
	dto := receiptDTO{
		ID:          r.ID,
		VendorName:  r.VendorName,
		Date:        r.Date.ISO(),
		TotalAmount: r.TotalAmount.String(),
		TaxAmount:   r.TaxAmount.String(),
		TipAmount:   r.TipAmount.String(),
		Notes:       r.Notes,
		FamilyID:    r.FamilyID,
		AddedBy:     r.AddedBy,
		AIExtracted: r.AIExtracted,
		CreatedAt:   r.CreatedAt,
		Items:       make([]itemDTO, 0, len(r.Items)),
	}
	for _, it := range r.Items {
		dto.Items = append(dto.Items, itemDTO{
			ID:           it.ID,
			Name:         it.Name,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice.String(),
			TotalPrice:   it.TotalPrice.String(),
			CategoryID:   it.CategoryID,
			CategoryName: it.CategoryName,
			Description:  it.Description,
		})
	}
	return dto
}

func toDraftDTO(d ingest.Draft) draftDTO {
	dto := draftDTO{
		VendorName:  d.VendorName,
		TotalAmount: d.TotalAmount.String(),
		TaxAmount:   d.TaxAmount.String(),
		TipAmount:   d.TipAmount.String(),
		Items:       make([]draftItemDTO, 0, len(d.Items)),
		Model:       d.Model,
	}
	if !d.Date.IsZero() {
		dto.Date = d.Date.ISO()
	}
	for _, it := range d.Items {
		dto.Items = append(dto.Items, draftItemDTO{
			Name:         it.Name,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice.String(),
			TotalPrice:   it.TotalPrice.String(),
			CategoryID:   it.CategoryID,
			CategoryName: it.CategoryName,
			Description:  it.Description,
		})
	}
	return dto
}

func toSummaryDTO(s core.Summary) summaryDTO {
	dto := summaryDTO{
		TotalAmount:       s.TotalAmount.String(),
		TransactionCount:  s.TransactionCount,
		AvgTransaction:    s.AvgTransaction.String(),
		CategoryBreakdown: make([]breakdownDTO, 0, len(s.CategoryBreakdown)),
		DailySpending:     make([]dailySpendDTO, 0, len(s.DailySpending)),
	}
	for _, b := range s.CategoryBreakdown {
		dto.CategoryBreakdown = append(dto.CategoryBreakdown, breakdownDTO{
			Category: b.Category,
			Amount:   b.Amount.String(),
			Count:    b.Count,
		})
	}
	for _, d := range s.DailySpending {
		dto.DailySpending = append(dto.DailySpending, dailySpendDTO{
			Date:   d.Day.ISO(),
			Amount: d.Amount.String(),
		})
	}
	return dto
}

func toUsageDTO(rec core.UsageRecord) usageDTO {
	return usageDTO{
		ID:               rec.ID,
		FunctionName:     rec.FunctionName,
		Model:            rec.Model,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.TotalTokens,
		CostUSD:          rec.CostUSD,
		ReceiptID:        rec.ReceiptID,
		CreatedAt:        rec.CreatedAt,
	}
}
