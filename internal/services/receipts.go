package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ricevute/internal/core"
	"ricevute/internal/ingest"
)

// ReceiptStorage is the storage port for receipt mutation. Every method
// that touches items is transactional on the storage side.
type ReceiptStorage interface {
	CreateReceiptWithItems(ctx context.Context, rec core.Receipt, items []core.Item) error
	GetReceipt(ctx context.Context, id string) (core.Receipt, error)
	UpdateReceiptFields(ctx context.Context, id string, patch core.ReceiptPatch) error
	ReplaceItems(ctx context.Context, receiptID string, items []core.Item) (core.Money, error)
	AddItem(ctx context.Context, it core.Item) (core.Money, error)
	DeleteItem(ctx context.Context, itemID string) (core.Money, error)
	DeleteReceipt(ctx context.Context, id string) error
	GetItem(ctx context.Context, itemID string) (core.Item, error)
	ListItems(ctx context.Context, receiptID string) ([]core.Item, error)
}

// ItemInput is an item as submitted by a client, before normalization.
// TotalPrice is intentionally absent: line totals are always recomputed
// from quantity and unit price, never trusted from the caller.
type ItemInput struct {
	Name        string
	Quantity    int64
	UnitPrice   core.Money
	CategoryID  string
	Description string
}

// ReceiptInput is a receipt create request. Scope decides whether the
// receipt lands on the personal or the family ledger.
type ReceiptInput struct {
	VendorName  string
	Date        core.Date
	TaxAmount   core.Money
	TipAmount   core.Money
	Notes       string
	Scope       core.Scope
	Items       []ItemInput
	AIExtracted bool
	AIData      string
}

// ReceiptService is the single write path for receipts and their items.
// It owns the two money rules: an item's total is quantity times unit
// price, and a receipt's total is the sum of its item totals. Tax and tip
// are stored but never folded into the total.
type ReceiptService struct {
	storage ReceiptStorage
	now     func() time.Time
}

func NewReceiptService(storage ReceiptStorage) *ReceiptService {
	return &ReceiptService{storage: storage, now: time.Now}
}

// Create validates, normalizes, and persists a receipt with its items in
// one storage transaction. A receipt with zero items is rejected.
func (s *ReceiptService) Create(ctx context.Context, in ReceiptInput) (core.ReceiptWithItems, error) {
	if len(in.Items) == 0 {
		return core.ReceiptWithItems{}, core.ErrNoItems
	}

	rec := core.Receipt{
		ID:          uuid.NewString(),
		VendorName:  strings.TrimSpace(in.VendorName),
		Date:        in.Date,
		TaxAmount:   in.TaxAmount,
		TipAmount:   in.TipAmount,
		Notes:       strings.TrimSpace(in.Notes),
		UserID:      in.Scope.UserID,
		FamilyID:    in.Scope.FamilyID,
		AddedBy:     in.Scope.UserID,
		AIExtracted: in.AIExtracted,
		AIData:      in.AIData,
		CreatedAt:   s.now().UTC(),
	}

	items, total, err := normalizeItems(rec.ID, in.Items)
	if err != nil {
		return core.ReceiptWithItems{}, err
	}
	rec.TotalAmount = total

	if err := rec.Validate(); err != nil {
		return core.ReceiptWithItems{}, err
	}
	if err := s.storage.CreateReceiptWithItems(ctx, rec, items); err != nil {
		return core.ReceiptWithItems{}, fmt.Errorf("create receipt: %w", err)
	}
	return withItems(rec, items), nil
}

// CreateFromDraft persists a reviewed ingestion draft. The draft's
// caller-visible totals are advisory only; the stored totals come from
// the same normalization as a manual create.
func (s *ReceiptService) CreateFromDraft(ctx context.Context, scope core.Scope, draft ingest.Draft) (core.ReceiptWithItems, error) {
	in := ReceiptInput{
		VendorName:  draft.VendorName,
		Date:        draft.Date,
		TaxAmount:   draft.TaxAmount,
		TipAmount:   draft.TipAmount,
		Scope:       scope,
		AIExtracted: true,
		AIData:      draft.AIData,
	}
	if in.Date.IsZero() {
		in.Date = core.DateOf(s.now().UTC())
	}
	for _, it := range draft.Items {
		in.Items = append(in.Items, ItemInput{
			Name:        it.Name,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			CategoryID:  it.CategoryID,
			Description: it.Description,
		})
	}
	return s.Create(ctx, in)
}

// Update patches receipt-level fields. Items and the computed total stay
// as they are.
func (s *ReceiptService) Update(ctx context.Context, receiptID string, patch core.ReceiptPatch) (core.Receipt, error) {
	if patch.VendorName != nil && strings.TrimSpace(*patch.VendorName) == "" {
		return core.Receipt{}, core.ErrEmptyVendor
	}
	if patch.Date != nil {
		if err := patch.Date.Validate(); err != nil {
			return core.Receipt{}, err
		}
	}
	for _, m := range []*core.Money{patch.TaxAmount, patch.TipAmount} {
		if m != nil {
			if err := m.Validate(); err != nil {
				return core.Receipt{}, err
			}
		}
	}
	if err := s.storage.UpdateReceiptFields(ctx, receiptID, patch); err != nil {
		return core.Receipt{}, err
	}
	return s.storage.GetReceipt(ctx, receiptID)
}

// ReplaceItems swaps the receipt's item set and returns the recomputed
// receipt total. An empty set is rejected; removal of the last item goes
// through DeleteReceipt instead.
func (s *ReceiptService) ReplaceItems(ctx context.Context, receiptID string, inputs []ItemInput) (core.Money, error) {
	if len(inputs) == 0 {
		return core.Money{}, core.ErrNoItems
	}
	if _, err := s.storage.GetReceipt(ctx, receiptID); err != nil {
		return core.Money{}, err
	}
	items, _, err := normalizeItems(receiptID, inputs)
	if err != nil {
		return core.Money{}, err
	}
	total, err := s.storage.ReplaceItems(ctx, receiptID, items)
	if err != nil {
		return core.Money{}, fmt.Errorf("replace items: %w", err)
	}
	return total, nil
}

// AddItem appends one item and returns the recomputed receipt total.
func (s *ReceiptService) AddItem(ctx context.Context, receiptID string, in ItemInput) (core.Item, core.Money, error) {
	if _, err := s.storage.GetReceipt(ctx, receiptID); err != nil {
		return core.Item{}, core.Money{}, err
	}
	it, err := normalizeItem(receiptID, in)
	if err != nil {
		return core.Item{}, core.Money{}, err
	}
	total, err := s.storage.AddItem(ctx, it)
	if err != nil {
		return core.Item{}, core.Money{}, fmt.Errorf("add item: %w", err)
	}
	return it, total, nil
}

// RemoveItem deletes one item and returns the recomputed receipt total.
func (s *ReceiptService) RemoveItem(ctx context.Context, itemID string) (core.Money, error) {
	total, err := s.storage.DeleteItem(ctx, itemID)
	if err != nil {
		return core.Money{}, err
	}
	return total, nil
}

// Receipt returns the receipt row without its items, for callers that
// only need ownership fields.
func (s *ReceiptService) Receipt(ctx context.Context, receiptID string) (core.Receipt, error) {
	return s.storage.GetReceipt(ctx, receiptID)
}

// Item returns one item row, mainly so callers can find the owning
// receipt of an item id.
func (s *ReceiptService) Item(ctx context.Context, itemID string) (core.Item, error) {
	return s.storage.GetItem(ctx, itemID)
}

func (s *ReceiptService) Get(ctx context.Context, receiptID string) (core.ReceiptWithItems, error) {
	rec, err := s.storage.GetReceipt(ctx, receiptID)
	if err != nil {
		return core.ReceiptWithItems{}, err
	}
	items, err := s.storage.ListItems(ctx, receiptID)
	if err != nil {
		return core.ReceiptWithItems{}, fmt.Errorf("list items: %w", err)
	}
	return withItems(rec, items), nil
}

func (s *ReceiptService) Delete(ctx context.Context, receiptID string) error {
	return s.storage.DeleteReceipt(ctx, receiptID)
}

// normalizeItems assigns ids, recomputes every line total, and sums them
// into the receipt total.
func normalizeItems(receiptID string, inputs []ItemInput) ([]core.Item, core.Money, error) {
	items := make([]core.Item, 0, len(inputs))
	var total core.Money
	for _, in := range inputs {
		it, err := normalizeItem(receiptID, in)
		if err != nil {
			return nil, core.Money{}, err
		}
		items = append(items, it)
		total = total.Add(it.TotalPrice)
	}
	return items, total, nil
}

func normalizeItem(receiptID string, in ItemInput) (core.Item, error) {
	it := core.Item{
		ID:          uuid.NewString(),
		ReceiptID:   receiptID,
		Name:        strings.TrimSpace(in.Name),
		Quantity:    in.Quantity,
		UnitPrice:   in.UnitPrice,
		CategoryID:  in.CategoryID,
		Description: strings.TrimSpace(in.Description),
	}
	if err := it.Validate(); err != nil {
		return core.Item{}, err
	}
	it.TotalPrice = core.LineTotal(it.Quantity, it.UnitPrice)
	return it, nil
}

func withItems(rec core.Receipt, items []core.Item) core.ReceiptWithItems {
	out := core.ReceiptWithItems{Receipt: rec}
	for _, it := range items {
		out.Items = append(out.Items, core.ItemWithCategory{Item: it})
	}
	return out
}
