package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"ricevute/internal/core"
)

// CreateReceiptWithItems inserts the receipt and all of its items in one
// transaction. A receipt is never visible without its items.
func (r *Repository) CreateReceiptWithItems(ctx context.Context, rec core.Receipt, items []core.Item) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO receipts
				(id, vendor_name, date, total_amount_cents, tax_amount_cents, tip_amount_cents,
				 notes, user_id, family_id, added_by, ai_extracted, ai_data, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.VendorName, rec.Date.ISO(), rec.TotalAmount.Cents, rec.TaxAmount.Cents,
			rec.TipAmount.Cents, rec.Notes, rec.UserID, nullIfEmpty(rec.FamilyID),
			nullIfEmpty(rec.AddedBy), rec.AIExtracted, nullIfEmpty(rec.AIData), rec.CreatedAt); err != nil {
			return fmt.Errorf("insert receipt: %w", err)
		}
		for _, it := range items {
			if err := insertItem(ctx, tx, it); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Receipt saved",
		"receipt_id", rec.ID,
		"item_count", len(items),
		"amount_cents", rec.TotalAmount.Cents)
	return nil
}

func insertItem(ctx context.Context, tx *sql.Tx, it core.Item) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO items
			(id, receipt_id, name, quantity, unit_price_cents, total_price_cents, category_id, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.ReceiptID, it.Name, it.Quantity, it.UnitPrice.Cents, it.TotalPrice.Cents,
		nullIfEmpty(it.CategoryID), it.Description); err != nil {
		return fmt.Errorf("insert item %s: %w", it.ID, err)
	}
	return nil
}

func (r *Repository) GetReceipt(ctx context.Context, id string) (core.Receipt, error) {
	const q = `
		SELECT id, vendor_name, date, total_amount_cents, tax_amount_cents, tip_amount_cents,
		       COALESCE(notes, ''), user_id, COALESCE(family_id, ''), COALESCE(added_by, ''),
		       ai_extracted, COALESCE(ai_data, ''), created_at
		FROM receipts WHERE id = ?`
	rec, err := scanReceipt(r.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return core.Receipt{}, ErrNotFound
	}
	if err != nil {
		return core.Receipt{}, fmt.Errorf("get receipt: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (core.Receipt, error) {
	var rec core.Receipt
	var date string
	if err := row.Scan(&rec.ID, &rec.VendorName, &date, &rec.TotalAmount.Cents,
		&rec.TaxAmount.Cents, &rec.TipAmount.Cents, &rec.Notes, &rec.UserID,
		&rec.FamilyID, &rec.AddedBy, &rec.AIExtracted, &rec.AIData, &rec.CreatedAt); err != nil {
		return core.Receipt{}, err
	}
	if d, err := core.ParseDate(date); err == nil {
		rec.Date = d
	}
	return rec, nil
}

// UpdateReceiptFields patches receipt-level fields only; items and the
// computed total are never touched here.
func (r *Repository) UpdateReceiptFields(ctx context.Context, id string, patch core.ReceiptPatch) error {
	set := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if patch.VendorName != nil {
		set = append(set, "vendor_name = ?")
		args = append(args, *patch.VendorName)
	}
	if patch.Date != nil {
		set = append(set, "date = ?")
		args = append(args, patch.Date.ISO())
	}
	if patch.TaxAmount != nil {
		set = append(set, "tax_amount_cents = ?")
		args = append(args, patch.TaxAmount.Cents)
	}
	if patch.TipAmount != nil {
		set = append(set, "tip_amount_cents = ?")
		args = append(args, patch.TipAmount.Cents)
	}
	if patch.Notes != nil {
		set = append(set, "notes = ?")
		args = append(args, *patch.Notes)
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	q := "UPDATE receipts SET " + joinSet(set) + " WHERE id = ?"
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update receipt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func joinSet(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}

// ReplaceItems swaps the full item set of a receipt and rewrites the
// receipt total as the sum of the new items, all in one transaction.
func (r *Repository) ReplaceItems(ctx context.Context, receiptID string, items []core.Item) (core.Money, error) {
	var total core.Money
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE receipt_id = ?`, receiptID); err != nil {
			return fmt.Errorf("clear items: %w", err)
		}
		for _, it := range items {
			if err := insertItem(ctx, tx, it); err != nil {
				return err
			}
		}
		var err error
		total, err = recomputeTotal(ctx, tx, receiptID)
		return err
	})
	return total, err
}

// AddItem appends one item and recomputes the parent total.
func (r *Repository) AddItem(ctx context.Context, it core.Item) (core.Money, error) {
	var total core.Money
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertItem(ctx, tx, it); err != nil {
			return err
		}
		var err error
		total, err = recomputeTotal(ctx, tx, it.ReceiptID)
		return err
	})
	return total, err
}

// DeleteItem removes one item and recomputes the parent total.
func (r *Repository) DeleteItem(ctx context.Context, itemID string) (core.Money, error) {
	var total core.Money
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var receiptID string
		err := tx.QueryRowContext(ctx, `SELECT receipt_id FROM items WHERE id = ?`, itemID).Scan(&receiptID)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("find item: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, itemID); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		total, err = recomputeTotal(ctx, tx, receiptID)
		return err
	})
	return total, err
}

// recomputeTotal re-establishes the one receipt/item consistency rule:
// total_amount equals the sum of the items' total_price.
func recomputeTotal(ctx context.Context, tx *sql.Tx, receiptID string) (core.Money, error) {
	var cents int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_price_cents), 0) FROM items WHERE receipt_id = ?`,
		receiptID).Scan(&cents); err != nil {
		return core.Money{}, fmt.Errorf("sum items: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE receipts SET total_amount_cents = ? WHERE id = ?`, cents, receiptID)
	if err != nil {
		return core.Money{}, fmt.Errorf("write recomputed total: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Money{}, ErrNotFound
	}
	return core.Money{Cents: cents}, nil
}

// DeleteReceipt removes the items first, then the receipt, in one
// transaction: a receipt is never deleted while rows still reference it.
func (r *Repository) DeleteReceipt(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE receipt_id = ?`, id); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM receipts WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete receipt: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *Repository) GetItem(ctx context.Context, itemID string) (core.Item, error) {
	const q = `
		SELECT id, receipt_id, name, quantity, unit_price_cents, total_price_cents,
		       COALESCE(category_id, ''), COALESCE(description, '')
		FROM items WHERE id = ?`
	var it core.Item
	err := r.db.QueryRowContext(ctx, q, itemID).Scan(&it.ID, &it.ReceiptID, &it.Name,
		&it.Quantity, &it.UnitPrice.Cents, &it.TotalPrice.Cents, &it.CategoryID, &it.Description)
	if err == sql.ErrNoRows {
		return core.Item{}, ErrNotFound
	}
	if err != nil {
		return core.Item{}, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

func (r *Repository) ListItems(ctx context.Context, receiptID string) ([]core.Item, error) {
	const q = `
		SELECT id, receipt_id, name, quantity, unit_price_cents, total_price_cents,
		       COALESCE(category_id, ''), COALESCE(description, '')
		FROM items WHERE receipt_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, receiptID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []core.Item
	for rows.Next() {
		var it core.Item
		if err := rows.Scan(&it.ID, &it.ReceiptID, &it.Name, &it.Quantity,
			&it.UnitPrice.Cents, &it.TotalPrice.Cents, &it.CategoryID, &it.Description); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListReceiptsWithItems fetches every receipt in the window for the given
// scope, each with its items and their category names, in a single joined
// read. Family scope filters on family_id; personal scope requires a null
// family_id and a matching user_id.
func (r *Repository) ListReceiptsWithItems(ctx context.Context, scope core.Scope, from, to core.Date) ([]core.ReceiptWithItems, error) {
	q := `
		SELECT r.id, r.vendor_name, r.date, r.total_amount_cents, r.tax_amount_cents,
		       r.tip_amount_cents, COALESCE(r.notes, ''), r.user_id, COALESCE(r.family_id, ''),
		       COALESCE(r.added_by, ''), r.ai_extracted, COALESCE(r.ai_data, ''), r.created_at,
		       i.id, i.name, i.quantity, i.unit_price_cents, i.total_price_cents,
		       COALESCE(i.category_id, ''), COALESCE(i.description, ''), COALESCE(c.name, '')
		FROM receipts r
		LEFT JOIN items i ON i.receipt_id = r.id
		LEFT JOIN categories c ON c.id = i.category_id
		WHERE r.date >= ? AND r.date <= ?`
	args := []any{from.ISO(), to.ISO()}
	if scope.Personal() {
		q += ` AND r.family_id IS NULL AND r.user_id = ?`
		args = append(args, scope.UserID)
	} else {
		q += ` AND r.family_id = ?`
		args = append(args, scope.FamilyID)
	}
	q += ` ORDER BY r.date DESC, r.created_at DESC, r.id, i.id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query receipts with items: %w", err)
	}
	defer rows.Close()

	var out []core.ReceiptWithItems
	index := make(map[string]int)
	for rows.Next() {
		var rec core.Receipt
		var date string
		var itemID, itemName, categoryID, description, categoryName sql.NullString
		var quantity, unitCents, totalCents sql.NullInt64

		if err := rows.Scan(&rec.ID, &rec.VendorName, &date, &rec.TotalAmount.Cents,
			&rec.TaxAmount.Cents, &rec.TipAmount.Cents, &rec.Notes, &rec.UserID,
			&rec.FamilyID, &rec.AddedBy, &rec.AIExtracted, &rec.AIData, &rec.CreatedAt,
			&itemID, &itemName, &quantity, &unitCents, &totalCents,
			&categoryID, &description, &categoryName); err != nil {
			return nil, fmt.Errorf("scan receipt row: %w", err)
		}
		if d, err := core.ParseDate(date); err == nil {
			rec.Date = d
		}

		pos, seen := index[rec.ID]
		if !seen {
			out = append(out, core.ReceiptWithItems{Receipt: rec})
			pos = len(out) - 1
			index[rec.ID] = pos
		}
		if itemID.Valid {
			out[pos].Items = append(out[pos].Items, core.ItemWithCategory{
				Item: core.Item{
					ID:          itemID.String,
					ReceiptID:   rec.ID,
					Name:        itemName.String,
					Quantity:    quantity.Int64,
					UnitPrice:   core.Money{Cents: unitCents.Int64},
					TotalPrice:  core.Money{Cents: totalCents.Int64},
					CategoryID:  categoryID.String,
					Description: description.String,
				},
				CategoryName: categoryName.String,
			})
		}
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
