package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ricevute/internal/core"
)

// InsertUsage appends one audit row for an external AI call. The table is
// append-only; nothing in this package updates or deletes it.
func (r *Repository) InsertUsage(ctx context.Context, rec core.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_usage
			(id, user_id, function_name, model, prompt_tokens, completion_tokens,
			 total_tokens, cost_usd, receipt_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nullIfEmpty(rec.UserID), rec.FunctionName, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.CostUSD,
		nullIfEmpty(rec.ReceiptID), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	slog.InfoContext(ctx, "Usage record stored",
		"model", rec.Model,
		"total_tokens", rec.TotalTokens)
	return nil
}

func (r *Repository) ListUsageByUser(ctx context.Context, userID string, limit int) ([]core.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, COALESCE(user_id, ''), function_name, model, prompt_tokens,
		       completion_tokens, total_tokens, cost_usd, COALESCE(receipt_id, ''), created_at
		FROM api_usage
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var out []core.UsageRecord
	for rows.Next() {
		var rec core.UsageRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.FunctionName, &rec.Model,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens,
			&rec.CostUSD, &rec.ReceiptID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
