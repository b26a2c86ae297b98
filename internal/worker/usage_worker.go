// Package worker persists usage-audit messages consumed from the broker.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"ricevute/internal/amqp"
	"ricevute/internal/core"
)

// UsageStore is the storage port for the audit trail.
type UsageStore interface {
	InsertUsage(ctx context.Context, rec core.UsageRecord) error
}

// UsageWorker writes consumed usage messages to the append-only audit
// table. Persistence failures bubble up so the delivery is requeued.
type UsageWorker struct {
	storage UsageStore
}

func NewUsageWorker(storage UsageStore) *UsageWorker {
	return &UsageWorker{storage: storage}
}

func (w *UsageWorker) HandleUsageMessage(ctx context.Context, msg *amqp.UsageMessage) error {
	slog.InfoContext(ctx, "Processing usage message",
		"model", msg.Model,
		"total_tokens", msg.TotalTokens)

	if err := w.storage.InsertUsage(ctx, msg.Record()); err != nil {
		return fmt.Errorf("persist usage record: %w", err)
	}
	return nil
}
