package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ricevute/internal/core"
)

// ErrStaleResult marks a summary fetch that finished after the caller's
// scope or window had already moved on. The result must be discarded, not
// displayed.
var ErrStaleResult = errors.New("summary is stale: scope or window changed while loading")

// SpendReader is the storage port for aggregation: one joined read of
// receipts, items, and category names.
type SpendReader interface {
	ListReceiptsWithItems(ctx context.Context, scope core.Scope, from, to core.Date) ([]core.ReceiptWithItems, error)
}

// SummaryState is the aggregator's current view for UI feedback. A failed
// load keeps Err set and Summary zero; it never masquerades as an empty
// but successful result.
type SummaryState struct {
	Scope   core.Scope
	From    core.Date
	To      core.Date
	Summary core.Summary
	Loading bool
	Err     error
}

// Aggregator computes spending summaries and enforces the ordering rule of
// concurrent loads: responses are tagged with a generation at issue time,
// and only the one matching the latest generation is applied. A rapid
// account switch followed by a period change can leave two fetches in
// flight; the older one loses no matter which finishes first.
type Aggregator struct {
	storage SpendReader

	mu    sync.Mutex
	gen   uint64
	state SummaryState
}

func NewAggregator(storage SpendReader) *Aggregator {
	return &Aggregator{storage: storage}
}

// Load fetches and summarizes the window. On success the result becomes
// the current state; a stale completion returns ErrStaleResult and leaves
// the state untouched. A fetch failure is surfaced as an explicit error
// state, never as a zero-spend summary.
func (a *Aggregator) Load(ctx context.Context, scope core.Scope, from, to core.Date) (core.Summary, error) {
	if from.After(to) {
		return core.Summary{}, fmt.Errorf("invalid window: from %s is after to %s", from.ISO(), to.ISO())
	}

	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.state = SummaryState{Scope: scope, From: from, To: to, Loading: true}
	a.mu.Unlock()

	receipts, err := a.storage.ListReceiptsWithItems(ctx, scope, from, to)

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		slog.DebugContext(ctx, "Discarding stale summary result",
			"family_id", scope.FamilyID, "from", from.ISO(), "to", to.ISO())
		return core.Summary{}, ErrStaleResult
	}

	if err != nil {
		a.state = SummaryState{Scope: scope, From: from, To: to, Err: err}
		return core.Summary{}, fmt.Errorf("load receipts: %w", err)
	}

	summary := core.Summarize(receipts)
	a.state = SummaryState{Scope: scope, From: from, To: to, Summary: summary}
	return summary, nil
}

// Current returns the latest applied state.
func (a *Aggregator) Current() SummaryState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Summary computes the window summary without touching the tracked
// state. Concurrent callers never invalidate each other; the stateful
// Load path exists for single-session consumers that need stale-result
// discard.
func (a *Aggregator) Summary(ctx context.Context, scope core.Scope, from, to core.Date) (core.Summary, error) {
	receipts, err := a.ListReceipts(ctx, scope, from, to)
	if err != nil {
		return core.Summary{}, err
	}
	return core.Summarize(receipts), nil
}

// ListReceipts serves the transaction-history view: the same joined read
// the summary uses, already ordered date-descending by storage.
func (a *Aggregator) ListReceipts(ctx context.Context, scope core.Scope, from, to core.Date) ([]core.ReceiptWithItems, error) {
	if from.After(to) {
		return nil, fmt.Errorf("invalid window: from %s is after to %s", from.ISO(), to.ISO())
	}
	receipts, err := a.storage.ListReceiptsWithItems(ctx, scope, from, to)
	if err != nil {
		return nil, fmt.Errorf("load receipts: %w", err)
	}
	return receipts, nil
}
