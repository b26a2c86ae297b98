// Package ingest converts an uploaded receipt image into a validated,
// category-mapped draft via an external vision model.
//
// The reconciler never writes receipts itself: its output is a Draft handed
// to the caller for review, and persistence belongs to the transaction
// mutator. The only side effect is the usage-audit record emitted after a
// successful extraction call.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"ricevute/internal/core"
)

// DefaultMaxImageBytes caps uploads before any network call is made.
const DefaultMaxImageBytes = 10 << 20 // 10MB

// DefaultTimeout bounds the extraction call so a wedged model backend
// cannot hang an ingestion attempt indefinitely.
const DefaultTimeout = 45 * time.Second

// Usage reports token accounting for one extraction call.
type Usage struct {
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Extractor is the black-box vision call: data URI in, raw text out.
type Extractor interface {
	Extract(ctx context.Context, imageDataURI string) (string, Usage, error)
}

// UsageSink receives the audit record for each successful extraction.
type UsageSink interface {
	Record(ctx context.Context, rec core.UsageRecord) error
}

type DraftItem struct {
	Name         string
	Quantity     int64
	UnitPrice    core.Money
	TotalPrice   core.Money
	CategoryID   string
	CategoryName string
	Description  string
}

// Draft is the reviewable receipt produced by ingestion, prior to any
// persistence.
type Draft struct {
	VendorName  string
	Date        core.Date
	TotalAmount core.Money
	TaxAmount   core.Money
	TipAmount   core.Money
	Items       []DraftItem
	AIData      string
	Model       string
}

type Reconciler struct {
	extractor     Extractor
	usage         UsageSink
	maxImageBytes int64
	timeout       time.Duration
}

// NewReconciler wires the extraction backend and the usage sink. Either may
// be nil: a nil extractor fails every attempt with ErrExtractorOffline, a
// nil sink skips audit recording.
func NewReconciler(extractor Extractor, usage UsageSink, maxImageBytes int64, timeout time.Duration) *Reconciler {
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Reconciler{
		extractor:     extractor,
		usage:         usage,
		maxImageBytes: maxImageBytes,
		timeout:       timeout,
	}
}

// Ingest runs the full pipeline: size check, extraction call, defensive
// decode, validation, category reconciliation.
//
// Category matching is a soft step: items whose free-text category has no
// taxonomy match keep an empty CategoryID for the user to fix before save.
// Everything else fails hard with one of the package sentinel errors.
func (r *Reconciler) Ingest(ctx context.Context, userID string, image []byte, mimeType string, categories []core.Category) (Draft, error) {
	if len(image) == 0 {
		return Draft{}, ErrEmptyImage
	}
	if int64(len(image)) > r.maxImageBytes {
		return Draft{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrImageTooLarge, len(image), r.maxImageBytes)
	}
	if r.extractor == nil {
		return Draft{}, ErrExtractorOffline
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	raw, usage, err := r.extractor.Extract(callCtx, dataURI)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Draft{}, ErrExtractionTimeout
		}
		return Draft{}, fmt.Errorf("extract receipt: %w", err)
	}
	slog.InfoContext(ctx, "Extraction call completed",
		"model", usage.Model,
		"total_tokens", usage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds())

	rec, err := DecodeExtraction(raw)
	if err != nil {
		return Draft{}, err
	}
	if len(rec.Items) == 0 {
		return Draft{}, ErrEmptyExtraction
	}
	for _, it := range rec.Items {
		if strings.TrimSpace(it.Category) == "" {
			return Draft{}, fmt.Errorf("%w: item %q", ErrMissingCategory, it.Name)
		}
	}

	draft := buildDraft(rec, raw, usage.Model, categories)

	r.recordUsage(ctx, userID, usage)

	return draft, nil
}

func buildDraft(rec RawReceipt, raw, model string, categories []core.Category) Draft {
	draft := Draft{
		VendorName:  strings.TrimSpace(rec.VendorName),
		TotalAmount: core.CentsFromFloat(rec.TotalAmount),
		TaxAmount:   core.CentsFromFloat(rec.TaxAmount),
		TipAmount:   core.CentsFromFloat(rec.TipAmount),
		AIData:      raw,
		Model:       model,
	}
	if d, err := core.ParseDate(rec.Date); err == nil {
		draft.Date = d
	}

	for _, it := range rec.Items {
		item := DraftItem{
			Name:        strings.TrimSpace(it.Name),
			Quantity:    normalizeQuantity(it.Quantity),
			UnitPrice:   core.CentsFromFloat(it.UnitPrice),
			TotalPrice:  core.CentsFromFloat(it.TotalPrice),
			Description: strings.TrimSpace(it.Subcategory),
		}
		if cat, ok := MatchCategory(categories, it.Category); ok {
			item.CategoryID = cat.ID
			item.CategoryName = cat.Name
		}
		draft.Items = append(draft.Items, item)
	}
	return draft
}

// MatchCategory resolves a free-text category against the taxonomy by
// case-insensitive substring containment, in either direction. Ties go to
// the first match in taxonomy order, so results are stable for a given
// category list.
func MatchCategory(categories []core.Category, text string) (core.Category, bool) {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return core.Category{}, false
	}
	for _, cat := range categories {
		name := strings.ToLower(cat.Name)
		if name == "" {
			continue
		}
		if strings.Contains(needle, name) || strings.Contains(name, needle) {
			return cat, true
		}
	}
	return core.Category{}, false
}

func normalizeQuantity(q float64) int64 {
	if math.IsNaN(q) || q < 1 {
		return 1
	}
	return int64(math.Round(q))
}

func (r *Reconciler) recordUsage(ctx context.Context, userID string, usage Usage) {
	if r.usage == nil {
		return
	}
	rec := core.UsageRecord{
		UserID:           userID,
		FunctionName:     "process-receipt",
		Model:            usage.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		CostUSD:          EstimateCostUSD(usage),
		CreatedAt:        time.Now().UTC(),
	}
	// Audit failures never fail the ingestion itself.
	if err := r.usage.Record(ctx, rec); err != nil {
		slog.WarnContext(ctx, "Failed to record extraction usage",
			"model", usage.Model, "error", err)
	}
}

// Per-million-token USD rates for models this service is expected to run.
// Unknown models record zero cost rather than a made-up number.
var modelRates = map[string]struct{ in, out float64 }{
	"gemini-2.0-flash": {in: 0.10, out: 0.40},
	"gemini-1.5-flash": {in: 0.075, out: 0.30},
	"gemini-1.5-pro":   {in: 1.25, out: 5.00},
}

func EstimateCostUSD(u Usage) float64 {
	rate, ok := modelRates[u.Model]
	if !ok {
		return 0
	}
	return (float64(u.PromptTokens)*rate.in + float64(u.CompletionTokens)*rate.out) / 1e6
}
