package core

import "sort"

// UncategorizedLabel is the bucket for items whose category could not be
// resolved.
const UncategorizedLabel = "Uncategorized"

// DailySpendingPoints caps the daily series at the most recent N days.
// This is a display contract, not an implementation detail: clients chart
// exactly this window.
const DailySpendingPoints = 14

type CategoryBreakdown struct {
	Category string
	Amount   Money
	Count    int
}

type DailySpend struct {
	Day    Date
	Amount Money
}

type Summary struct {
	TotalAmount       Money
	TransactionCount  int
	AvgTransaction    Money
	CategoryBreakdown []CategoryBreakdown
	DailySpending     []DailySpend
}

// Summarize computes the spending summary for a window of receipts.
// It is a pure function of its input: callers fetch, this computes.
//
// TotalAmount and the daily series sum receipt totals; the category
// breakdown sums item totals, so receipt-level tax and tip stay out of the
// per-category figures. Ordering is deterministic: breakdown descending by
// amount with name as tie-break, daily series chronologically ascending and
// truncated to the most recent DailySpendingPoints days.
func Summarize(receipts []ReceiptWithItems) Summary {
	s := Summary{}

	type bucket struct {
		amount int64
		count  int
	}
	byCategory := make(map[string]*bucket)
	byDay := make(map[string]int64)

	for _, r := range receipts {
		s.TotalAmount.Cents += r.TotalAmount.Cents
		s.TransactionCount++
		byDay[r.Date.ISO()] += r.TotalAmount.Cents

		for _, it := range r.Items {
			name := it.CategoryName
			if name == "" {
				name = UncategorizedLabel
			}
			b := byCategory[name]
			if b == nil {
				b = &bucket{}
				byCategory[name] = b
			}
			b.amount += it.TotalPrice.Cents
			b.count++
		}
	}

	if s.TransactionCount > 0 {
		s.AvgTransaction = Money{Cents: s.TotalAmount.Cents / int64(s.TransactionCount)}
	}

	for name, b := range byCategory {
		s.CategoryBreakdown = append(s.CategoryBreakdown, CategoryBreakdown{
			Category: name,
			Amount:   Money{Cents: b.amount},
			Count:    b.count,
		})
	}
	sort.Slice(s.CategoryBreakdown, func(i, j int) bool {
		a, b := s.CategoryBreakdown[i], s.CategoryBreakdown[j]
		if a.Amount.Cents != b.Amount.Cents {
			return a.Amount.Cents > b.Amount.Cents
		}
		return a.Category < b.Category
	})

	for iso, cents := range byDay {
		day, err := ParseDate(iso)
		if err != nil {
			continue
		}
		s.DailySpending = append(s.DailySpending, DailySpend{Day: day, Amount: Money{Cents: cents}})
	}
	sort.Slice(s.DailySpending, func(i, j int) bool {
		return s.DailySpending[i].Day.Before(s.DailySpending[j].Day)
	})
	if len(s.DailySpending) > DailySpendingPoints {
		s.DailySpending = s.DailySpending[len(s.DailySpending)-DailySpendingPoints:]
	}

	return s
}
