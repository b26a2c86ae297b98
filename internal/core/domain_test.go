package core

import (
	"errors"
	"testing"
	"time"
)

func TestAccountIDs(t *testing.T) {
	if got := PersonalAccountID("u1"); got != "personal-u1" {
		t.Fatalf("PersonalAccountID = %q", got)
	}
	if got := FamilyAccountID("f1"); got != "family-f1" {
		t.Fatalf("FamilyAccountID = %q", got)
	}
}

func TestAccountScope(t *testing.T) {
	personal := PersonalAccount("u1").Scope("u1")
	if !personal.Personal() || personal.UserID != "u1" {
		t.Fatalf("personal scope = %+v", personal)
	}

	fam := FamilyAccount(Family{ID: "f1", Name: "Casa"}).Scope("u1")
	if fam.Personal() || fam.FamilyID != "f1" || fam.UserID != "u1" {
		t.Fatalf("family scope = %+v", fam)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-08-29")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if d.ISO() != "2026-08-29" {
		t.Fatalf("ISO = %q", d.ISO())
	}

	for _, bad := range []string{"", "29/08/2026", "2026-13-01", "yesterday"} {
		if _, err := ParseDate(bad); !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("ParseDate(%q) expected ErrInvalidDate, got %v", bad, err)
		}
	}
}

func TestLineTotal(t *testing.T) {
	got := LineTotal(3, Money{Cents: 199})
	if got.Cents != 597 {
		t.Fatalf("LineTotal = %d, want 597", got.Cents)
	}
}

func TestItemValidate(t *testing.T) {
	valid := Item{Name: "Milk", Quantity: 1, UnitPrice: Money{Cents: 120}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid item rejected: %v", err)
	}

	cases := []struct {
		name string
		item Item
		want error
	}{
		{"empty name", Item{Name: "  ", Quantity: 1}, ErrEmptyItemName},
		{"zero quantity", Item{Name: "Milk", Quantity: 0}, ErrInvalidQuantity},
		{"negative price", Item{Name: "Milk", Quantity: 1, UnitPrice: Money{Cents: -1}}, ErrInvalidAmount},
	}
	for _, tc := range cases {
		if err := tc.item.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestReceiptValidate(t *testing.T) {
	valid := Receipt{
		VendorName:  "Esselunga",
		Date:        NewDate(2026, 8, 29),
		TotalAmount: Money{Cents: 1300},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid receipt rejected: %v", err)
	}

	noVendor := valid
	noVendor.VendorName = " "
	if err := noVendor.Validate(); !errors.Is(err, ErrEmptyVendor) {
		t.Fatalf("expected ErrEmptyVendor, got %v", err)
	}

	noDate := valid
	noDate.Date = Date{}
	if err := noDate.Validate(); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestInvitationExpired(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	inv := Invitation{ExpiresAt: now.Add(time.Hour)}
	if inv.Expired(now) {
		t.Fatal("future expiry reported as expired")
	}
	if !inv.Expired(now.Add(2 * time.Hour)) {
		t.Fatal("past expiry not reported")
	}
	// Zero expiry means no deadline.
	if (Invitation{}).Expired(now) {
		t.Fatal("zero expiry reported as expired")
	}
}
