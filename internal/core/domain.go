package core

import (
	"errors"
	"strings"
	"time"
)

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"

	AccountPersonal AccountType = "personal"
	AccountFamily   AccountType = "family"

	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

type (
	Role             string
	AccountType      string
	InvitationStatus string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Scope is the lens a query runs through: a family ledger when
	// FamilyID is set, otherwise the user's personal ledger.
	Scope struct {
		UserID   string
		FamilyID string
	}

	// Account is a derived, client-facing view over a scope. It is never
	// persisted server-side; only the selected account id survives a
	// session, in the client key-value store.
	Account struct {
		ID       string
		Name     string
		Type     AccountType
		FamilyID string
	}

	Family struct {
		ID        string
		Name      string
		CreatedBy string
		CreatedAt time.Time
	}

	Membership struct {
		ID       string
		FamilyID string
		UserID   string
		Role     Role
		JoinedAt time.Time
	}

	// Member is a roster entry: a membership row with the display name and
	// email resolved from the profiles table.
	Member struct {
		Membership
		Name  string
		Email string
	}

	Profile struct {
		ID        string
		Name      string
		Email     string
		CreatedAt time.Time
	}

	Invitation struct {
		ID            string
		FamilyID      string
		InvitedEmail  string
		InvitedBy     string
		InvitedByName string
		Status        InvitationStatus
		CreatedAt     time.Time
		ExpiresAt     time.Time
	}

	Category struct {
		ID       string
		Name     string
		Level    int
		ParentID string
		Color    string
		Icon     string
	}

	Receipt struct {
		ID          string
		VendorName  string
		Date        Date
		TotalAmount Money
		TaxAmount   Money
		TipAmount   Money
		Notes       string
		UserID      string
		FamilyID    string // empty means personal scope
		AddedBy     string
		AIExtracted bool
		AIData      string
		CreatedAt   time.Time
	}

	Item struct {
		ID          string
		ReceiptID   string
		Name        string
		Quantity    int64
		UnitPrice   Money
		TotalPrice  Money
		CategoryID  string
		Description string
	}

	// ItemWithCategory carries the resolved category name alongside the
	// item row, as returned by the joined receipt read.
	ItemWithCategory struct {
		Item
		CategoryName string
	}

	ReceiptWithItems struct {
		Receipt
		Items []ItemWithCategory
	}

	// ReceiptPatch is a partial update of receipt-level fields. Nil means
	// "leave unchanged". Items and the computed total are never touched
	// through a patch; the total only changes via item recomputation.
	ReceiptPatch struct {
		VendorName *string
		Date       *Date
		TaxAmount  *Money
		TipAmount  *Money
		Notes      *string
	}

	// UsageRecord is an append-only audit row for one external AI call.
	UsageRecord struct {
		ID               string
		UserID           string
		FunctionName     string
		Model            string
		PromptTokens     int64
		CompletionTokens int64
		TotalTokens      int64
		CostUSD          float64
		ReceiptID        string
		CreatedAt        time.Time
	}
)

var (
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrEmptyVendor     = errors.New("empty vendor name")
	ErrEmptyItemName   = errors.New("empty item name")
	ErrNoItems         = errors.New("receipt has no items")
)

// PersonalAccountID is the derived account id for a user's personal scope.
func PersonalAccountID(userID string) string {
	return "personal-" + userID
}

// FamilyAccountID is the derived account id for a family scope.
func FamilyAccountID(familyID string) string {
	return "family-" + familyID
}

func PersonalAccount(userID string) Account {
	return Account{
		ID:   PersonalAccountID(userID),
		Name: "Personal Account",
		Type: AccountPersonal,
	}
}

func FamilyAccount(f Family) Account {
	return Account{
		ID:       FamilyAccountID(f.ID),
		Name:     f.Name,
		Type:     AccountFamily,
		FamilyID: f.ID,
	}
}

// Scope converts an account into the query scope it stands for.
func (a Account) Scope(userID string) Scope {
	if a.Type == AccountFamily {
		return Scope{UserID: userID, FamilyID: a.FamilyID}
	}
	return Scope{UserID: userID}
}

func (s Scope) Personal() bool {
	return s.FamilyID == ""
}

// NewDate creates a day-granularity date in UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses an ISO yyyy-mm-dd date string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// ISO returns the yyyy-mm-dd representation used in storage and on the wire.
func (d Date) ISO() string {
	return d.Format("2006-01-02")
}

func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}

func (i Invitation) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// LineTotal is the only way an item total is ever computed: quantity times
// unit price, exact in cents. Caller-supplied totals that disagree are
// overwritten with this value before any write.
func LineTotal(quantity int64, unitPrice Money) Money {
	return Money{Cents: quantity * unitPrice.Cents}
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (it Item) Validate() error {
	if strings.TrimSpace(it.Name) == "" {
		return ErrEmptyItemName
	}
	if it.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if err := it.UnitPrice.Validate(); err != nil {
		return err
	}
	return nil
}

func (r Receipt) Validate() error {
	if strings.TrimSpace(r.VendorName) == "" {
		return ErrEmptyVendor
	}
	if len(r.VendorName) > 200 {
		return errors.New("vendor name too long (max 200 characters)")
	}
	if err := r.Date.Validate(); err != nil {
		return err
	}
	if err := r.TotalAmount.Validate(); err != nil {
		return err
	}
	return nil
}
