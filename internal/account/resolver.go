// Package account derives the list of selectable accounts (one personal,
// one per family) and tracks the active selection across sessions.
package account

import (
	"errors"
	"log/slog"

	"ricevute/internal/core"
)

const currentAccountKeyPrefix = "current_account_id:"

// AccountKey is the store key for one user's remembered selection. The
// store is shared by every user of the server, so the key must carry the
// user id or selections would clobber each other.
func AccountKey(userID string) string {
	return currentAccountKeyPrefix + userID
}

var ErrUnknownAccount = errors.New("account is not in the available list")

// Store is the persistence port for the remembered selection.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Selection is the resolver output: the accounts a user may switch between
// and the one currently active. Loading is true while identity or family
// data is still in flight, in which case both lists are empty.
type Selection struct {
	UserID    string
	Available []core.Account
	Current   *core.Account
	Loading   bool
}

type Resolver struct {
	kv Store
}

func NewResolver(kv Store) *Resolver {
	return &Resolver{kv: kv}
}

// Resolve computes the available accounts for a user and picks the active
// one. The personal account always comes first, followed by family accounts
// in family-list order.
//
// If the persisted choice no longer exists (the user left that family), the
// selection silently falls back to personal and the fallback is persisted.
// Resolution never fails: a broken remembered choice must not block the
// caller.
func (r *Resolver) Resolve(userID string, families []core.Family, familiesLoading bool) Selection {
	if userID == "" || familiesLoading {
		return Selection{Loading: true}
	}

	available := make([]core.Account, 0, len(families)+1)
	available = append(available, core.PersonalAccount(userID))
	for _, f := range families {
		available = append(available, core.FamilyAccount(f))
	}

	sel := Selection{UserID: userID, Available: available}

	savedID, _ := r.kv.Get(AccountKey(userID))
	if acc, ok := findAccount(available, savedID); ok {
		sel.Current = acc
		return sel
	}

	// Default to personal and remember the fallback so the next load does
	// not chase the stale id again.
	sel.Current = &available[0]
	if err := r.kv.Set(AccountKey(userID), available[0].ID); err != nil {
		slog.Warn("Failed to persist account fallback", "account_id", available[0].ID, "error", err)
	}
	return sel
}

// Select switches the active account and persists the choice immediately,
// so a reload resumes the same scope.
func (r *Resolver) Select(sel *Selection, accountID string) error {
	acc, ok := findAccount(sel.Available, accountID)
	if !ok {
		return ErrUnknownAccount
	}
	if err := r.kv.Set(AccountKey(sel.UserID), acc.ID); err != nil {
		return err
	}
	sel.Current = acc
	return nil
}

func findAccount(accounts []core.Account, id string) (*core.Account, bool) {
	if id == "" {
		return nil, false
	}
	for i := range accounts {
		if accounts[i].ID == id {
			return &accounts[i], true
		}
	}
	return nil, false
}
