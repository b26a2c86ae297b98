package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ricevute/internal/core"
	"ricevute/internal/family"
)

var ErrAlreadyMember = fmt.Errorf("user is already a member of this family")

// ListFamiliesByUser joins the user's membership rows to their families.
func (r *Repository) ListFamiliesByUser(ctx context.Context, userID string) ([]family.FamilyWithRole, error) {
	const q = `
		SELECT f.id, f.name, f.created_by, f.created_at, fm.role
		FROM family_members fm
		JOIN families f ON f.id = fm.family_id
		WHERE fm.user_id = ?
		ORDER BY fm.joined_at, f.id`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query families: %w", err)
	}
	defer rows.Close()

	var out []family.FamilyWithRole
	for rows.Next() {
		var fw family.FamilyWithRole
		var role string
		if err := rows.Scan(&fw.Family.ID, &fw.Family.Name, &fw.Family.CreatedBy, &fw.Family.CreatedAt, &role); err != nil {
			return nil, fmt.Errorf("scan family: %w", err)
		}
		fw.Role = core.Role(role)
		out = append(out, fw)
	}
	return out, rows.Err()
}

func (r *Repository) ListMembershipsByFamily(ctx context.Context, familyID string) ([]core.Membership, error) {
	const q = `
		SELECT id, family_id, user_id, role, joined_at
		FROM family_members
		WHERE family_id = ?
		ORDER BY joined_at, id`
	rows, err := r.db.QueryContext(ctx, q, familyID)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	var out []core.Membership
	for rows.Next() {
		var m core.Membership
		var role string
		if err := rows.Scan(&m.ID, &m.FamilyID, &m.UserID, &role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.Role = core.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateFamilyWithAdmin creates the family row and the creator's admin
// membership in one transaction. There is no window in which the family
// exists without an admin.
func (r *Repository) CreateFamilyWithAdmin(ctx context.Context, name, creatorID string) (core.Family, error) {
	fam := core.Family{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedBy: creatorID,
		CreatedAt: time.Now().UTC(),
	}
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO families (id, name, created_by, created_at) VALUES (?, ?, ?, ?)`,
			fam.ID, fam.Name, fam.CreatedBy, fam.CreatedAt); err != nil {
			return fmt.Errorf("insert family: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO family_members (id, family_id, user_id, role, joined_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), fam.ID, creatorID, string(core.RoleAdmin), fam.CreatedAt); err != nil {
			return fmt.Errorf("insert admin membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Family{}, err
	}

	slog.InfoContext(ctx, "Family created with admin",
		"family_id", fam.ID, "user_id", creatorID)
	return fam, nil
}

func (r *Repository) DeleteFamily(ctx context.Context, familyID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM families WHERE id = ?`, familyID)
	if err != nil {
		return fmt.Errorf("delete family: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteMembership(ctx context.Context, familyID, userID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM family_members WHERE family_id = ? AND user_id = ?`, familyID, userID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) CountAdmins(ctx context.Context, familyID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM family_members WHERE family_id = ? AND role = 'admin'`,
		familyID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

func (r *Repository) CreateInvitation(ctx context.Context, inv core.Invitation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO family_invitations
			(id, family_id, invited_email, invited_by, invited_by_name, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.FamilyID, inv.InvitedEmail, inv.InvitedBy, inv.InvitedByName,
		string(inv.Status), inv.CreatedAt, inv.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (r *Repository) GetInvitation(ctx context.Context, id string) (core.Invitation, error) {
	const q = `
		SELECT id, family_id, invited_email, invited_by, COALESCE(invited_by_name, ''),
		       status, created_at, expires_at
		FROM family_invitations WHERE id = ?`
	var inv core.Invitation
	var status string
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&inv.ID, &inv.FamilyID, &inv.InvitedEmail, &inv.InvitedBy, &inv.InvitedByName,
		&status, &inv.CreatedAt, &inv.ExpiresAt)
	if err == sql.ErrNoRows {
		return core.Invitation{}, ErrNotFound
	}
	if err != nil {
		return core.Invitation{}, fmt.Errorf("get invitation: %w", err)
	}
	inv.Status = core.InvitationStatus(status)
	return inv, nil
}

func (r *Repository) HasPendingInvitation(ctx context.Context, familyID, email string, now time.Time) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM family_invitations
		WHERE family_id = ? AND invited_email = ? AND status = 'pending' AND expires_at > ?`,
		familyID, email, now).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check pending invitation: %w", err)
	}
	return n > 0, nil
}

// ListPendingInvitations returns live pending invitations for the given
// families. Expired rows are filtered, not deleted.
func (r *Repository) ListPendingInvitations(ctx context.Context, familyIDs []string, now time.Time) ([]core.Invitation, error) {
	if len(familyIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(familyIDs)-1) + "?"
	q := fmt.Sprintf(`
		SELECT id, family_id, invited_email, invited_by, COALESCE(invited_by_name, ''),
		       status, created_at, expires_at
		FROM family_invitations
		WHERE family_id IN (%s) AND status = 'pending' AND expires_at > ?
		ORDER BY created_at DESC`, placeholders)

	args := make([]any, 0, len(familyIDs)+1)
	for _, id := range familyIDs {
		args = append(args, id)
	}
	args = append(args, now)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending invitations: %w", err)
	}
	defer rows.Close()

	var out []core.Invitation
	for rows.Next() {
		var inv core.Invitation
		var status string
		if err := rows.Scan(&inv.ID, &inv.FamilyID, &inv.InvitedEmail, &inv.InvitedBy,
			&inv.InvitedByName, &status, &inv.CreatedAt, &inv.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		inv.Status = core.InvitationStatus(status)
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteInvitation(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM family_invitations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AcceptInvitation validates the invitation, creates the membership, and
// marks the invitation accepted in one transaction, so a concurrent accept
// can never leave a half-applied state.
func (r *Repository) AcceptInvitation(ctx context.Context, invitationID, userID string, now time.Time) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var familyID, status string
		var expiresAt time.Time
		err := tx.QueryRowContext(ctx,
			`SELECT family_id, status, expires_at FROM family_invitations WHERE id = ?`,
			invitationID).Scan(&familyID, &status, &expiresAt)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load invitation: %w", err)
		}
		if core.InvitationStatus(status) != core.InvitationPending {
			return family.ErrInvitationNotPending
		}
		if now.After(expiresAt) {
			return family.ErrInvitationExpired
		}

		var existing int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM family_members WHERE family_id = ? AND user_id = ?`,
			familyID, userID).Scan(&existing); err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if existing > 0 {
			return ErrAlreadyMember
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO family_members (id, family_id, user_id, role, joined_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), familyID, userID, string(core.RoleMember), now); err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE family_invitations SET status = 'accepted' WHERE id = ?`,
			invitationID); err != nil {
			return fmt.Errorf("mark invitation accepted: %w", err)
		}
		return nil
	})
}
