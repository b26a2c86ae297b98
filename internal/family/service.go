// Package family loads and mutates sharing groups: families, their member
// rosters, and the invitation lifecycle.
package family

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ricevute/internal/cache"
	"ricevute/internal/core"
)

var (
	ErrEmptyFamilyName      = errors.New("family name cannot be empty")
	ErrInvalidEmail         = errors.New("invalid email address")
	ErrNotAdmin             = errors.New("operation requires the admin role")
	ErrNotMember            = errors.New("user is not a member of this family")
	ErrTargetIsAdmin        = errors.New("cannot remove another admin")
	ErrLastAdmin            = errors.New("the last admin cannot leave the family")
	ErrDuplicateInvitation  = errors.New("a pending invitation for this email already exists")
	ErrInvitationNotPending = errors.New("invitation is not pending")
	ErrInvitationExpired    = errors.New("invitation has expired")
)

// Families is the result of a family load for one user.
type Families struct {
	Families []core.Family
	Roles    map[string]core.Role
}

type Service struct {
	storage   Storage
	cache     *cache.LRU[Families]
	inviteTTL time.Duration
	now       func() time.Time
}

func NewService(storage Storage, ttlCache *cache.LRU[Families], inviteTTL time.Duration) *Service {
	if inviteTTL <= 0 {
		inviteTTL = 7 * 24 * time.Hour
	}
	return &Service{
		storage:   storage,
		cache:     ttlCache,
		inviteTTL: inviteTTL,
		now:       time.Now,
	}
}

// LoadFamilies returns the user's families and per-family roles. A user
// with zero memberships gets an empty result, not an error. Results are
// cached per user; any membership mutation invalidates the affected users.
func (s *Service) LoadFamilies(ctx context.Context, userID string) (Families, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(userID); ok {
			return cached, nil
		}
	}
	return s.loadFamiliesUncached(ctx, userID)
}

func (s *Service) loadFamiliesUncached(ctx context.Context, userID string) (Families, error) {
	rows, err := s.storage.ListFamiliesByUser(ctx, userID)
	if err != nil {
		return Families{}, fmt.Errorf("list families: %w", err)
	}

	result := Families{Roles: make(map[string]core.Role, len(rows))}
	for _, row := range rows {
		result.Families = append(result.Families, row.Family)
		result.Roles[row.Family.ID] = row.Role
	}

	if s.cache != nil {
		s.cache.Set(userID, result)
	}
	return result, nil
}

// LoadMembers returns the roster for one family with display names and
// emails resolved. Profiles are fetched in a single batched call keyed by
// the collected user-id set, never one lookup per member.
func (s *Service) LoadMembers(ctx context.Context, familyID string) ([]core.Member, error) {
	memberships, err := s.storage.ListMembershipsByFamily(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	if len(memberships) == 0 {
		return nil, nil
	}

	userIDs := make([]string, 0, len(memberships))
	for _, m := range memberships {
		userIDs = append(userIDs, m.UserID)
	}
	profiles, err := s.storage.GetProfiles(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("batch fetch profiles: %w", err)
	}
	byID := make(map[string]core.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	members := make([]core.Member, 0, len(memberships))
	for _, m := range memberships {
		member := core.Member{Membership: m}
		if p, ok := byID[m.UserID]; ok {
			member.Name = p.Name
			member.Email = p.Email
		}
		members = append(members, member)
	}
	return members, nil
}

// LoadAllMembers fetches rosters for several families concurrently.
func (s *Service) LoadAllMembers(ctx context.Context, familyIDs []string) (map[string][]core.Member, error) {
	var mu sync.Mutex
	rosters := make(map[string][]core.Member, len(familyIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, familyID := range familyIDs {
		g.Go(func() error {
			members, err := s.LoadMembers(gctx, familyID)
			if err != nil {
				return fmt.Errorf("family %s: %w", familyID, err)
			}
			mu.Lock()
			rosters[familyID] = members
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rosters, nil
}

// CreateFamily creates a family and its creator's admin membership as one
// storage transaction.
func (s *Service) CreateFamily(ctx context.Context, userID, name string) (core.Family, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Family{}, ErrEmptyFamilyName
	}
	if len(name) > 100 {
		return core.Family{}, errors.New("family name too long (max 100 characters)")
	}

	fam, err := s.storage.CreateFamilyWithAdmin(ctx, name, userID)
	if err != nil {
		return core.Family{}, fmt.Errorf("create family: %w", err)
	}
	s.invalidate(userID)

	slog.InfoContext(ctx, "Family created",
		"family_id", fam.ID, "user_id", userID)
	return fam, nil
}

// Invite creates a pending invitation. The caller must hold the admin role
// (advisory check; the storage layer's policies are authoritative), and a
// live pending invitation for the same family+email short-circuits before
// any write.
func (s *Service) Invite(ctx context.Context, callerID, familyID, email string) (core.Invitation, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return core.Invitation{}, ErrInvalidEmail
	}
	if err := s.requireAdmin(ctx, callerID, familyID); err != nil {
		return core.Invitation{}, err
	}

	now := s.now()
	dup, err := s.storage.HasPendingInvitation(ctx, familyID, email, now)
	if err != nil {
		return core.Invitation{}, fmt.Errorf("check pending invitation: %w", err)
	}
	if dup {
		return core.Invitation{}, ErrDuplicateInvitation
	}

	inviterName := callerID
	if profile, err := s.storage.GetProfile(ctx, callerID); err == nil {
		if profile.Name != "" {
			inviterName = profile.Name
		} else if profile.Email != "" {
			inviterName = profile.Email
		}
	}

	inv := core.Invitation{
		ID:            uuid.NewString(),
		FamilyID:      familyID,
		InvitedEmail:  email,
		InvitedBy:     callerID,
		InvitedByName: inviterName,
		Status:        core.InvitationPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.inviteTTL),
	}
	if err := s.storage.CreateInvitation(ctx, inv); err != nil {
		return core.Invitation{}, fmt.Errorf("create invitation: %w", err)
	}

	slog.InfoContext(ctx, "Invitation sent",
		"family_id", familyID, "invitation_id", inv.ID)
	return inv, nil
}

// Accept atomically validates the invitation, creates the membership, and
// marks the invitation accepted. The whole transition runs as one storage
// transaction so a concurrent accept can never half-apply.
func (s *Service) Accept(ctx context.Context, userID, invitationID string) error {
	if err := s.storage.AcceptInvitation(ctx, invitationID, userID, s.now()); err != nil {
		return err
	}
	s.invalidate(userID)

	slog.InfoContext(ctx, "Invitation accepted",
		"invitation_id", invitationID, "user_id", userID)
	return nil
}

// PendingInvitations lists live pending invitations for a set of families.
// Expired invitations are filtered out, not deleted.
func (s *Service) PendingInvitations(ctx context.Context, familyIDs []string) ([]core.Invitation, error) {
	if len(familyIDs) == 0 {
		return nil, nil
	}
	return s.storage.ListPendingInvitations(ctx, familyIDs, s.now())
}

// CancelInvitation deletes a pending invitation; admin-only.
func (s *Service) CancelInvitation(ctx context.Context, callerID, invitationID string) error {
	inv, err := s.storage.GetInvitation(ctx, invitationID)
	if err != nil {
		return fmt.Errorf("get invitation: %w", err)
	}
	if err := s.requireAdmin(ctx, callerID, inv.FamilyID); err != nil {
		return err
	}
	return s.storage.DeleteInvitation(ctx, invitationID)
}

// RemoveMember deletes another user's membership. The caller must be an
// admin, and the target must not be one: admins are removed by leaving, not
// by each other.
func (s *Service) RemoveMember(ctx context.Context, callerID, familyID, targetID string) error {
	if err := s.requireAdmin(ctx, callerID, familyID); err != nil {
		return err
	}
	targetRole, err := s.roleOf(ctx, targetID, familyID)
	if err != nil {
		return err
	}
	if targetRole == core.RoleAdmin {
		return ErrTargetIsAdmin
	}
	if err := s.storage.DeleteMembership(ctx, familyID, targetID); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	s.invalidate(targetID)
	return nil
}

// Leave removes the caller's own membership. The last admin of a family
// cannot leave: someone must retain administrative control or the family is
// unmanageable.
func (s *Service) Leave(ctx context.Context, userID, familyID string) error {
	role, err := s.roleOf(ctx, userID, familyID)
	if err != nil {
		return err
	}
	if role == core.RoleAdmin {
		admins, err := s.storage.CountAdmins(ctx, familyID)
		if err != nil {
			return fmt.Errorf("count admins: %w", err)
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}
	if err := s.storage.DeleteMembership(ctx, familyID, userID); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	s.invalidate(userID)
	return nil
}

// DeleteFamily removes a family; memberships, invitations and dependent
// receipts are cleaned up by the storage layer's cascade rules.
func (s *Service) DeleteFamily(ctx context.Context, callerID, familyID string) error {
	if err := s.requireAdmin(ctx, callerID, familyID); err != nil {
		return err
	}

	// Invalidate every member's cached family list before the rows go away.
	memberships, err := s.storage.ListMembershipsByFamily(ctx, familyID)
	if err != nil {
		return fmt.Errorf("list memberships: %w", err)
	}
	if err := s.storage.DeleteFamily(ctx, familyID); err != nil {
		return fmt.Errorf("delete family: %w", err)
	}
	for _, m := range memberships {
		s.invalidate(m.UserID)
	}

	slog.InfoContext(ctx, "Family deleted",
		"family_id", familyID, "user_id", callerID)
	return nil
}

// Role returns the caller's role in a family, ErrNotMember if none.
func (s *Service) Role(ctx context.Context, userID, familyID string) (core.Role, error) {
	return s.roleOf(ctx, userID, familyID)
}

func (s *Service) requireAdmin(ctx context.Context, userID, familyID string) error {
	role, err := s.roleOf(ctx, userID, familyID)
	if err != nil {
		return err
	}
	if role != core.RoleAdmin {
		return ErrNotAdmin
	}
	return nil
}

func (s *Service) roleOf(ctx context.Context, userID, familyID string) (core.Role, error) {
	fams, err := s.loadFamiliesUncached(ctx, userID)
	if err != nil {
		return "", err
	}
	role, ok := fams.Roles[familyID]
	if !ok {
		return "", ErrNotMember
	}
	return role, nil
}

func (s *Service) invalidate(userID string) {
	if s.cache != nil {
		s.cache.Delete(userID)
	}
}
