package family

import (
	"context"
	"time"

	"ricevute/internal/core"
)

// FamilyWithRole is one row of the membership-to-family join.
type FamilyWithRole struct {
	Family core.Family
	Role   core.Role
}

// Storage is the persistence port for family data. The two compound
// operations (CreateFamilyWithAdmin, AcceptInvitation) are transactional on
// the storage side; the service never stitches them together from separate
// writes.
type Storage interface {
	ListFamiliesByUser(ctx context.Context, userID string) ([]FamilyWithRole, error)
	ListMembershipsByFamily(ctx context.Context, familyID string) ([]core.Membership, error)
	GetProfiles(ctx context.Context, userIDs []string) ([]core.Profile, error)
	GetProfile(ctx context.Context, userID string) (core.Profile, error)

	CreateFamilyWithAdmin(ctx context.Context, name, creatorID string) (core.Family, error)
	DeleteFamily(ctx context.Context, familyID string) error
	DeleteMembership(ctx context.Context, familyID, userID string) error
	CountAdmins(ctx context.Context, familyID string) (int, error)

	CreateInvitation(ctx context.Context, inv core.Invitation) error
	GetInvitation(ctx context.Context, id string) (core.Invitation, error)
	HasPendingInvitation(ctx context.Context, familyID, email string, now time.Time) (bool, error)
	ListPendingInvitations(ctx context.Context, familyIDs []string, now time.Time) ([]core.Invitation, error)
	DeleteInvitation(ctx context.Context, id string) error
	AcceptInvitation(ctx context.Context, invitationID, userID string, now time.Time) error
}
