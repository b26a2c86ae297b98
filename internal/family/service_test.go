package family

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ricevute/internal/cache"
	"ricevute/internal/core"
)

// fakeStorage is an in-memory Storage with call counters for the queries
// the service must batch.
type fakeStorage struct {
	families    map[string]core.Family
	memberships []core.Membership
	profiles    map[string]core.Profile
	invitations map[string]core.Invitation

	profileBatchCalls int
	listFamilyCalls   int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		families:    make(map[string]core.Family),
		profiles:    make(map[string]core.Profile),
		invitations: make(map[string]core.Invitation),
	}
}

func (f *fakeStorage) addMember(familyID, userID string, role core.Role) {
	f.memberships = append(f.memberships, core.Membership{
		ID:       fmt.Sprintf("m%d", len(f.memberships)+1),
		FamilyID: familyID,
		UserID:   userID,
		Role:     role,
	})
}

func (f *fakeStorage) ListFamiliesByUser(ctx context.Context, userID string) ([]FamilyWithRole, error) {
	f.listFamilyCalls++
	var out []FamilyWithRole
	for _, m := range f.memberships {
		if m.UserID != userID {
			continue
		}
		out = append(out, FamilyWithRole{Family: f.families[m.FamilyID], Role: m.Role})
	}
	return out, nil
}

func (f *fakeStorage) ListMembershipsByFamily(ctx context.Context, familyID string) ([]core.Membership, error) {
	var out []core.Membership
	for _, m := range f.memberships {
		if m.FamilyID == familyID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStorage) GetProfiles(ctx context.Context, userIDs []string) ([]core.Profile, error) {
	f.profileBatchCalls++
	var out []core.Profile
	for _, id := range userIDs {
		if p, ok := f.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStorage) GetProfile(ctx context.Context, userID string) (core.Profile, error) {
	if p, ok := f.profiles[userID]; ok {
		return p, nil
	}
	return core.Profile{}, errors.New("profile not found")
}

func (f *fakeStorage) CreateFamilyWithAdmin(ctx context.Context, name, creatorID string) (core.Family, error) {
	fam := core.Family{ID: fmt.Sprintf("f%d", len(f.families)+1), Name: name, CreatedBy: creatorID}
	f.families[fam.ID] = fam
	f.addMember(fam.ID, creatorID, core.RoleAdmin)
	return fam, nil
}

func (f *fakeStorage) DeleteFamily(ctx context.Context, familyID string) error {
	delete(f.families, familyID)
	kept := f.memberships[:0]
	for _, m := range f.memberships {
		if m.FamilyID != familyID {
			kept = append(kept, m)
		}
	}
	f.memberships = kept
	return nil
}

func (f *fakeStorage) DeleteMembership(ctx context.Context, familyID, userID string) error {
	for i, m := range f.memberships {
		if m.FamilyID == familyID && m.UserID == userID {
			f.memberships = append(f.memberships[:i], f.memberships[i+1:]...)
			return nil
		}
	}
	return errors.New("membership not found")
}

func (f *fakeStorage) CountAdmins(ctx context.Context, familyID string) (int, error) {
	n := 0
	for _, m := range f.memberships {
		if m.FamilyID == familyID && m.Role == core.RoleAdmin {
			n++
		}
	}
	return n, nil
}

func (f *fakeStorage) CreateInvitation(ctx context.Context, inv core.Invitation) error {
	f.invitations[inv.ID] = inv
	return nil
}

func (f *fakeStorage) GetInvitation(ctx context.Context, id string) (core.Invitation, error) {
	if inv, ok := f.invitations[id]; ok {
		return inv, nil
	}
	return core.Invitation{}, errors.New("invitation not found")
}

func (f *fakeStorage) HasPendingInvitation(ctx context.Context, familyID, email string, now time.Time) (bool, error) {
	for _, inv := range f.invitations {
		if inv.FamilyID == familyID && inv.InvitedEmail == email &&
			inv.Status == core.InvitationPending && !inv.Expired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStorage) ListPendingInvitations(ctx context.Context, familyIDs []string, now time.Time) ([]core.Invitation, error) {
	var out []core.Invitation
	for _, inv := range f.invitations {
		for _, id := range familyIDs {
			if inv.FamilyID == id && inv.Status == core.InvitationPending && !inv.Expired(now) {
				out = append(out, inv)
			}
		}
	}
	return out, nil
}

func (f *fakeStorage) DeleteInvitation(ctx context.Context, id string) error {
	delete(f.invitations, id)
	return nil
}

func (f *fakeStorage) AcceptInvitation(ctx context.Context, invitationID, userID string, now time.Time) error {
	inv, ok := f.invitations[invitationID]
	if !ok {
		return errors.New("invitation not found")
	}
	if inv.Status != core.InvitationPending {
		return ErrInvitationNotPending
	}
	if inv.Expired(now) {
		return ErrInvitationExpired
	}
	inv.Status = core.InvitationAccepted
	f.invitations[invitationID] = inv
	f.addMember(inv.FamilyID, userID, core.RoleMember)
	return nil
}

func newTestService(st Storage) *Service {
	return NewService(st, cache.NewLRU[Families](16, time.Minute), 7*24*time.Hour)
}

func TestLoadFamiliesEmpty(t *testing.T) {
	svc := newTestService(newFakeStorage())
	fams, err := svc.LoadFamilies(context.Background(), "loner")
	if err != nil {
		t.Fatalf("LoadFamilies: %v", err)
	}
	if len(fams.Families) != 0 {
		t.Fatalf("families = %+v", fams.Families)
	}
}

func TestLoadFamiliesCached(t *testing.T) {
	st := newFakeStorage()
	st.families["f1"] = core.Family{ID: "f1", Name: "Casa"}
	st.addMember("f1", "u1", core.RoleAdmin)
	svc := newTestService(st)

	for i := 0; i < 3; i++ {
		if _, err := svc.LoadFamilies(context.Background(), "u1"); err != nil {
			t.Fatalf("LoadFamilies: %v", err)
		}
	}
	if st.listFamilyCalls != 1 {
		t.Fatalf("storage hit %d times, want 1", st.listFamilyCalls)
	}
}

func TestCreateFamilyValidation(t *testing.T) {
	svc := newTestService(newFakeStorage())
	if _, err := svc.CreateFamily(context.Background(), "u1", "   "); !errors.Is(err, ErrEmptyFamilyName) {
		t.Fatalf("expected ErrEmptyFamilyName, got %v", err)
	}
}

func TestCreateFamilyGrantsAdmin(t *testing.T) {
	st := newFakeStorage()
	svc := newTestService(st)

	fam, err := svc.CreateFamily(context.Background(), "u1", "Casa")
	if err != nil {
		t.Fatalf("CreateFamily: %v", err)
	}

	role, err := svc.Role(context.Background(), "u1", fam.ID)
	if err != nil {
		t.Fatalf("Role: %v", err)
	}
	if role != core.RoleAdmin {
		t.Fatalf("creator role = %q", role)
	}
}

func TestInvite(t *testing.T) {
	st := newFakeStorage()
	st.profiles["u1"] = core.Profile{ID: "u1", Name: "Anna"}
	svc := newTestService(st)
	fam, _ := svc.CreateFamily(context.Background(), "u1", "Casa")
	st.addMember(fam.ID, "u2", core.RoleMember)

	if _, err := svc.Invite(context.Background(), "u1", fam.ID, "not-an-email"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := svc.Invite(context.Background(), "u2", fam.ID, "new@example.com"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if _, err := svc.Invite(context.Background(), "stranger", fam.ID, "new@example.com"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}

	inv, err := svc.Invite(context.Background(), "u1", fam.ID, "New@Example.com")
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if inv.InvitedEmail != "new@example.com" {
		t.Fatalf("email not normalized: %q", inv.InvitedEmail)
	}
	if inv.InvitedByName != "Anna" {
		t.Fatalf("inviter name = %q", inv.InvitedByName)
	}
	if inv.ExpiresAt.Sub(inv.CreatedAt) != 7*24*time.Hour {
		t.Fatalf("expiry window = %v", inv.ExpiresAt.Sub(inv.CreatedAt))
	}

	if _, err := svc.Invite(context.Background(), "u1", fam.ID, "new@example.com"); !errors.Is(err, ErrDuplicateInvitation) {
		t.Fatalf("expected ErrDuplicateInvitation, got %v", err)
	}
}

func TestAcceptAddsFamilyAndInvalidatesCache(t *testing.T) {
	st := newFakeStorage()
	st.profiles["u1"] = core.Profile{ID: "u1", Name: "Anna"}
	svc := newTestService(st)
	fam, _ := svc.CreateFamily(context.Background(), "u1", "Casa")
	inv, err := svc.Invite(context.Background(), "u1", fam.ID, "bruno@example.com")
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	// Warm u2's cache with the empty result first.
	if fams, _ := svc.LoadFamilies(context.Background(), "u2"); len(fams.Families) != 0 {
		t.Fatalf("u2 families before accept = %+v", fams.Families)
	}

	if err := svc.Accept(context.Background(), "u2", inv.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	fams, err := svc.LoadFamilies(context.Background(), "u2")
	if err != nil {
		t.Fatalf("LoadFamilies: %v", err)
	}
	if len(fams.Families) != 1 || fams.Families[0].ID != fam.ID {
		t.Fatalf("u2 families after accept = %+v", fams.Families)
	}
	if fams.Roles[fam.ID] != core.RoleMember {
		t.Fatalf("u2 role = %q", fams.Roles[fam.ID])
	}
}

func TestAcceptNotPending(t *testing.T) {
	st := newFakeStorage()
	svc := newTestService(st)
	st.invitations["i1"] = core.Invitation{ID: "i1", FamilyID: "f1", Status: core.InvitationAccepted}

	if err := svc.Accept(context.Background(), "u2", "i1"); !errors.Is(err, ErrInvitationNotPending) {
		t.Fatalf("expected ErrInvitationNotPending, got %v", err)
	}
}

func TestLoadMembersBatchesProfiles(t *testing.T) {
	st := newFakeStorage()
	st.families["f1"] = core.Family{ID: "f1", Name: "Casa"}
	for i := 1; i <= 5; i++ {
		uid := fmt.Sprintf("u%d", i)
		st.addMember("f1", uid, core.RoleMember)
		st.profiles[uid] = core.Profile{ID: uid, Name: "User " + uid, Email: uid + "@example.com"}
	}
	svc := newTestService(st)

	members, err := svc.LoadMembers(context.Background(), "f1")
	if err != nil {
		t.Fatalf("LoadMembers: %v", err)
	}
	if len(members) != 5 {
		t.Fatalf("members = %d", len(members))
	}
	if members[0].Name == "" || members[0].Email == "" {
		t.Fatalf("profile not joined: %+v", members[0])
	}
	// One batched profile query, regardless of roster size.
	if st.profileBatchCalls != 1 {
		t.Fatalf("profile batch calls = %d, want 1", st.profileBatchCalls)
	}
}

func TestRemoveMember(t *testing.T) {
	st := newFakeStorage()
	svc := newTestService(st)
	fam, _ := svc.CreateFamily(context.Background(), "admin", "Casa")
	st.addMember(fam.ID, "member", core.RoleMember)
	st.addMember(fam.ID, "admin2", core.RoleAdmin)

	if err := svc.RemoveMember(context.Background(), "member", fam.ID, "admin"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if err := svc.RemoveMember(context.Background(), "admin", fam.ID, "admin2"); !errors.Is(err, ErrTargetIsAdmin) {
		t.Fatalf("expected ErrTargetIsAdmin, got %v", err)
	}
	if err := svc.RemoveMember(context.Background(), "admin", fam.ID, "member"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if _, err := svc.Role(context.Background(), "member", fam.ID); !errors.Is(err, ErrNotMember) {
		t.Fatalf("member still present: %v", err)
	}
}

func TestLeaveLastAdmin(t *testing.T) {
	st := newFakeStorage()
	svc := newTestService(st)
	fam, _ := svc.CreateFamily(context.Background(), "admin", "Casa")
	st.addMember(fam.ID, "member", core.RoleMember)

	if err := svc.Leave(context.Background(), "admin", fam.ID); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("expected ErrLastAdmin, got %v", err)
	}

	// A member can always leave.
	if err := svc.Leave(context.Background(), "member", fam.ID); err != nil {
		t.Fatalf("member leave: %v", err)
	}

	// With a second admin present the first may leave.
	st.addMember(fam.ID, "admin2", core.RoleAdmin)
	if err := svc.Leave(context.Background(), "admin", fam.ID); err != nil {
		t.Fatalf("admin leave with backup: %v", err)
	}
}

func TestDeleteFamily(t *testing.T) {
	st := newFakeStorage()
	svc := newTestService(st)
	fam, _ := svc.CreateFamily(context.Background(), "admin", "Casa")
	st.addMember(fam.ID, "member", core.RoleMember)

	if err := svc.DeleteFamily(context.Background(), "member", fam.ID); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if err := svc.DeleteFamily(context.Background(), "admin", fam.ID); err != nil {
		t.Fatalf("DeleteFamily: %v", err)
	}
	if fams, _ := svc.LoadFamilies(context.Background(), "member"); len(fams.Families) != 0 {
		t.Fatalf("member still sees deleted family: %+v", fams.Families)
	}
}

func TestPendingInvitationsFiltersExpired(t *testing.T) {
	st := newFakeStorage()
	svc := newTestService(st)
	now := time.Now()
	st.invitations["live"] = core.Invitation{
		ID: "live", FamilyID: "f1", Status: core.InvitationPending,
		ExpiresAt: now.Add(time.Hour),
	}
	st.invitations["dead"] = core.Invitation{
		ID: "dead", FamilyID: "f1", Status: core.InvitationPending,
		ExpiresAt: now.Add(-time.Hour),
	}

	out, err := svc.PendingInvitations(context.Background(), []string{"f1"})
	if err != nil {
		t.Fatalf("PendingInvitations: %v", err)
	}
	if len(out) != 1 || out[0].ID != "live" {
		t.Fatalf("pending = %+v", out)
	}
}
