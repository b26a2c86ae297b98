package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ricevute/internal/account"
	"ricevute/internal/core"
	"ricevute/internal/family"
	"ricevute/internal/ingest"
	"ricevute/internal/services"
	"ricevute/internal/storage"
)

// stubFamilyStorage serves a fixed family list; everything else is empty.
type stubFamilyStorage struct {
	families []family.FamilyWithRole
}

func (s *stubFamilyStorage) ListFamiliesByUser(ctx context.Context, userID string) ([]family.FamilyWithRole, error) {
	return s.families, nil
}

func (s *stubFamilyStorage) ListMembershipsByFamily(ctx context.Context, familyID string) ([]core.Membership, error) {
	return nil, nil
}

func (s *stubFamilyStorage) GetProfiles(ctx context.Context, userIDs []string) ([]core.Profile, error) {
	return nil, nil
}

func (s *stubFamilyStorage) GetProfile(ctx context.Context, userID string) (core.Profile, error) {
	return core.Profile{}, storage.ErrNotFound
}

func (s *stubFamilyStorage) CreateFamilyWithAdmin(ctx context.Context, name, creatorID string) (core.Family, error) {
	return core.Family{ID: "f-new", Name: name, CreatedBy: creatorID}, nil
}

func (s *stubFamilyStorage) DeleteFamily(ctx context.Context, familyID string) error { return nil }

func (s *stubFamilyStorage) DeleteMembership(ctx context.Context, familyID, userID string) error {
	return nil
}

func (s *stubFamilyStorage) CountAdmins(ctx context.Context, familyID string) (int, error) {
	return 1, nil
}

func (s *stubFamilyStorage) CreateInvitation(ctx context.Context, inv core.Invitation) error {
	return nil
}

func (s *stubFamilyStorage) GetInvitation(ctx context.Context, id string) (core.Invitation, error) {
	return core.Invitation{}, storage.ErrNotFound
}

func (s *stubFamilyStorage) HasPendingInvitation(ctx context.Context, familyID, email string, now time.Time) (bool, error) {
	return false, nil
}

func (s *stubFamilyStorage) ListPendingInvitations(ctx context.Context, familyIDs []string, now time.Time) ([]core.Invitation, error) {
	return nil, nil
}

func (s *stubFamilyStorage) DeleteInvitation(ctx context.Context, id string) error { return nil }

func (s *stubFamilyStorage) AcceptInvitation(ctx context.Context, invitationID, userID string, now time.Time) error {
	return nil
}

type memKV struct{ m map[string]string }

func newMemKV() *memKV { return &memKV{m: make(map[string]string)} }

func (s *memKV) Get(key string) (string, bool) {
	v, ok := s.m[key]
	return v, ok
}

func (s *memKV) Set(key, value string) error {
	s.m[key] = value
	return nil
}

type stubCategories struct{ cats []core.Category }

func (s *stubCategories) ListCategories(ctx context.Context) ([]core.Category, error) {
	return s.cats, nil
}

// stubReceipts is an in-memory receipt store mirroring the repository's
// total recomputation.
type stubReceipts struct {
	receipts map[string]core.Receipt
	items    map[string]core.Item
}

func newStubReceipts() *stubReceipts {
	return &stubReceipts{
		receipts: make(map[string]core.Receipt),
		items:    make(map[string]core.Item),
	}
}

func (s *stubReceipts) recompute(receiptID string) core.Money {
	var total core.Money
	for _, it := range s.items {
		if it.ReceiptID == receiptID {
			total = total.Add(it.TotalPrice)
		}
	}
	rec := s.receipts[receiptID]
	rec.TotalAmount = total
	s.receipts[receiptID] = rec
	return total
}

func (s *stubReceipts) CreateReceiptWithItems(ctx context.Context, rec core.Receipt, items []core.Item) error {
	s.receipts[rec.ID] = rec
	for _, it := range items {
		s.items[it.ID] = it
	}
	return nil
}

func (s *stubReceipts) GetReceipt(ctx context.Context, id string) (core.Receipt, error) {
	rec, ok := s.receipts[id]
	if !ok {
		return core.Receipt{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *stubReceipts) UpdateReceiptFields(ctx context.Context, id string, patch core.ReceiptPatch) error {
	rec, ok := s.receipts[id]
	if !ok {
		return storage.ErrNotFound
	}
	if patch.VendorName != nil {
		rec.VendorName = *patch.VendorName
	}
	if patch.Notes != nil {
		rec.Notes = *patch.Notes
	}
	s.receipts[id] = rec
	return nil
}

func (s *stubReceipts) ReplaceItems(ctx context.Context, receiptID string, items []core.Item) (core.Money, error) {
	for id, it := range s.items {
		if it.ReceiptID == receiptID {
			delete(s.items, id)
		}
	}
	for _, it := range items {
		s.items[it.ID] = it
	}
	return s.recompute(receiptID), nil
}

func (s *stubReceipts) AddItem(ctx context.Context, it core.Item) (core.Money, error) {
	s.items[it.ID] = it
	return s.recompute(it.ReceiptID), nil
}

func (s *stubReceipts) DeleteItem(ctx context.Context, itemID string) (core.Money, error) {
	it, ok := s.items[itemID]
	if !ok {
		return core.Money{}, storage.ErrNotFound
	}
	delete(s.items, itemID)
	return s.recompute(it.ReceiptID), nil
}

func (s *stubReceipts) DeleteReceipt(ctx context.Context, id string) error {
	if _, ok := s.receipts[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.receipts, id)
	return nil
}

func (s *stubReceipts) GetItem(ctx context.Context, itemID string) (core.Item, error) {
	it, ok := s.items[itemID]
	if !ok {
		return core.Item{}, storage.ErrNotFound
	}
	return it, nil
}

func (s *stubReceipts) ListItems(ctx context.Context, receiptID string) ([]core.Item, error) {
	var out []core.Item
	for _, it := range s.items {
		if it.ReceiptID == receiptID {
			out = append(out, it)
		}
	}
	return out, nil
}

type stubSpend struct{ receipts []core.ReceiptWithItems }

func (s *stubSpend) ListReceiptsWithItems(ctx context.Context, scope core.Scope, from, to core.Date) ([]core.ReceiptWithItems, error) {
	return s.receipts, nil
}

type stubProfiles struct{ upserts []core.Profile }

func (s *stubProfiles) UpsertProfile(ctx context.Context, p core.Profile) error {
	s.upserts = append(s.upserts, p)
	return nil
}

type stubUsage struct{}

func (stubUsage) ListUsageByUser(ctx context.Context, userID string, limit int) ([]core.UsageRecord, error) {
	return nil, nil
}

type testServer struct {
	*Server
	profiles *stubProfiles
	store    *stubReceipts
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	profiles := &stubProfiles{}
	store := newStubReceipts()
	famStorage := &stubFamilyStorage{families: []family.FamilyWithRole{
		{Family: core.Family{ID: "f1", Name: "Rossi"}, Role: core.RoleAdmin},
	}}
	s := NewServer(":0", Deps{
		Families:        family.NewService(famStorage, nil, 7*24*time.Hour),
		Resolver:        account.NewResolver(newMemKV()),
		Categories:      services.NewCategoryService(&stubCategories{cats: []core.Category{{ID: "c1", Name: "Food"}}}, nil),
		Receipts:        services.NewReceiptService(store),
		Spend:           services.NewAggregator(&stubSpend{}),
		Reconciler:      ingest.NewReconciler(nil, nil, 1<<20, time.Second),
		Profiles:        profiles,
		Usage:           stubUsage{},
		RateLimitPerMin: 100,
		IngestPerMin:    2,
	})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return &testServer{Server: s, profiles: profiles, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.Handler.ServeHTTP(w, r)
	return w
}

func authed() map[string]string {
	return map[string]string{"X-User-ID": "u1"}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestMissingIdentityHeader(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/accounts", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != "unauthenticated" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestHealthEndpointsSkipAuth(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		if w := ts.do(t, http.MethodGet, path, "", nil); w.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, w.Code)
		}
	}
}

func TestListAccounts(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/accounts", "", authed())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp accountsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Accounts) != 2 {
		t.Fatalf("accounts = %+v", resp.Accounts)
	}
	if resp.Accounts[0].ID != "personal-u1" || resp.Accounts[1].ID != "family-f1" {
		t.Fatalf("account order = %+v", resp.Accounts)
	}
	// No selection persisted yet, so personal is the default.
	if resp.Current == nil || resp.Current.ID != "personal-u1" {
		t.Fatalf("current = %+v", resp.Current)
	}
}

func TestSelectAccount(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/api/accounts/current", `{"account_id":"family-f1"}`, authed())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var dto accountDTO
	if err := json.Unmarshal(w.Body.Bytes(), &dto); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dto.ID != "family-f1" || dto.FamilyID != "f1" {
		t.Fatalf("selected = %+v", dto)
	}
}

func TestSelectUnknownAccount(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/api/accounts/current", `{"account_id":"family-nope"}`, authed())
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Code != "unknown_account" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestIngestWithoutExtractor(t *testing.T) {
	ts := newTestServer(t)

	// "aGVsbG8=" is base64 for "hello".
	w := ts.do(t, http.MethodPost, "/api/receipts/ingest",
		`{"image_base64":"aGVsbG8=","mime_type":"image/jpeg"}`, authed())
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Code != "extractor_offline" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestCreateReceiptRejectsNoItems(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/receipts",
		`{"vendor_name":"Esselunga","date":"2026-08-29","items":[]}`, authed())
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Code != "no_items" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestCreateReceiptRejectsBadAmount(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/receipts",
		`{"vendor_name":"Esselunga","date":"2026-08-29","items":[{"name":"Milk","quantity":1,"unit_price":"abc"}]}`,
		authed())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Code != "invalid_input" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestGetReceiptNotFound(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/receipts/missing", "", authed())
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestSummaryEmpty(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/summary?from=2026-08-01&to=2026-08-31", "", authed())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var sum summaryDTO
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.TotalAmount != "0.00" || sum.AvgTransaction != "0.00" || sum.TransactionCount != 0 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestSummaryRejectsInvertedRange(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/summary?from=2026-08-31&to=2026-08-01", "", authed())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestProfileBootstrapFromHeaders(t *testing.T) {
	ts := newTestServer(t)

	headers := authed()
	headers["X-User-Name"] = "Anna"
	headers["X-User-Email"] = "anna@example.com"
	ts.do(t, http.MethodGet, "/api/accounts", "", headers)

	if len(ts.profiles.upserts) != 1 {
		t.Fatalf("upserts = %+v", ts.profiles.upserts)
	}
	p := ts.profiles.upserts[0]
	if p.ID != "u1" || p.Name != "Anna" || p.Email != "anna@example.com" {
		t.Fatalf("profile = %+v", p)
	}
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/accounts", "", authed())
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options = %q", got)
	}
}

func TestRejectsUnknownJSONFields(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/api/accounts/current", `{"account_id":"personal-u1","bogus":true}`, authed())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

// A receipt's total is only ever item recomputation; the patch surface
// must not accept one.
func TestUpdateReceiptRejectsTotalAmount(t *testing.T) {
	ts := newTestServer(t)
	ts.store.receipts["r1"] = core.Receipt{ID: "r1", UserID: "u1", VendorName: "Esselunga"}

	w := ts.do(t, http.MethodPatch, "/api/receipts/r1", `{"total_amount":"9.99"}`, authed())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestForeignPersonalReceiptDenied(t *testing.T) {
	ts := newTestServer(t)
	ts.store.receipts["r2"] = core.Receipt{ID: "r2", UserID: "u2", VendorName: "Conad"}

	for _, tc := range []struct {
		method string
		body   string
	}{
		{http.MethodGet, ""},
		{http.MethodPatch, `{"notes":"mine now"}`},
		{http.MethodDelete, ""},
	} {
		w := ts.do(t, tc.method, "/api/receipts/r2", tc.body, authed())
		if w.Code != http.StatusForbidden {
			t.Fatalf("%s status = %d, body %s", tc.method, w.Code, w.Body.String())
		}
		if resp := decodeError(t, w); resp.Code != "forbidden" {
			t.Fatalf("%s code = %q", tc.method, resp.Code)
		}
	}
	if _, ok := ts.store.receipts["r2"]; !ok {
		t.Fatal("foreign receipt was deleted")
	}
}

func TestForeignReceiptItemWritesDenied(t *testing.T) {
	ts := newTestServer(t)
	ts.store.receipts["r2"] = core.Receipt{ID: "r2", UserID: "u2", VendorName: "Conad"}
	ts.store.items["i2"] = core.Item{ID: "i2", ReceiptID: "r2", Name: "Milk", Quantity: 1, TotalPrice: core.Money{Cents: 150}}

	w := ts.do(t, http.MethodPost, "/api/receipts/r2/items",
		`{"name":"Eggs","quantity":1,"unit_price":"2.50"}`, authed())
	if w.Code != http.StatusForbidden {
		t.Fatalf("add item status = %d, body %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPut, "/api/receipts/r2/items",
		`{"items":[{"name":"Eggs","quantity":1,"unit_price":"2.50"}]}`, authed())
	if w.Code != http.StatusForbidden {
		t.Fatalf("replace items status = %d, body %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodDelete, "/api/items/i2", "", authed())
	if w.Code != http.StatusForbidden {
		t.Fatalf("delete item status = %d, body %s", w.Code, w.Body.String())
	}
	if _, ok := ts.store.items["i2"]; !ok {
		t.Fatal("foreign item was deleted")
	}
}

func TestFamilyReceiptSharedWithMembers(t *testing.T) {
	ts := newTestServer(t)
	// Added by another member of f1, which the caller belongs to.
	ts.store.receipts["r3"] = core.Receipt{ID: "r3", UserID: "u2", FamilyID: "f1", AddedBy: "u2", VendorName: "Ipercoop"}

	w := ts.do(t, http.MethodGet, "/api/receipts/r3", "", authed())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestFamilyReceiptDeniedToNonMembers(t *testing.T) {
	ts := newTestServer(t)
	ts.store.receipts["r4"] = core.Receipt{ID: "r4", UserID: "u2", FamilyID: "f9", VendorName: "Lidl"}

	w := ts.do(t, http.MethodGet, "/api/receipts/r4", "", authed())
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Code != "not_member" {
		t.Fatalf("code = %q", resp.Code)
	}
}

// The ingest endpoint has its own, smaller per-IP budget; exhausting it
// must not block ordinary writes.
func TestIngestBudgetIsSeparate(t *testing.T) {
	ts := newTestServer(t)

	body := `{"image_base64":"aGVsbG8=","mime_type":"image/jpeg"}`
	for i := 0; i < 2; i++ {
		if w := ts.do(t, http.MethodPost, "/api/receipts/ingest", body, authed()); w.Code == http.StatusTooManyRequests {
			t.Fatalf("ingest %d rate limited under the budget", i+1)
		}
	}
	w := ts.do(t, http.MethodPost, "/api/receipts/ingest", body, authed())
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != "rate_limited" {
		t.Fatalf("code = %q", resp.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/receipts",
		`{"vendor_name":"Esselunga","date":"2026-08-29","items":[{"name":"Milk","quantity":1,"unit_price":"1.50"}]}`,
		authed())
	if w.Code != http.StatusCreated {
		t.Fatalf("ordinary write status = %d, body %s", w.Code, w.Body.String())
	}
}
