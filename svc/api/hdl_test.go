package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"penne/cfg"
	"penne/pkg/crypto"
	"penne/pkg/domain"
	"penne/svc/expiry"
	"penne/svc/ident"
	"penne/svc/svc"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type memStore struct {
	mu   sync.Mutex
	docs map[string]*domain.StoredPaste
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]*domain.StoredPaste)}
}

func (m *memStore) Get(ctx context.Context, id string) (*domain.StoredPaste, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.docs[id]
	if !ok {
		return nil, domain.ErrPasteNotFound
	}
	cp := *sp
	cp.PasteID = id
	return &cp, nil
}

func (m *memStore) Create(ctx context.Context, id string, sp *domain.StoredPaste) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; ok {
		return errors.Errorf("duplicate id %s", id)
	}
	cp := *sp
	m.docs[id] = &cp
	return nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *memStore) ListByUser(ctx context.Context, userID string, now time.Time) ([]domain.StoredPaste, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StoredPaste
	for id, sp := range m.docs {
		if sp.UserID != userID {
			continue
		}
		if sp.ExpiresAt != nil && !sp.ExpiresAt.After(now) {
			continue
		}
		cp := *sp
		cp.PasteID = id
		cp.Contents = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Close() error                   { return nil }

type testEnv struct {
	router *chi.Mux
	store  *memStore
	cipher *crypto.Cipher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cipher, err := crypto.New(make([]byte, crypto.KeySize))
	if err != nil {
		t.Fatalf("cipher init failed: %v", err)
	}
	ids, err := ident.New()
	if err != nil {
		t.Fatalf("ident init failed: %v", err)
	}
	c := &cfg.Cfg{MaxPasteSize: 64 * 1024}
	store := newMemStore()
	h := &Hdl{paste: svc.NewPaste(store, cipher, ids, c), cfg: c}
	r := chi.NewRouter()
	r.Post("/pastes", h.CreatePaste)
	r.Get("/pastes/{id}", h.GetPaste)
	r.Delete("/pastes/{id}", h.DeletePaste)
	r.Get("/users/{userID}/pastes", h.ListUserPastes)
	r.Get("/config/expiry", h.ExpiryOptions)
	return &testEnv{router: r, store: store, cipher: cipher}
}

// do issues a request; a non-empty userID plays the role of the
// session middleware and marks the request as signed in.
func (e *testEnv) do(t *testing.T, method, target, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if userID != "" {
		ctx := context.WithValue(req.Context(), userKey{}, &domain.User{ID: userID})
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(t *testing.T, id, userID, title, contents string, createdAt time.Time, expiresAt *time.Time) {
	t.Helper()
	encTitle, err := e.cipher.Encrypt(title)
	if err != nil {
		t.Fatalf("encrypt title: %v", err)
	}
	encContents, err := e.cipher.Encrypt(contents)
	if err != nil {
		t.Fatalf("encrypt contents: %v", err)
	}
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.docs[id] = &domain.StoredPaste{
		UserID:    userID,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		Title:     encTitle,
		Contents:  &encContents,
	}
}

func TestCreatePasteAnonymousGating(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/pastes", "", map[string]interface{}{
		"title": "t", "contents": "c", "expires_in": 0,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("anonymous permanent paste: status %d, want 403", rec.Code)
	}
	rec = e.do(t, http.MethodPost, "/pastes", "", map[string]interface{}{
		"title": "t", "contents": "c", "expires_in": 300,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("anonymous paste with expiry: status %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp CreateResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == "" {
		t.Fatal("response missing paste id")
	}
	if resp.ExpiresAt == nil {
		t.Fatal("response missing expires_at")
	}
	// the echoed expiry is the persisted one, not a recomputation
	sp, ok := e.store.docs[resp.ID]
	if !ok {
		t.Fatal("paste not persisted")
	}
	if !sp.ExpiresAt.Equal(*resp.ExpiresAt) {
		t.Errorf("echoed expires_at %v differs from stored %v", resp.ExpiresAt, sp.ExpiresAt)
	}
}

func TestCreatePasteValidation(t *testing.T) {
	e := newTestEnv(t)
	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"empty contents", map[string]interface{}{"title": "t", "contents": "", "expires_in": 300}},
		{"off-menu duration", map[string]interface{}{"contents": "c", "expires_in": 123}},
		{"unknown field", map[string]interface{}{"contents": "c", "expires_in": 300, "bogus": 1}},
	}
	for _, tc := range cases {
		rec := e.do(t, http.MethodPost, "/pastes", "user-a", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", tc.name, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: error Content-Type = %q, want application/json", tc.name, ct)
		}
	}
	if len(e.store.docs) != 0 {
		t.Errorf("rejected requests persisted %d documents", len(e.store.docs))
	}
}

func TestGetPaste(t *testing.T) {
	e := newTestEnv(t)
	now := time.Now().UTC()
	e.seed(t, "abc", "user-a", "my title", "my contents", now.Add(-time.Minute), nil)
	rec := e.do(t, http.MethodGet, "/pastes/abc", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp PasteResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Title != "my title" || resp.Contents != "my contents" {
		t.Errorf("got %q/%q, want decrypted title and contents", resp.Title, resp.Contents)
	}
}

func TestGetPasteMissingAndExpired(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/pastes/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing paste: status %d, want 404", rec.Code)
	}
	now := time.Now().UTC()
	gone := now.Add(-time.Second)
	e.seed(t, "old", "user-a", "t", "c", now.Add(-time.Hour), &gone)
	rec = e.do(t, http.MethodGet, "/pastes/old", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expired paste: status %d, want 404", rec.Code)
	}
}

func TestDeletePasteOwnership(t *testing.T) {
	e := newTestEnv(t)
	now := time.Now().UTC()
	e.seed(t, "abc", "user-a", "t", "c", now, nil)
	rec := e.do(t, http.MethodDelete, "/pastes/abc", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous delete: status %d, want 401", rec.Code)
	}
	rec = e.do(t, http.MethodDelete, "/pastes/abc", "user-b", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-owner delete: status %d, want 403", rec.Code)
	}
	if _, ok := e.store.docs["abc"]; !ok {
		t.Fatal("non-owner delete removed the document")
	}
	rec = e.do(t, http.MethodDelete, "/pastes/abc", "user-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner delete: status %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if _, ok := e.store.docs["abc"]; ok {
		t.Error("owner delete left the document")
	}
}

func TestListUserPastes(t *testing.T) {
	e := newTestEnv(t)
	now := time.Now().UTC()
	e.seed(t, "p1", "user-a", "first", "c1", now.Add(-2*time.Hour), nil)
	e.seed(t, "p2", "user-a", "second", "c2", now.Add(-time.Hour), nil)
	e.seed(t, "p3", "user-b", "other", "c3", now, nil)
	gone := now.Add(-time.Minute)
	e.seed(t, "p4", "user-a", "expired", "c4", now.Add(-3*time.Hour), &gone)
	rec := e.do(t, http.MethodGet, "/users/user-a/pastes", "user-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp []PasteResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("got %d pastes, want 2", len(resp))
	}
	if resp[0].ID != "p2" || resp[1].ID != "p1" {
		t.Errorf("order = %q, %q; want newest first p2, p1", resp[0].ID, resp[1].ID)
	}
	for _, p := range resp {
		if p.Contents != "" {
			t.Errorf("listing for %q included contents", p.ID)
		}
		if p.Title == "" {
			t.Errorf("listing for %q has no decrypted title", p.ID)
		}
	}
}

func TestExpiryOptionsMenu(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/config/expiry", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	var anon []expiry.Option
	if err := json.Unmarshal(rec.Body.Bytes(), &anon); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(anon) != 7 {
		t.Errorf("anonymous menu has %d entries, want 7", len(anon))
	}
	for _, o := range anon {
		if o.Seconds == 0 {
			t.Error("anonymous menu offers the Never entry")
		}
	}
	rec = e.do(t, http.MethodGet, "/config/expiry", "user-a", nil)
	var signedIn []expiry.Option
	if err := json.Unmarshal(rec.Body.Bytes(), &signedIn); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(signedIn) != 8 {
		t.Fatalf("signed-in menu has %d entries, want 8", len(signedIn))
	}
	if signedIn[0].Seconds != 0 || signedIn[0].Label != "Never" {
		t.Errorf("first signed-in entry = %+v, want Never/0", signedIn[0])
	}
}
