package svc

import (
	"context"
	"sort"
	"testing"
	"time"

	"penne/cfg"
	"penne/pkg/crypto"
	"penne/pkg/domain"
	"penne/svc/ident"

	"github.com/pkg/errors"
)

type fakeStore struct {
	docs    map[string]domain.StoredPaste
	failAll bool
}

var errStoreDown = errors.New("store down")

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]domain.StoredPaste)}
}

func (f *fakeStore) Get(ctx context.Context, id string) (*domain.StoredPaste, error) {
	if f.failAll {
		return nil, errStoreDown
	}
	sp, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrPasteNotFound
	}
	sp.PasteID = id
	return &sp, nil
}

func (f *fakeStore) Create(ctx context.Context, id string, sp *domain.StoredPaste) error {
	if f.failAll {
		return errStoreDown
	}
	if _, ok := f.docs[id]; ok {
		return errors.Errorf("duplicate id %s", id)
	}
	f.docs[id] = *sp
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	if f.failAll {
		return errStoreDown
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeStore) ListByUser(ctx context.Context, userID string, now time.Time) ([]domain.StoredPaste, error) {
	if f.failAll {
		return nil, errStoreDown
	}
	var out []domain.StoredPaste
	for id, sp := range f.docs {
		if sp.UserID != userID {
			continue
		}
		if sp.ExpiresAt != nil && !sp.ExpiresAt.After(now) {
			continue
		}
		sp.PasteID = id
		sp.Contents = nil
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

func testService(t *testing.T, store Store) *Paste {
	t.Helper()
	cipher, err := crypto.New(make([]byte, crypto.KeySize))
	if err != nil {
		t.Fatalf("cipher init failed: %v", err)
	}
	ids, err := ident.New()
	if err != nil {
		t.Fatalf("ident init failed: %v", err)
	}
	p := NewPaste(store, cipher, ids, &cfg.Cfg{MaxPasteSize: 64 * 1024})
	// distinct creation second per call, so ids never collide in tests
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	p.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return p
}

func TestCreateAnonymousPermanentRejected(t *testing.T) {
	p := testService(t, newFakeStore())
	_, err := p.Create(context.Background(), domain.AnonymousUserID, "t", "c", 0)
	if !errors.Is(err, domain.ErrAnonymousPermanent) {
		t.Errorf("got %v, want ErrAnonymousPermanent", err)
	}
	if _, err := p.Create(context.Background(), domain.AnonymousUserID, "t", "c", 300); err != nil {
		t.Errorf("anonymous paste with expiry should succeed, got %v", err)
	}
	if _, err := p.Create(context.Background(), "user-a", "t", "c", 0); err != nil {
		t.Errorf("signed-in permanent paste should succeed, got %v", err)
	}
}

func TestCreatePersistsEncrypted(t *testing.T) {
	store := newFakeStore()
	p := testService(t, store)
	meta, err := p.Create(context.Background(), "user-a", "my title", "my contents", 300)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	sp, ok := store.docs[meta.PasteID]
	if !ok {
		t.Fatal("paste was not persisted under its id")
	}
	if sp.Title == "my title" {
		t.Error("title persisted in plaintext")
	}
	if sp.Contents == nil || *sp.Contents == "my contents" {
		t.Error("contents absent or persisted in plaintext")
	}
	if sp.ExpiresAt == nil {
		t.Fatal("expiry missing")
	}
	if want := sp.CreatedAt.Add(300 * time.Second); !sp.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", sp.ExpiresAt, want)
	}
	// returned metadata reports the persisted instants, not a recomputation
	if !meta.CreatedAt.Equal(sp.CreatedAt) {
		t.Errorf("returned created_at = %v, stored %v", meta.CreatedAt, sp.CreatedAt)
	}
	if meta.ExpiresAt == nil || !meta.ExpiresAt.Equal(*sp.ExpiresAt) {
		t.Errorf("returned expires_at = %v, stored %v", meta.ExpiresAt, sp.ExpiresAt)
	}
}

func TestCreateUnnamedDefault(t *testing.T) {
	store := newFakeStore()
	p := testService(t, store)
	meta, err := p.Create(context.Background(), "user-a", "", "c", 300)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, err := p.Get(context.Background(), meta.PasteID, time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != domain.DefaultTitle {
		t.Errorf("title = %q, want %q", got.Title, domain.DefaultTitle)
	}
}

func TestCreateRejectsOversize(t *testing.T) {
	p := testService(t, newFakeStore())
	big := make([]byte, 64*1024+1)
	_, err := p.Create(context.Background(), "user-a", "t", string(big), 300)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("got %v, want ErrInvalidRequest", err)
	}
}

func TestCreateStoreFailureWritesNothing(t *testing.T) {
	store := newFakeStore()
	store.failAll = true
	p := testService(t, store)
	if _, err := p.Create(context.Background(), "user-a", "t", "c", 300); err == nil {
		t.Fatal("expected storage error")
	}
	store.failAll = false
	if len(store.docs) != 0 {
		t.Error("failed create left a document behind")
	}
}

func TestGetRoundTrip(t *testing.T) {
	p := testService(t, newFakeStore())
	meta, err := p.Create(context.Background(), "user-a", "title", "contents", 300)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, err := p.Get(context.Background(), meta.PasteID, time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "title" || got.Contents == nil || *got.Contents != "contents" {
		t.Errorf("got %q/%v, want title/contents", got.Title, got.Contents)
	}
	if got.Meta.PasteID != meta.PasteID {
		t.Errorf("paste id = %q, want %q", got.Meta.PasteID, meta.PasteID)
	}
}

func TestGetExpiredIsNotFound(t *testing.T) {
	p := testService(t, newFakeStore())
	meta, err := p.Create(context.Background(), "user-a", "t", "c", 300)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err = p.Get(context.Background(), meta.PasteID, time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC))
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("got %v, want ErrPasteNotFound for expired paste", err)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	p := testService(t, newFakeStore())
	_, err := p.Get(context.Background(), "nope", time.Now().UTC())
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("got %v, want ErrPasteNotFound", err)
	}
}

func TestListByUserScopeAndOrder(t *testing.T) {
	p := testService(t, newFakeStore())
	ctx := context.Background()
	first, err := p.Create(ctx, "user-a", "first", "c1", 86400)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Create(ctx, "user-a", "second", "c2", 86400)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Create(ctx, "user-b", "other", "c3", 86400); err != nil {
		t.Fatal(err)
	}
	expired, err := p.Create(ctx, "user-a", "gone", "c4", 300)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	got, err := p.ListByUser(ctx, "user-a", now)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d pastes, want 2", len(got))
	}
	if got[0].Meta.PasteID != second.PasteID || got[1].Meta.PasteID != first.PasteID {
		t.Errorf("order = %q, %q; want newest first %q, %q",
			got[0].Meta.PasteID, got[1].Meta.PasteID, second.PasteID, first.PasteID)
	}
	for _, paste := range got {
		if paste.Meta.PasteID == expired.PasteID {
			t.Error("expired paste included in listing")
		}
		if paste.Contents != nil {
			t.Error("listing included contents")
		}
		if paste.Title == "" {
			t.Error("listing title not decrypted")
		}
	}
}

func TestDeleteOwnership(t *testing.T) {
	store := newFakeStore()
	p := testService(t, store)
	ctx := context.Background()
	meta, err := p.Create(ctx, "user-a", "t", "c", 300)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := p.Delete(ctx, meta.PasteID, "user-b"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("got %v, want ErrForbidden for non-owner delete", err)
	}
	if _, ok := store.docs[meta.PasteID]; !ok {
		t.Fatal("non-owner delete removed the document")
	}
	if err := p.Delete(ctx, meta.PasteID, "user-a"); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}
	if _, ok := store.docs[meta.PasteID]; ok {
		t.Error("owner delete left the document")
	}
}

func TestDeleteAnonymousUnauthorized(t *testing.T) {
	p := testService(t, newFakeStore())
	err := p.Delete(context.Background(), "whatever", domain.AnonymousUserID)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	p := testService(t, newFakeStore())
	err := p.Delete(context.Background(), "nope", "user-a")
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("got %v, want ErrPasteNotFound", err)
	}
}
