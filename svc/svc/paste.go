package svc

import (
	"context"
	"time"

	"penne/cfg"
	"penne/metrics"
	"penne/pkg/crypto"
	"penne/pkg/domain"
	"penne/svc/expiry"
	"penne/svc/ident"
	"penne/svc/util"

	"github.com/pkg/errors"
)

// Store is the document-store capability the façade needs. Mongo and
// SQLite implement it; tests use an in-memory fake.
type Store interface {
	Get(ctx context.Context, id string) (*domain.StoredPaste, error)
	Create(ctx context.Context, id string, sp *domain.StoredPaste) error
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string, now time.Time) ([]domain.StoredPaste, error)
	Ping(ctx context.Context) error
	Close() error
}

// Paste orchestrates the paste lifecycle: id assignment, expiry
// computation, field encryption and the authorization rules around
// create/list/delete. It holds no cache and no mutable state beyond
// the shared read-only cipher, so every method is safe for unlimited
// concurrent use. Store failures propagate unretried.
type Paste struct {
	store        Store
	cipher       *crypto.Cipher
	ids          *ident.Generator
	maxPasteSize int64
	now          func() time.Time
}

func NewPaste(store Store, cipher *crypto.Cipher, ids *ident.Generator, c *cfg.Cfg) *Paste {
	if store == nil || cipher == nil || ids == nil || c == nil {
		panic("paste service: nil dependency (store, cipher, ids, or cfg)")
	}
	return &Paste{
		store:        store,
		cipher:       cipher,
		ids:          ids,
		maxPasteSize: c.MaxPasteSize,
		now:          time.Now,
	}
}

// Create assembles and persists a new paste, returning the assigned
// metadata (id, creation and expiry instants as stored). Anonymous
// authors may not create permanent pastes. Either the whole document
// is written or nothing is.
func (p *Paste) Create(ctx context.Context, authorID, title, contents string, durationSeconds int64) (*domain.PasteMeta, error) {
	if authorID == "" {
		authorID = domain.AnonymousUserID
	}
	meta := domain.PasteMeta{UserID: authorID}
	if meta.Anonymous() && durationSeconds == 0 {
		return nil, domain.ErrAnonymousPermanent
	}
	if int64(len(contents)) > p.maxPasteSize {
		return nil, domain.ErrInvalidRequest
	}
	now := p.now().UTC()
	id, err := p.ids.Generate(uint64(now.Unix()))
	if err != nil {
		return nil, errors.Wrap(err, "generate id")
	}
	if title == "" {
		title = domain.DefaultTitle
	}
	meta.CreatedAt = now
	meta.ExpiresAt = expiry.ExpiresAt(now, durationSeconds)
	meta.PasteID = id
	paste := &domain.Paste{
		Meta:     meta,
		Title:    title,
		Contents: &contents,
	}
	sp, err := paste.ToStored(p.cipher)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt paste")
	}
	metrics.CipherOps.WithLabelValues("encrypt").Add(2)
	if err := p.store.Create(ctx, id, sp); err != nil {
		return nil, errors.Wrap(err, "persist paste")
	}
	metrics.PasteCreated.Inc()
	return &meta, nil
}

// Get fetches and decrypts a paste. Expired pastes are indistinguishable
// from absent ones: both come back as ErrPasteNotFound, even though
// expired rows stay in the store until swept.
func (p *Paste) Get(ctx context.Context, id string, now time.Time) (*domain.Paste, error) {
	sp, err := p.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "fetch paste")
	}
	if !expiry.IsAlive(sp.ExpiresAt, now) {
		metrics.PasteExpiredReads.Inc()
		return nil, domain.ErrPasteNotFound
	}
	paste, err := domain.FromStored(sp, p.cipher)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt paste")
	}
	metrics.CipherOps.WithLabelValues("decrypt").Add(2)
	metrics.PasteRetrieved.Inc()
	return paste, nil
}

// ListByUser returns the user's live pastes newest first, titles
// decrypted, bodies absent. A paste whose title fails authentication
// is unreadable and dropped from the listing.
func (p *Paste) ListByUser(ctx context.Context, userID string, now time.Time) ([]domain.Paste, error) {
	stored, err := p.store.ListByUser(ctx, userID, now)
	if err != nil {
		return nil, errors.Wrap(err, "list pastes")
	}
	out := make([]domain.Paste, 0, len(stored))
	for i := range stored {
		paste, err := domain.TitleFromStored(&stored[i], p.cipher)
		if err != nil {
			if errors.Is(err, crypto.ErrAuthentication) {
				util.Warn().Str("paste_id", stored[i].PasteID).Msg("unreadable title, skipping")
				continue
			}
			return nil, errors.Wrap(err, "decrypt title")
		}
		metrics.CipherOps.WithLabelValues("decrypt").Inc()
		out = append(out, *paste)
	}
	return out, nil
}

// Delete removes a paste, but only for its owner: a requester who is
// not the owner gets ErrForbidden and the document stays.
func (p *Paste) Delete(ctx context.Context, id, requesterID string) error {
	if (domain.PasteMeta{UserID: requesterID}).Anonymous() {
		return domain.ErrUnauthorized
	}
	sp, err := p.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return domain.ErrPasteNotFound
		}
		return errors.Wrap(err, "fetch paste")
	}
	if sp.UserID != requesterID {
		return domain.ErrForbidden
	}
	if err := p.store.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete paste")
	}
	metrics.PasteDeleted.Inc()
	return nil
}
