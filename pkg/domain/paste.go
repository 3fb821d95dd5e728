package domain

import (
	"time"

	"penne/pkg/crypto"
)

// AnonymousUserID marks pastes submitted without a signed-in user.
const AnonymousUserID = "0"

const DefaultTitle = "Unnamed"

type PasteMeta struct {
	UserID    string
	CreatedAt time.Time
	ExpiresAt *time.Time
	PasteID   string
}

func (m PasteMeta) Anonymous() bool {
	return m.UserID == "" || m.UserID == AnonymousUserID
}

// Paste is the in-memory plaintext form. Contents is nil for
// metadata-only projections (list views never load the body).
type Paste struct {
	Meta     PasteMeta `json:"meta"`
	Title    string    `json:"title"`
	Contents *string   `json:"contents,omitempty"`
}

// StoredPaste is the persisted shape. Title and Contents hold base64
// AEAD tokens, never plaintext. The paste id is the document key, not
// a stored field; it is echoed back after fetch.
type StoredPaste struct {
	UserID    string     `bson:"user_id" json:"user_id"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	ExpiresAt *time.Time `bson:"expires_at" json:"expires_at"`
	Title     string     `bson:"title" json:"title"`
	Contents  *string    `bson:"contents" json:"contents"`
	PasteID   string     `bson:"-" json:"-"`
}

// ToStored encrypts the plaintext fields for persistence. An absent
// Contents stays absent.
func (p *Paste) ToStored(c *crypto.Cipher) (*StoredPaste, error) {
	title, err := c.Encrypt(p.Title)
	if err != nil {
		return nil, err
	}
	sp := &StoredPaste{
		UserID:    p.Meta.UserID,
		CreatedAt: p.Meta.CreatedAt,
		ExpiresAt: p.Meta.ExpiresAt,
		Title:     title,
		PasteID:   p.Meta.PasteID,
	}
	if p.Contents != nil {
		contents, err := c.Encrypt(*p.Contents)
		if err != nil {
			return nil, err
		}
		sp.Contents = &contents
	}
	return sp, nil
}

// FromStored decrypts both title and contents.
func FromStored(sp *StoredPaste, c *crypto.Cipher) (*Paste, error) {
	p, err := TitleFromStored(sp, c)
	if err != nil {
		return nil, err
	}
	if sp.Contents != nil {
		contents, err := c.Decrypt(*sp.Contents)
		if err != nil {
			return nil, err
		}
		p.Contents = &contents
	}
	return p, nil
}

// TitleFromStored decrypts the title only, leaving the body absent.
// Listings use this so ciphertext bodies never reach callers.
func TitleFromStored(sp *StoredPaste, c *crypto.Cipher) (*Paste, error) {
	title, err := c.Decrypt(sp.Title)
	if err != nil {
		return nil, err
	}
	return &Paste{
		Meta: PasteMeta{
			UserID:    sp.UserID,
			CreatedAt: sp.CreatedAt,
			ExpiresAt: sp.ExpiresAt,
			PasteID:   sp.PasteID,
		},
		Title: title,
	}, nil
}
