package ident

import (
	"github.com/pkg/errors"
	"github.com/sqids/sqids-go"
)

// Shuffled alphanumeric alphabet. The shuffle keeps sequential seeds
// from producing visibly sequential ids; dropping non-alphanumerics
// keeps ids URL-safe without escaping.
const alphabet = "k3G7QAe51FCsPW92uEOyq4Bg6Sp8YzVTmnU0liwDdHXLajZrfxNhobJIRcMvKt"

// Generator derives short public paste ids from an integer seed, the
// unix-second creation time. Encoding is bijective: equal seeds yield
// equal ids, so two creations within the same second collide. Accepted
// as a tolerable risk; the store's insert-only write refuses the
// overwrite if it ever happens.
type Generator struct {
	s *sqids.Sqids
}

func New() (*Generator, error) {
	s, err := sqids.New(sqids.Options{Alphabet: alphabet})
	if err != nil {
		return nil, errors.Wrap(err, "init sqids")
	}
	return &Generator{s: s}, nil
}

func (g *Generator) Generate(seed uint64) (string, error) {
	id, err := g.s.Encode([]uint64{seed})
	if err != nil {
		return "", errors.Wrap(err, "encode id")
	}
	return id, nil
}
