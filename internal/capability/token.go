// Package capability models single-use authorization tokens. Redeeming a
// token both grants the action and invalidates the token.
package capability

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync/atomic"
)

var ErrSpent = errors.New("capability: token already spent")

// Token is a single-use capability. The zero value is not usable; create
// tokens with New or Issue.
type Token struct {
	ID   string
	Kind string

	spent atomic.Bool
}

// New returns an unspent token with a caller-chosen id (e.g. an id issued by
// a remote service).
func New(kind, id string) *Token {
	return &Token{ID: id, Kind: kind}
}

// Issue returns an unspent token with a random id.
func Issue(kind string) *Token {
	var b [16]byte
	rand.Read(b[:]) // never returns an error since Go 1.24
	return New(kind, hex.EncodeToString(b[:]))
}

// Redeem atomically spends the token. Exactly one caller ever succeeds.
func (t *Token) Redeem() error {
	if !t.spent.CompareAndSwap(false, true) {
		return ErrSpent
	}
	return nil
}

func (t *Token) Spent() bool { return t.spent.Load() }

func (t *Token) String() string { return t.Kind + ":" + t.ID }
