package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrNegativeAmount      = errors.New("ledger: amount would be negative")
	ErrInsufficientReserve = errors.New("ledger: insufficient reserve")
	ErrBrandMismatch       = errors.New("ledger: brand mismatch")
)

// Brand identifies an asset type, e.g. "uakt".
type Brand string

// Amount is a non-negative quantity in minor units. The zero value is 0.
// Amounts are immutable; arithmetic returns a new value.
type Amount struct {
	v *big.Int
}

func NewAmount(v int64) (Amount, error) {
	if v < 0 {
		return Amount{}, ErrNegativeAmount
	}
	return Amount{v: big.NewInt(v)}, nil
}

// MustAmount is NewAmount for constants.
func MustAmount(v int64) Amount {
	a, err := NewAmount(v)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseAmount parses a base-10 integer string such as "5000000".
func ParseAmount(s string) (Amount, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return Amount{}, fmt.Errorf("ledger: invalid amount %q", s)
	}
	if n.Sign() < 0 {
		return Amount{}, ErrNegativeAmount
	}
	return Amount{v: n}, nil
}

// AmountFromBig copies n into an Amount.
func AmountFromBig(n *big.Int) (Amount, error) {
	if n == nil {
		return Amount{}, nil
	}
	if n.Sign() < 0 {
		return Amount{}, ErrNegativeAmount
	}
	return Amount{v: new(big.Int).Set(n)}, nil
}

func (a Amount) int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Big returns a copy of the underlying integer.
func (a Amount) Big() *big.Int { return new(big.Int).Set(a.int()) }

func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.int(), b.int())}
}

// Sub returns a-b, or ErrNegativeAmount if b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Cmp(b) < 0 {
		return Amount{}, ErrNegativeAmount
	}
	return Amount{v: new(big.Int).Sub(a.int(), b.int())}, nil
}

func (a Amount) Cmp(b Amount) int { return a.int().Cmp(b.int()) }

func (a Amount) IsZero() bool { return a.int().Sign() == 0 }

func (a Amount) String() string { return a.int().String() }

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Accept bare JSON numbers as well.
		var n json.Number
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return fmt.Errorf("ledger: amount must be a string or integer: %w", err)
		}
		s = n.String()
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Payment is an amount of a single brand.
type Payment struct {
	Brand Brand  `json:"brand"`
	Value Amount `json:"value"`
}

func (p Payment) String() string { return p.Value.String() + string(p.Brand) }
