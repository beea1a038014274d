package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Escrow is a reserve of a single brand owned by one holder.
// Implementations never let the balance go below zero.
type Escrow interface {
	Brand() Brand
	Balance(ctx context.Context) (Amount, error)
	Deposit(ctx context.Context, p Payment) error
	// Withdraw removes p from the reserve. Fails with ErrInsufficientReserve
	// if the balance is short; the balance is left unchanged in that case.
	Withdraw(ctx context.Context, p Payment) error
}

// MemoryEscrow keeps the reserve in process memory.
type MemoryEscrow struct {
	brand   Brand
	mu      sync.Mutex
	balance Amount
}

func NewMemoryEscrow(brand Brand) *MemoryEscrow {
	return &MemoryEscrow{brand: brand}
}

func (e *MemoryEscrow) Brand() Brand { return e.brand }

func (e *MemoryEscrow) Balance(_ context.Context) (Amount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, nil
}

func (e *MemoryEscrow) Deposit(_ context.Context, p Payment) error {
	if err := checkBrand(e.brand, p); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balance = e.balance.Add(p.Value)
	return nil
}

func (e *MemoryEscrow) Withdraw(_ context.Context, p Payment) error {
	if err := checkBrand(e.brand, p); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next, err := e.balance.Sub(p.Value)
	if err != nil {
		return fmt.Errorf("withdraw %s from %s: %w", p.Value, e.balance, ErrInsufficientReserve)
	}
	e.balance = next
	return nil
}

func checkBrand(want Brand, p Payment) error {
	if p.Brand != want {
		return fmt.Errorf("%w: escrow holds %q, payment is %q", ErrBrandMismatch, want, p.Brand)
	}
	return nil
}
