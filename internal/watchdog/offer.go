package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/capability"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
)

const (
	// FundKeyword names the single payment an initial funding offer gives.
	FundKeyword = "Fund"

	InvitationKind = "invitation"

	AcceptedMessage = "The offer has been accepted. Once the contract has been completed, please check your payout"
)

// ErrEscrowNotEmpty means the escrow already holds funds, so accepting would
// fund it a second time. The invitation is not consumed.
var ErrEscrowNotEmpty = errors.New("watchdog: escrow already funded")

// Offer is a funding proposal: what the offering party gives and wants, by
// keyword.
type Offer struct {
	Give map[string]ledger.Payment `json:"give"`
	Want map[string]ledger.Payment `json:"want"`
}

// ProposalShapeError means the offer is not "give exactly Fund, want
// nothing". The offer was not consumed.
type ProposalShapeError struct {
	Reason string
}

func (e *ProposalShapeError) Error() string {
	return "watchdog: offer shape rejected: " + e.Reason
}

func checkShape(o Offer, brand ledger.Brand) (ledger.Payment, error) {
	if len(o.Want) != 0 {
		return ledger.Payment{}, &ProposalShapeError{Reason: fmt.Sprintf("want must be empty, got %d entries", len(o.Want))}
	}
	if len(o.Give) != 1 {
		return ledger.Payment{}, &ProposalShapeError{Reason: fmt.Sprintf("give must hold exactly %q, got %d entries", FundKeyword, len(o.Give))}
	}
	p, ok := o.Give[FundKeyword]
	if !ok {
		return ledger.Payment{}, &ProposalShapeError{Reason: fmt.Sprintf("give must use keyword %q", FundKeyword)}
	}
	if p.Brand != brand {
		return ledger.Payment{}, &ProposalShapeError{Reason: fmt.Sprintf("give brand %q, want %q", p.Brand, brand)}
	}
	return p, nil
}

// Invitation grants a single acceptance of the initial funding offer.
type Invitation struct {
	token *capability.Token
	inst  *Instance

	mu sync.Mutex
}

func (inv *Invitation) ID() string { return inv.token.ID }

func (inv *Invitation) Spent() bool { return inv.token.Spent() }

// Accept moves the offered reserve into an empty escrow and starts the watch.
// A malformed offer fails with *ProposalShapeError and a pre-funded escrow
// with ErrEscrowNotEmpty; both leave everything untouched. Any use after the
// first success fails with capability.ErrSpent.
func (inv *Invitation) Accept(ctx context.Context, o Offer) (string, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.token.Spent() {
		return "", capability.ErrSpent
	}
	give, err := checkShape(o, inv.inst.escrow.Brand())
	if err != nil {
		return "", err
	}
	bal, err := inv.inst.escrow.Balance(ctx)
	if err != nil {
		return "", fmt.Errorf("read escrow balance: %w", err)
	}
	if !bal.IsZero() {
		return "", fmt.Errorf("%w: holds %s", ErrEscrowNotEmpty, bal)
	}
	if err := inv.inst.escrow.Deposit(ctx, give); err != nil {
		return "", fmt.Errorf("deposit offer into escrow: %w", err)
	}
	if err := inv.token.Redeem(); err != nil {
		return "", err
	}

	inv.inst.log.Info("offer accepted",
		zap.String("invitation", inv.ID()),
		zap.Stringer("amount", give),
	)
	inv.inst.controller.SyncEscrowGauge(ctx)
	inv.inst.start()
	return AcceptedMessage, nil
}
