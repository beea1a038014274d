// Package funding keeps a deployment's provider-side escrow topped up from
// the watchdog's reserve.
package funding

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/bridge"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/deployment"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/metrics"
)

// Terms fixes what one funding run moves and where.
type Terms struct {
	DeploymentID string
	Amount       ledger.Amount
	Denom        string
	Peg          bridge.Peg
}

// Controller runs the balance check and, when the deployment is empty, the
// funding workflow. It is not safe for concurrent CheckAndFund calls; the
// scheduler never overlaps cycles.
type Controller struct {
	terms       Terms
	escrow      ledger.Escrow
	deployments deployment.Client
	bridge      bridge.Bridge
	journal     Journal
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time
}

// NewController wires a Controller. A nil journal disables attempt recording.
func NewController(
	terms Terms,
	escrow ledger.Escrow,
	deployments deployment.Client,
	br bridge.Bridge,
	journal Journal,
	m *metrics.Metrics,
	log *zap.Logger,
) *Controller {
	if journal == nil {
		journal = NopJournal{}
	}
	return &Controller{
		terms:       terms,
		escrow:      escrow,
		deployments: deployments,
		bridge:      br,
		journal:     journal,
		metrics:     m,
		log:         log,
		now:         time.Now,
	}
}

func (c *Controller) Journal() Journal { return c.journal }

// CheckAndFund queries the deployment balance and funds the deployment if it
// is empty. It returns a nil Attempt when no funding was needed.
//
// A bridge failure is recovered: whatever the bridge paid back goes back into
// escrow and the returned error is nil; Attempt.Err carries a *TransferError.
// A transfer whose outcome is unknown is dead-lettered with nothing restored.
// A failed provider deposit returns a *DepositError. The transferred funds are
// not rolled back in that case; the attempt is dead-lettered instead.
func (c *Controller) CheckAndFund(ctx context.Context) (*Attempt, error) {
	c.metrics.CheckRan()

	info, err := c.deployments.Balance(ctx, c.terms.DeploymentID)
	if err != nil {
		return nil, fmt.Errorf("query deployment balance: %w", err)
	}
	fields := []zap.Field{zap.String("deployment", c.terms.DeploymentID)}
	empty := info == nil || info.Amount.IsZero()
	if info != nil {
		fields = append(fields, zap.Stringer("amount", info.Amount), zap.String("denom", info.Denom))
	}
	fields = append(fields, zap.Bool("empty", empty))
	c.log.Info("checking deployment", fields...)

	if !empty {
		return nil, nil
	}
	return c.fund(ctx)
}

func (c *Controller) fund(ctx context.Context) (*Attempt, error) {
	give := ledger.Payment{Brand: c.escrow.Brand(), Value: c.terms.Amount}
	att := &Attempt{
		DeploymentID: c.terms.DeploymentID,
		Amount:       c.terms.Amount,
		Denom:        c.terms.Denom,
		Outcome:      OutcomeFailed,
		At:           c.now().UTC(),
	}

	c.log.Info("funding deployment account",
		zap.String("deployment", c.terms.DeploymentID),
		zap.Stringer("amount", give),
	)
	if err := c.escrow.Withdraw(ctx, give); err != nil {
		c.metrics.FundingAttempt(metrics.OutcomeInsufficient)
		c.log.Error("withdraw from escrow failed",
			zap.String("deployment", c.terms.DeploymentID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("withdraw funding amount: %w", err)
	}

	seat := c.transfer(ctx, give)

	// The funds have left escrow; bookkeeping must outlive a cancelled caller.
	bg := context.WithoutCancel(ctx)

	// Rollback path: whatever the bridge handed back returns to escrow.
	if !seat.Payout.Value.IsZero() {
		if err := c.escrow.Deposit(bg, seat.Payout); err != nil {
			c.log.Error("restoring payout to escrow failed",
				zap.String("deployment", c.terms.DeploymentID),
				zap.Stringer("payout", seat.Payout),
				zap.Error(err),
			)
			att.setErr(err)
			c.record(bg, att)
			c.SyncEscrowGauge(bg)
			return att, fmt.Errorf("restore payout %s: %w", seat.Payout, err)
		}
		att.Restored = seat.Payout.Value
	}
	c.SyncEscrowGauge(bg)

	if seat.Failed() {
		terr := &TransferError{Result: seat.Result, Restored: att.Restored, Err: seat.Err}
		att.setErr(terr)
		att.Unsettled = seat.Unsettled
		c.metrics.FundingAttempt(metrics.OutcomeTransferFail)
		c.log.Warn("transfer to deployment account failed",
			zap.String("deployment", c.terms.DeploymentID),
			zap.Stringer("restored", att.Restored),
			zap.Bool("unsettled", seat.Unsettled),
			zap.Error(seat.Err),
		)
		if seat.Unsettled {
			c.deadLetter(bg, att)
		}
		c.record(bg, att)
		return att, nil
	}
	c.log.Info("funding done",
		zap.String("deployment", c.terms.DeploymentID),
		zap.String("result", seat.Result),
	)

	c.log.Info("depositing deployment",
		zap.String("deployment", c.terms.DeploymentID),
		zap.Stringer("amount", c.terms.Amount),
		zap.String("denom", c.terms.Denom),
	)
	receipt, err := c.deployments.DepositDeployment(ctx, c.terms.DeploymentID, c.terms.Amount, c.terms.Denom)
	if err != nil {
		derr := &DepositError{DeploymentID: c.terms.DeploymentID, Amount: c.terms.Amount, Err: err}
		att.setErr(derr)
		c.metrics.FundingAttempt(metrics.OutcomeDepositFail)
		c.log.Error("deployment deposit failed",
			zap.String("deployment", c.terms.DeploymentID),
			zap.Stringer("amount", c.terms.Amount),
			zap.Error(err),
		)
		c.deadLetter(bg, att)
		c.record(bg, att)
		return att, derr
	}

	att.Outcome = OutcomeSuccess
	att.Receipt = receipt
	c.metrics.FundingAttempt(metrics.OutcomeSuccess)
	c.log.Info("deposit done",
		zap.String("deployment", c.terms.DeploymentID),
		zap.String("tx", receipt.TxHash),
		zap.Int64("height", receipt.Height),
	)
	c.record(bg, att)
	return att, nil
}

// transfer moves give to the deployment account over the bridge. Failures
// before the bridge takes custody report the full amount as payout.
func (c *Controller) transfer(ctx context.Context, give ledger.Payment) *bridge.Seat {
	addr, err := c.deployments.Address(ctx)
	if err != nil {
		return &bridge.Seat{Err: fmt.Errorf("deployment address: %w", err), Payout: give}
	}
	tok, err := c.bridge.MakeTransferCapability(ctx, c.terms.Peg, addr)
	if err != nil {
		return &bridge.Seat{Err: fmt.Errorf("make transfer capability: %w", err), Payout: give}
	}
	seat, err := c.bridge.Offer(ctx, tok, give)
	if err != nil {
		return &bridge.Seat{Err: fmt.Errorf("offer transfer: %w", err), Payout: give}
	}
	return seat
}

func (c *Controller) record(ctx context.Context, att *Attempt) {
	if err := c.journal.Record(ctx, att); err != nil {
		c.log.Warn("record funding attempt failed", zap.Error(err))
	}
}

func (c *Controller) deadLetter(ctx context.Context, att *Attempt) {
	if err := c.journal.DeadLetter(ctx, att); err != nil {
		c.log.Error("dead-letter funding attempt failed", zap.Error(err))
	}
}

// SyncEscrowGauge publishes the current escrow balance.
func (c *Controller) SyncEscrowGauge(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	bal, err := c.escrow.Balance(ctx)
	if err != nil {
		return
	}
	f, _ := new(big.Float).SetInt(bal.Big()).Float64()
	c.metrics.SetEscrowBalance(f)
}
