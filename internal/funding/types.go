package funding

import (
	"fmt"
	"time"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/deployment"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Attempt describes one run of the funding workflow.
type Attempt struct {
	DeploymentID string              `json:"deployment_id"`
	Amount       ledger.Amount       `json:"amount"`
	Denom        string              `json:"denom"`
	Outcome      Outcome             `json:"outcome"`
	Restored     ledger.Amount       `json:"restored"`
	Unsettled    bool                `json:"unsettled,omitempty"`
	Receipt      *deployment.Receipt `json:"receipt,omitempty"`
	Error        string              `json:"error,omitempty"`
	At           time.Time           `json:"at"`

	Err error `json:"-"`
}

func (a *Attempt) setErr(err error) {
	a.Err = err
	a.Error = err.Error()
}

// TransferError reports a bridge redemption that did not complete. Restored
// is what went back into escrow.
type TransferError struct {
	Result   string
	Restored ledger.Amount
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed (restored %s): %v", e.Restored, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// DepositError reports a provider deposit that failed after the funds left
// escrow.
type DepositError struct {
	DeploymentID string
	Amount       ledger.Amount
	Err          error
}

func (e *DepositError) Error() string {
	return fmt.Sprintf("deposit %s to deployment %s: %v", e.Amount, e.DeploymentID, e.Err)
}

func (e *DepositError) Unwrap() error { return e.Err }
