package watchdog

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/bridge"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/deployment"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/funding"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/metrics"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/timer"
)

const (
	DefaultCheckInterval = 15
	DefaultMaxChecks     = 2
	DefaultDenom         = "uakt"
)

// DefaultFundingAmount is 5 AKT in uakt.
var DefaultFundingAmount = ledger.MustAmount(5_000_000)

// Terms are fixed when the instance is created.
type Terms struct {
	DeploymentID  string
	CheckInterval int64 // ticks between checks
	MaxChecks     int
	FundingAmount ledger.Amount
	Denom         string
	Brand         ledger.Brand // reserve asset
	Peg           bridge.Peg
}

// Deps are the collaborators an Instance talks to.
type Deps struct {
	Deployments deployment.Client
	Bridge      bridge.Bridge
	Timer       timer.Service
	Escrow      ledger.Escrow // nil: in-memory escrow of Terms.Brand
	Journal     funding.Journal
	Metrics     *metrics.Metrics
	Log         *zap.Logger
}

// ConfigError reports a missing or malformed term.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("watchdog: invalid terms: %s %s", e.Field, e.Reason)
}

// ValidateTerms checks the terms and the collaborators they refer to.
func ValidateTerms(t Terms, d Deps) error {
	switch {
	case t.DeploymentID == "":
		return &ConfigError{Field: "deployment_id", Reason: "is required"}
	case d.Deployments == nil:
		return &ConfigError{Field: "deployment_client", Reason: "is required"}
	case d.Bridge == nil:
		return &ConfigError{Field: "bridge", Reason: "is required"}
	case d.Timer == nil:
		return &ConfigError{Field: "timer", Reason: "is required"}
	case t.CheckInterval < 0:
		return &ConfigError{Field: "check_interval", Reason: fmt.Sprintf("must be >= 0, got %d", t.CheckInterval)}
	case t.MaxChecks < 0:
		return &ConfigError{Field: "max_checks", Reason: fmt.Sprintf("must be >= 0, got %d", t.MaxChecks)}
	case t.FundingAmount.IsZero():
		return &ConfigError{Field: "funding_amount", Reason: "must be positive"}
	case t.Denom == "":
		return &ConfigError{Field: "denom", Reason: "is required"}
	case t.Brand == "":
		return &ConfigError{Field: "brand", Reason: "is required"}
	case d.Escrow != nil && d.Escrow.Brand() != t.Brand:
		return &ConfigError{Field: "brand", Reason: fmt.Sprintf("escrow holds %q, terms name %q", d.Escrow.Brand(), t.Brand)}
	}
	return nil
}
