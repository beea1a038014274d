// Package watchdog assembles a deployment watchdog instance: an escrow funded
// once through a single-use invitation, a funding controller and the
// scheduler that runs it.
package watchdog

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/capability"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/funding"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/timer"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/watch"
)

// RecentAttempts is how many funding attempts Status reports.
const RecentAttempts = 10

type Instance struct {
	terms      Terms
	escrow     ledger.Escrow
	controller *funding.Controller
	scheduler  *watch.Scheduler
	invitation *Invitation
	log        *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	started   chan struct{}
}

// New validates the terms and builds an instance. Nothing runs until the
// creator invitation is accepted.
func New(terms Terms, deps Deps) (*Instance, error) {
	if err := ValidateTerms(terms, deps); err != nil {
		return nil, err
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("deployment", terms.DeploymentID))

	escrow := deps.Escrow
	if escrow == nil {
		escrow = ledger.NewMemoryEscrow(terms.Brand)
	}

	ctrl := funding.NewController(funding.Terms{
		DeploymentID: terms.DeploymentID,
		Amount:       terms.FundingAmount,
		Denom:        terms.Denom,
		Peg:          terms.Peg,
	}, escrow, deps.Deployments, deps.Bridge, deps.Journal, deps.Metrics, log)

	sched := watch.NewScheduler(deps.Deployments, ctrl, deps.Timer,
		timer.Tick(terms.CheckInterval), terms.MaxChecks, deps.Metrics, log)

	ctx, cancel := context.WithCancel(context.Background())
	inst := &Instance{
		terms:      terms,
		escrow:     escrow,
		controller: ctrl,
		scheduler:  sched,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		started:    make(chan struct{}),
	}
	inst.invitation = &Invitation{token: capability.Issue(InvitationKind), inst: inst}
	return inst, nil
}

// CreatorInvitation returns the instance's only invitation.
func (i *Instance) CreatorInvitation() *Invitation { return i.invitation }

func (i *Instance) Terms() Terms { return i.terms }

func (i *Instance) Escrow() ledger.Escrow { return i.escrow }

func (i *Instance) start() {
	i.startOnce.Do(func() {
		close(i.started)
		go func() {
			if err := i.scheduler.Run(i.ctx); err != nil {
				i.log.Error("watch stopped with error", zap.Error(err))
				return
			}
			i.log.Info("watch finished")
		}()
	})
}

// Started is closed once the invitation has been accepted.
func (i *Instance) Started() <-chan struct{} { return i.started }

// Done is closed when the scheduler stops.
func (i *Instance) Done() <-chan struct{} { return i.scheduler.Done() }

// Wait blocks until the scheduler stops and returns its error.
func (i *Instance) Wait() error {
	<-i.scheduler.Done()
	return i.scheduler.Err()
}

// Close stops a running scheduler. Pending wakeups are abandoned.
func (i *Instance) Close() {
	i.cancel()
}

// Status is a point-in-time view of the instance.
type Status struct {
	DeploymentID string            `json:"deployment_id"`
	Funded       bool              `json:"funded"`
	Watch        watch.WatchState  `json:"watch"`
	Escrow       ledger.Payment    `json:"escrow"`
	Attempts     []funding.Attempt `json:"attempts,omitempty"`
}

func (i *Instance) Status(ctx context.Context) (*Status, error) {
	bal, err := i.escrow.Balance(ctx)
	if err != nil {
		return nil, err
	}
	attempts, err := i.controller.Journal().Recent(ctx, RecentAttempts)
	if err != nil {
		i.log.Warn("read funding attempts failed", zap.Error(err))
	}
	return &Status{
		DeploymentID: i.terms.DeploymentID,
		Funded:       i.invitation.Spent(),
		Watch:        i.scheduler.State(),
		Escrow:       ledger.Payment{Brand: i.escrow.Brand(), Value: bal},
		Attempts:     attempts,
	}, nil
}
