package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/api"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/auth"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/bridge"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/capability"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/chain"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/deployment"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/metrics"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/timer"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/watchdog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDeployment struct{}

func (stubDeployment) Initialize(context.Context) error { return nil }
func (stubDeployment) Balance(context.Context, string) (*deployment.BalanceInfo, error) {
	return &deployment.BalanceInfo{Amount: ledger.MustAmount(1)}, nil
}
func (stubDeployment) DepositDeployment(context.Context, string, ledger.Amount, string) (*deployment.Receipt, error) {
	return &deployment.Receipt{}, nil
}
func (stubDeployment) Address(context.Context) (string, error) { return "akash1x", nil }

type stubBridge struct{}

func (stubBridge) MakeTransferCapability(context.Context, bridge.Peg, string) (*capability.Token, error) {
	return capability.Issue(bridge.TransferKind), nil
}
func (stubBridge) Offer(context.Context, *capability.Token, ledger.Payment) (*bridge.Seat, error) {
	return &bridge.Seat{}, nil
}

// startServer runs a real watchdog API behind operator auth and points the
// CLI globals at it.
func startServer(t *testing.T) {
	t.Helper()
	key, _ := crypto.GenerateKey()
	op := crypto.PubkeyToAddress(key.PublicKey)

	inst, err := watchdog.New(watchdog.Terms{
		DeploymentID:  "1232",
		CheckInterval: 15,
		MaxChecks:     2,
		FundingAmount: watchdog.DefaultFundingAmount,
		Denom:         "uakt",
		Brand:         "uakt",
		Peg:           "peg-channel-0-uakt",
	}, watchdog.Deps{
		Deployments: stubDeployment{},
		Bridge:      stubBridge{},
		Timer:       timer.NewManual(0),
		Log:         zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(inst.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := api.NewRouter(api.NewHandler(inst, zap.NewNop()), auth.Middleware(rdb, []common.Address{op}), metrics.New())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	serverURL = srv.URL
	keyHex = hex.EncodeToString(crypto.FromECDSA(key))
	t.Cleanup(func() { serverURL, keyHex = "", "" })
}

func execute(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// ── fund / status ─────────────────────────────────────────────────────────────

func TestFundThenStatus(t *testing.T) {
	startServer(t)

	out, err := execute(NewFundCmd(), "--amount", "20000000")
	if err != nil {
		t.Fatalf("fund: %v\n%s", err, out)
	}
	if !strings.Contains(out, watchdog.AcceptedMessage) {
		t.Errorf("fund output: %q", out)
	}

	out, err = execute(NewStatusCmd())
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	for _, want := range []string{"deployment:  1232", "funded:      true", "escrow:      20000000uakt"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestFund_Twice(t *testing.T) {
	startServer(t)
	if _, err := execute(NewFundCmd(), "--amount", "1"); err != nil {
		t.Fatal(err)
	}
	_, err := execute(NewFundCmd(), "--amount", "1")
	if err == nil || !strings.Contains(err.Error(), "409") {
		t.Fatalf("second fund: got %v", err)
	}
}

func TestFund_WrongDeploymentRejected(t *testing.T) {
	startServer(t)
	_, err := execute(NewFundCmd(), "--amount", "1", "--deployment", "9999")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("fund for another deployment: got %v", err)
	}
	if _, err := execute(NewFundCmd(), "--amount", "1", "--deployment", "1232"); err != nil {
		t.Fatalf("fund for own deployment: %v", err)
	}
}

func TestFund_BadAmount(t *testing.T) {
	startServer(t)
	if _, err := execute(NewFundCmd(), "--amount=-3"); err == nil {
		t.Fatal("expected error")
	}
}

func TestStatus_RequiresKey(t *testing.T) {
	startServer(t)
	keyHex = ""
	if _, err := execute(NewStatusCmd()); err == nil || !strings.Contains(err.Error(), "operator key") {
		t.Fatalf("got %v", err)
	}
}

// ── balance ───────────────────────────────────────────────────────────────────

func TestBalance_RejectsBadAddress(t *testing.T) {
	if _, err := execute(NewBalanceCmd(), "--contract", "nope", "--address", "0x1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPrintAccount(t *testing.T) {
	var out bytes.Buffer
	printAccount(&out, chain.Account{Balance: big.NewInt(5_000_000), RefundUnlockAt: big.NewInt(0)})
	got := out.String()
	if !strings.Contains(got, "balance:        5000000") || !strings.Contains(got, "pending refund: 0") {
		t.Errorf("output:\n%s", got)
	}
	if strings.Contains(got, "refund unlock") {
		t.Error("zero unlock time must not be printed")
	}
}
