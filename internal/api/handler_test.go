package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/auth"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/bridge"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/capability"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/deployment"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/metrics"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/timer"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/watchdog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ── helpers ───────────────────────────────────────────────────────────────────

type fundedDeployment struct{}

func (fundedDeployment) Initialize(context.Context) error { return nil }
func (fundedDeployment) Balance(context.Context, string) (*deployment.BalanceInfo, error) {
	return &deployment.BalanceInfo{Amount: ledger.MustAmount(1)}, nil
}
func (fundedDeployment) DepositDeployment(context.Context, string, ledger.Amount, string) (*deployment.Receipt, error) {
	return &deployment.Receipt{}, nil
}
func (fundedDeployment) Address(context.Context) (string, error) { return "akash1x", nil }

type idleBridge struct{}

func (idleBridge) MakeTransferCapability(context.Context, bridge.Peg, string) (*capability.Token, error) {
	return capability.Issue(bridge.TransferKind), nil
}
func (idleBridge) Offer(context.Context, *capability.Token, ledger.Payment) (*bridge.Seat, error) {
	return &bridge.Seat{}, nil
}

type testEnv struct {
	engine *gin.Engine
	inst   *watchdog.Instance
	clock  *timer.Manual
}

// newTestEnv builds the router without auth so handlers can be exercised
// directly, like an already-authenticated group.
func newTestEnv(t *testing.T, authMW gin.HandlerFunc) *testEnv {
	t.Helper()
	clock := timer.NewManual(100)
	m := metrics.New()
	inst, err := watchdog.New(watchdog.Terms{
		DeploymentID:  "1232",
		CheckInterval: 15,
		MaxChecks:     2,
		FundingAmount: watchdog.DefaultFundingAmount,
		Denom:         "uakt",
		Brand:         "uakt",
		Peg:           "peg-channel-0-uakt",
	}, watchdog.Deps{
		Deployments: fundedDeployment{},
		Bridge:      idleBridge{},
		Timer:       clock,
		Metrics:     m,
		Log:         zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(inst.Close)
	if authMW == nil {
		authMW = func(c *gin.Context) { c.Next() }
	}
	return &testEnv{
		engine: NewRouter(NewHandler(inst, zap.NewNop()), authMW, m),
		inst:   inst,
		clock:  clock,
	}
}

func (e *testEnv) do(method, path, body string, h http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, vs := range h {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

const validOffer = `{"give":{"Fund":{"brand":"uakt","value":"20000000"}},"want":{}}`

// ── unauthenticated routes ───────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	e := newTestEnv(t, nil)
	if w := e.do(http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)
	e.do(http.MethodPost, "/api/fund", validOffer, nil)

	w := e.do(http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "watchdog_escrow_balance 2e+07") {
		t.Fatalf("got %d:\n%s", w.Code, w.Body.String())
	}
}

// ── fund ──────────────────────────────────────────────────────────────────────

func TestFund_Accepted(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(http.MethodPost, "/api/fund", validOffer, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	if resp["message"] != watchdog.AcceptedMessage {
		t.Errorf("message: got %q", resp["message"])
	}
	bal, _ := e.inst.Escrow().Balance(context.Background())
	if bal.String() != "20000000" {
		t.Errorf("escrow: got %s", bal)
	}
}

func TestFund_SecondCallConflict(t *testing.T) {
	e := newTestEnv(t, nil)
	e.do(http.MethodPost, "/api/fund", validOffer, nil)

	if w := e.do(http.MethodPost, "/api/fund", validOffer, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestFund_BadShape(t *testing.T) {
	e := newTestEnv(t, nil)
	body := `{"give":{"Fund":{"brand":"uakt","value":"1"}},"want":{"Payout":{"brand":"uakt","value":"1"}}}`

	if w := e.do(http.MethodPost, "/api/fund", body, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if e.inst.CreatorInvitation().Spent() {
		t.Error("invitation consumed by a rejected offer")
	}
}

func TestFund_InvalidJSON(t *testing.T) {
	e := newTestEnv(t, nil)
	if w := e.do(http.MethodPost, "/api/fund", `{"give":`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// ── status ────────────────────────────────────────────────────────────────────

func TestStatus_AfterFunding(t *testing.T) {
	e := newTestEnv(t, nil)
	e.do(http.MethodPost, "/api/fund", validOffer, nil)
	select {
	case <-e.clock.Registered():
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not start")
	}

	type status struct {
		DeploymentID string `json:"deployment_id"`
		Funded       bool   `json:"funded"`
		Watch        struct {
			Phase string `json:"phase"`
			Next  int64  `json:"next_wakeup_tick"`
		} `json:"watch"`
		Escrow struct {
			Value string `json:"value"`
		} `json:"escrow"`
	}
	var st status
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := e.do(http.MethodGet, "/api/status", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("got %d", w.Code)
		}
		if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if st.Watch.Phase != "idle" || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !st.Funded || st.Watch.Phase != "scheduled" || st.Watch.Next != 115 || st.Escrow.Value != "20000000" {
		t.Errorf("status: got %+v", st)
	}
}

// ── with operator auth ────────────────────────────────────────────────────────

func newAuthEnv(t *testing.T) (*testEnv, *ecdsa.PrivateKey) {
	t.Helper()
	key, _ := crypto.GenerateKey()
	op := crypto.PubkeyToAddress(key.PublicKey)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return newTestEnv(t, auth.Middleware(rdb, []common.Address{op})), key
}

func TestAuth_SignedFundAndActionMismatch(t *testing.T) {
	e, key := newAuthEnv(t)
	offer := json.RawMessage(validOffer)

	if w := e.do(http.MethodPost, "/api/fund", validOffer, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned: expected 401, got %d", w.Code)
	}

	statusHdr, _ := auth.SignHeaders(key, ActionStatus, "1232", offer, time.Minute)
	if w := e.do(http.MethodPost, "/api/fund", validOffer, statusHdr); w.Code != http.StatusForbidden {
		t.Fatalf("status-signed fund: expected 403, got %d", w.Code)
	}

	fundHdr, _ := auth.SignHeaders(key, ActionFund, "1232", offer, time.Minute)
	if w := e.do(http.MethodPost, "/api/fund", validOffer, fundHdr); w.Code != http.StatusOK {
		t.Fatalf("signed fund: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAuth_FundBodyMustMatchSignedOffer(t *testing.T) {
	e, key := newAuthEnv(t)
	signed := `{"give":{"Fund":{"brand":"uakt","value":"50000000"}},"want":{}}`
	swapped := `{"give":{"Fund":{"brand":"uakt","value":"1"}},"want":{}}`

	hdr, _ := auth.SignHeaders(key, ActionFund, "1232", json.RawMessage(signed), time.Minute)
	if w := e.do(http.MethodPost, "/api/fund", swapped, hdr); w.Code != http.StatusForbidden {
		t.Fatalf("swapped body: expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if e.inst.CreatorInvitation().Spent() {
		t.Error("invitation consumed by a tampered request")
	}
	if bal, _ := e.inst.Escrow().Balance(context.Background()); !bal.IsZero() {
		t.Errorf("escrow: got %s want 0", bal)
	}
}

func TestAuth_FundFromSignedPayloadOnly(t *testing.T) {
	e, key := newAuthEnv(t)
	signed := `{"give":{"Fund":{"brand":"uakt","value":"50000000"}},"want":{}}`

	hdr, _ := auth.SignHeaders(key, ActionFund, "1232", json.RawMessage(signed), time.Minute)
	if w := e.do(http.MethodPost, "/api/fund", "", hdr); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if bal, _ := e.inst.Escrow().Balance(context.Background()); bal.String() != "50000000" {
		t.Errorf("escrow: got %s want 50000000", bal)
	}
}

func TestAuth_FundSignedForAnotherDeployment(t *testing.T) {
	e, key := newAuthEnv(t)

	hdr, _ := auth.SignHeaders(key, ActionFund, "9999", json.RawMessage(validOffer), time.Minute)
	if w := e.do(http.MethodPost, "/api/fund", validOffer, hdr); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if e.inst.CreatorInvitation().Spent() {
		t.Error("invitation consumed by a request for another deployment")
	}
}
