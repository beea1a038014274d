package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/capability"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
)

func mockServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

var fiveAKT = ledger.Payment{Brand: "uakt", Value: ledger.MustAmount(5_000_000)}

// ── MakeTransferCapability ───────────────────────────────────────────────────

func TestMakeTransferCapability_OK(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody capabilityRequest
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"capability_id":"cap-1"}`))
	})

	tok, err := NewHTTPClient(srv.URL, "relay-key").MakeTransferCapability(
		context.Background(), "peg-channel-0-uakt", "akash1dest")
	if err != nil {
		t.Fatalf("MakeTransferCapability: %v", err)
	}
	if tok.ID != "cap-1" || tok.Kind != TransferKind || tok.Spent() {
		t.Errorf("token: got %+v spent=%v", tok, tok.Spent())
	}
	if gotPath != "/api/pegs/peg-channel-0-uakt/transfers" {
		t.Errorf("path: got %q", gotPath)
	}
	if gotAuth != "Bearer relay-key" {
		t.Errorf("Authorization: got %q", gotAuth)
	}
	if gotBody.Destination != "akash1dest" {
		t.Errorf("destination: got %q", gotBody.Destination)
	}
}

func TestMakeTransferCapability_EmptyID(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	if _, err := NewHTTPClient(srv.URL, "k").MakeTransferCapability(context.Background(), "p", "d"); err == nil {
		t.Fatal("expected error for empty capability id")
	}
}

// ── Offer ─────────────────────────────────────────────────────────────────────

func TestOffer_Success_ZeroPayout(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"status":"ok","message":"transfer complete","refund":"0"}`))
	})

	tok := capability.New(TransferKind, "cap-ok")
	seat, err := NewHTTPClient(srv.URL, "k").Offer(context.Background(), tok, fiveAKT)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if seat.Failed() {
		t.Fatalf("seat failed: %v", seat.Err)
	}
	if !seat.Payout.Value.IsZero() || seat.Result != "transfer complete" {
		t.Errorf("seat: got %+v", seat)
	}
	if gotPath != "/api/transfers/cap-ok/redeem" {
		t.Errorf("path: got %q", gotPath)
	}
	if gotBody["amount"] != "5000000" || gotBody["brand"] != "uakt" {
		t.Errorf("body: got %v", gotBody)
	}
	if !tok.Spent() {
		t.Error("token must be spent after Offer")
	}
}

func TestOffer_PartialRejection(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"rejected","message":"channel closed","refund":"3000000"}`))
	})
	seat, err := NewHTTPClient(srv.URL, "k").Offer(context.Background(), capability.New(TransferKind, "c"), fiveAKT)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if !seat.Failed() {
		t.Fatal("expected failed seat")
	}
	if seat.Payout.Value.String() != "3000000" || seat.Payout.Brand != "uakt" {
		t.Errorf("payout: got %+v", seat.Payout)
	}
}

func TestOffer_HTTPErrorReturnsFullPayout(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	seat, err := NewHTTPClient(srv.URL, "k").Offer(context.Background(), capability.New(TransferKind, "c"), fiveAKT)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if !seat.Failed() || seat.Payout.Value.Cmp(fiveAKT.Value) != 0 {
		t.Errorf("seat: got %+v", seat)
	}
}

func TestOffer_TransportErrorAfterSendIsUnsettled(t *testing.T) {
	release := make(chan struct{})
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	tok := capability.New(TransferKind, "slow")
	seat, err := NewHTTPClient(srv.URL, "k").Offer(ctx, tok, fiveAKT)
	if err != nil {
		t.Fatalf("Offer: got error %v, want a failed seat", err)
	}
	if !seat.Failed() || !seat.Unsettled {
		t.Fatalf("seat: got %+v", seat)
	}
	if !seat.Payout.Value.IsZero() || seat.Payout.Brand != "uakt" {
		t.Errorf("payout: got %+v want zero uakt", seat.Payout)
	}
	if !tok.Spent() {
		t.Error("token must be spent once the request is sent")
	}
}

func TestOffer_RejectionIsSettled(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"rejected","message":"channel closed","refund":"5000000"}`))
	})
	seat, err := NewHTTPClient(srv.URL, "k").Offer(context.Background(), capability.New(TransferKind, "c"), fiveAKT)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if seat.Unsettled {
		t.Error("an explicit rejection is settled")
	}
}

func TestOffer_SpentToken(t *testing.T) {
	calls := 0
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"status":"ok","refund":"0"}`))
	})
	c := NewHTTPClient(srv.URL, "k")
	tok := capability.New(TransferKind, "once")
	if _, err := c.Offer(context.Background(), tok, fiveAKT); err != nil {
		t.Fatalf("first Offer: %v", err)
	}
	if _, err := c.Offer(context.Background(), tok, fiveAKT); !errors.Is(err, capability.ErrSpent) {
		t.Fatalf("second Offer: got %v want ErrSpent", err)
	}
	if calls != 1 {
		t.Errorf("relayer calls: got %d want 1", calls)
	}
}

func TestOffer_WrongKind(t *testing.T) {
	c := NewHTTPClient("http://unused", "k")
	tok := capability.New("invitation", "x")
	if _, err := c.Offer(context.Background(), tok, fiveAKT); err == nil {
		t.Fatal("expected error for non-transfer capability")
	}
	if tok.Spent() {
		t.Error("wrong-kind token must not be spent")
	}
}
