package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/capability"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
)

// TransferKind is the capability kind issued by MakeTransferCapability.
const TransferKind = "transfer"

// Peg names a cross-chain peg, e.g. "peg-channel-0-uakt".
type Peg string

// Seat is the outcome of redeeming a transfer capability. Payout is whatever
// the bridge handed back: zero on success, part or all of the offer otherwise.
// Unsettled marks a seat whose outcome is unknown: the relayer may hold the
// funds, so nothing is paid back and the transfer needs reconciliation.
type Seat struct {
	Result    string
	Err       error
	Payout    ledger.Payment
	Unsettled bool
}

func (s *Seat) Failed() bool { return s.Err != nil }

// Bridge moves value across chains to a destination address.
type Bridge interface {
	MakeTransferCapability(ctx context.Context, peg Peg, destination string) (*capability.Token, error)
	// Offer redeems the capability with give. A non-nil error means the
	// request never reached the bridge and custody of give never left the
	// caller. Once sent, every failure is reported on the Seat.
	Offer(ctx context.Context, token *capability.Token, give ledger.Payment) (*Seat, error)
}

// HTTPClient talks to a bridge relayer over REST.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ Bridge = (*HTTPClient)(nil)

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *HTTPClient) newRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	req, err := c.newRequest(ctx, path, body)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

type capabilityRequest struct {
	Destination string `json:"destination"`
}

type capabilityResponse struct {
	CapabilityID string `json:"capability_id"`
}

func (c *HTTPClient) MakeTransferCapability(ctx context.Context, peg Peg, destination string) (*capability.Token, error) {
	resp, err := c.post(ctx, "/api/pegs/"+url.PathEscape(string(peg))+"/transfers", capabilityRequest{Destination: destination})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bridge MakeTransferCapability %s: status %d", peg, resp.StatusCode)
	}
	var cr capabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("bridge MakeTransferCapability: decode: %w", err)
	}
	if cr.CapabilityID == "" {
		return nil, errors.New("bridge MakeTransferCapability: empty capability id")
	}
	return capability.New(TransferKind, cr.CapabilityID), nil
}

type redeemRequest struct {
	Brand  ledger.Brand  `json:"brand"`
	Amount ledger.Amount `json:"amount"`
}

type redeemResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Refund  ledger.Amount `json:"refund"`
}

func (c *HTTPClient) Offer(ctx context.Context, token *capability.Token, give ledger.Payment) (*Seat, error) {
	if token.Kind != TransferKind {
		return nil, fmt.Errorf("bridge Offer: capability kind %q is not a transfer", token.Kind)
	}
	req, err := c.newRequest(ctx, "/api/transfers/"+url.PathEscape(token.ID)+"/redeem",
		redeemRequest{Brand: give.Brand, Amount: give.Value})
	if err != nil {
		return nil, fmt.Errorf("bridge Offer: %w", err)
	}
	if err := token.Redeem(); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// The relayer may have moved the funds before the connection failed.
		return &Seat{
			Err:       fmt.Errorf("bridge Offer: %w", err),
			Payout:    ledger.Payment{Brand: give.Brand},
			Unsettled: true,
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Seat{
			Err:    fmt.Errorf("bridge rejected transfer: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)),
			Payout: give,
		}, nil
	}

	var rr redeemResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return &Seat{
			Err:       fmt.Errorf("bridge Offer: decode result: %w", err),
			Payout:    ledger.Payment{Brand: give.Brand},
			Unsettled: true,
		}, nil
	}

	seat := &Seat{Result: rr.Message, Payout: ledger.Payment{Brand: give.Brand, Value: rr.Refund}}
	if rr.Status != "ok" {
		seat.Err = fmt.Errorf("bridge rejected transfer: %s", rr.Message)
	}
	return seat, nil
}
