package deployment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
)

var ErrNotInitialized = errors.New("deployment client not initialized")

// BalanceInfo is the escrow balance the provider holds for a deployment.
type BalanceInfo struct {
	DeploymentID string        `json:"deployment_id"`
	Denom        string        `json:"denom"`
	Amount       ledger.Amount `json:"amount"`
}

// Receipt acknowledges a deployment deposit.
type Receipt struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
}

// Client is the deployment provider as seen by the funding controller.
type Client interface {
	// Initialize performs one-time setup; it is awaited before the first check.
	Initialize(ctx context.Context) error
	// Balance returns nil when the deployment escrow is empty or absent.
	Balance(ctx context.Context, deploymentID string) (*BalanceInfo, error)
	DepositDeployment(ctx context.Context, deploymentID string, amount ledger.Amount, denom string) (*Receipt, error)
	// Address is the provider-side account that receives bridged funds.
	Address(ctx context.Context) (string, error)
}

// HTTPClient is an authenticated provider REST client.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client

	mu      sync.RWMutex
	address string
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

type accountResponse struct {
	Address string `json:"address"`
}

// Initialize fetches the provider account and caches its address.
func (c *HTTPClient) Initialize(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/account", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider Initialize: status %d", resp.StatusCode)
	}
	var acct accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
		return fmt.Errorf("provider Initialize: decode: %w", err)
	}
	if acct.Address == "" {
		return fmt.Errorf("provider Initialize: empty account address")
	}
	c.mu.Lock()
	c.address = acct.Address
	c.mu.Unlock()
	return nil
}

func (c *HTTPClient) Address(_ context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.address == "" {
		return "", ErrNotInitialized
	}
	return c.address, nil
}

func (c *HTTPClient) Balance(ctx context.Context, deploymentID string) (*BalanceInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/deployments/"+url.PathEscape(deploymentID)+"/escrow", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider Balance %s: status %d", deploymentID, resp.StatusCode)
	}
	var info BalanceInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("provider Balance %s: decode: %w", deploymentID, err)
	}
	if info.Amount.IsZero() {
		return nil, nil
	}
	if info.DeploymentID == "" {
		info.DeploymentID = deploymentID
	}
	return &info, nil
}

type depositRequest struct {
	Amount ledger.Amount `json:"amount"`
	Denom  string        `json:"denom"`
}

func (c *HTTPClient) DepositDeployment(ctx context.Context, deploymentID string, amount ledger.Amount, denom string) (*Receipt, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/deployments/"+url.PathEscape(deploymentID)+"/deposit",
		depositRequest{Amount: amount, Denom: denom})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider DepositDeployment %s: status %d: %s", deploymentID, resp.StatusCode, bytes.TrimSpace(msg))
	}
	var r Receipt
	return &r, json.NewDecoder(resp.Body).Decode(&r)
}

// BaseURL returns the configured base URL.
func (c *HTTPClient) BaseURL() string { return c.baseURL }
