package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/api"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/auth"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/chain"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/watchdog"
)

const requestTTL = 2 * time.Minute

var httpClient = &http.Client{Timeout: 30 * time.Second}

func operatorKey() (*ecdsa.PrivateKey, error) {
	if keyHex == "" {
		return nil, errors.New("operator key required (--key or WATCHDOG_OPERATOR_KEY)")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	return key, nil
}

// call sends a signed request for resource and decodes a 2xx JSON response
// into out. body is both the signed payload and the request body.
func call(ctx context.Context, method, path, action, resource string, body any, out any) error {
	key, err := operatorKey()
	if err != nil {
		return err
	}
	hdr, err := auth.SignHeaders(key, action, resource, body, requestTTL)
	if err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(serverURL, "/")+path, rd)
	if err != nil {
		return err
	}
	req.Header = hdr
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// ── status ──────────────────────────────────────────────────────────────────

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show watch phase, check count and escrow",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st watchdog.Status
			if err := call(cmd.Context(), http.MethodGet, "/api/status", api.ActionStatus, "", nil, &st); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "deployment:  %s\n", st.DeploymentID)
			fmt.Fprintf(w, "funded:      %v\n", st.Funded)
			fmt.Fprintf(w, "phase:       %s\n", st.Watch.Phase)
			fmt.Fprintf(w, "checks:      %d\n", st.Watch.CheckCount)
			if st.Watch.NextWakeupTick != nil {
				fmt.Fprintf(w, "next wakeup: %d\n", *st.Watch.NextWakeupTick)
			}
			fmt.Fprintf(w, "escrow:      %s\n", st.Escrow)
			for _, a := range st.Attempts {
				fmt.Fprintf(w, "  %s  %s %s  %s", a.At.Format(time.RFC3339), a.Amount, a.Denom, a.Outcome)
				if a.Error != "" {
					fmt.Fprintf(w, "  (%s)", a.Error)
				}
				fmt.Fprintln(w)
			}
			return nil
		},
	}
}

// ── fund ────────────────────────────────────────────────────────────────────

func NewFundCmd() *cobra.Command {
	var amount, brand, deploymentID string
	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Accept the initial funding offer and start the watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := ledger.ParseAmount(amount)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			offer := watchdog.Offer{
				Give: map[string]ledger.Payment{watchdog.FundKeyword: {Brand: ledger.Brand(brand), Value: v}},
				Want: map[string]ledger.Payment{},
			}
			if deploymentID == "" {
				var st watchdog.Status
				if err := call(cmd.Context(), http.MethodGet, "/api/status", api.ActionStatus, "", nil, &st); err != nil {
					return fmt.Errorf("look up deployment: %w", err)
				}
				deploymentID = st.DeploymentID
			}
			var resp struct {
				Message string `json:"message"`
			}
			if err := call(cmd.Context(), http.MethodPost, "/api/fund", api.ActionFund, deploymentID, offer, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "Reserve to escrow, in minor units")
	cmd.Flags().StringVar(&brand, "brand", "uakt", "Reserve asset")
	cmd.Flags().StringVar(&deploymentID, "deployment", "", "Deployment to sign for (default: the server's)")
	cmd.MarkFlagRequired("amount") //nolint:errcheck
	return cmd
}

// ── balance ─────────────────────────────────────────────────────────────────

func NewBalanceCmd() *cobra.Command {
	var rpcURL, contract, address string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Read a deployment account from the EVM escrow contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(contract) || !common.IsHexAddress(address) {
				return errors.New("--contract and --address must be hex addresses")
			}
			eth, err := ethclient.DialContext(cmd.Context(), rpcURL)
			if err != nil {
				return fmt.Errorf("dial rpc: %w", err)
			}
			defer eth.Close()

			esc, err := chain.NewDeploymentEscrow(common.HexToAddress(contract), eth)
			if err != nil {
				return fmt.Errorf("bind contract: %w", err)
			}
			acct, err := esc.GetAccount(&bind.CallOpts{Context: cmd.Context()}, common.HexToAddress(address))
			if err != nil {
				return fmt.Errorf("getAccount: %w", err)
			}
			printAccount(cmd.OutOrStdout(), acct)
			return nil
		},
	}
	cmd.Flags().StringVar(&rpcURL, "rpc", envOr("RPC_URL", ""), "EVM RPC endpoint")
	cmd.Flags().StringVar(&contract, "contract", envOr("DEPLOYMENT_CONTRACT", ""), "Escrow contract address")
	cmd.Flags().StringVar(&address, "address", "", "Deployment account address")
	cmd.MarkFlagRequired("address") //nolint:errcheck
	return cmd
}

func printAccount(w io.Writer, acct chain.Account) {
	fmt.Fprintf(w, "balance:        %s\n", orZero(acct.Balance))
	fmt.Fprintf(w, "pending refund: %s\n", orZero(acct.PendingRefund))
	if acct.RefundUnlockAt != nil && acct.RefundUnlockAt.Sign() > 0 {
		fmt.Fprintf(w, "refund unlock:  %s\n", time.Unix(acct.RefundUnlockAt.Int64(), 0).UTC().Format(time.RFC3339))
	}
}

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}
