package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/config"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/deployment"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
)

// escrowContract is the part of DeploymentEscrow the client calls.
type escrowContract interface {
	GetAccount(opts *bind.CallOpts, user common.Address) (Account, error)
	Deposit(opts *bind.TransactOpts, recipient common.Address) (*types.Transaction, error)
}

// backend is satisfied by *ethclient.Client.
type backend interface {
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client is a deployment.Client backed by an EVM escrow contract: the
// deployment's balance is getAccount(recipient).balance and deposits are
// payable deposit(recipient) calls signed by the watchdog key.
type Client struct {
	eth          backend
	contract     escrowContract
	contractAddr common.Address
	chainID      *big.Int
	key          *ecdsa.PrivateKey
	deploymentID string
	recipient    common.Address
	denom        string
}

var _ deployment.Client = (*Client)(nil)

func NewClient(cfg *config.Config) (*Client, error) {
	eth, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse chain private key: %w", err)
	}

	addr := common.HexToAddress(cfg.Chain.ContractAddress)
	contract, err := NewDeploymentEscrow(addr, eth)
	if err != nil {
		return nil, fmt.Errorf("bind contract: %w", err)
	}

	return newClient(eth, contract, addr, big.NewInt(cfg.Chain.ChainID), privKey,
		cfg.Terms.DeploymentID, common.HexToAddress(cfg.Chain.Recipient), cfg.Terms.Denom), nil
}

func newClient(
	eth backend,
	contract escrowContract,
	contractAddr common.Address,
	chainID *big.Int,
	key *ecdsa.PrivateKey,
	deploymentID string,
	recipient common.Address,
	denom string,
) *Client {
	return &Client{
		eth:          eth,
		contract:     contract,
		contractAddr: contractAddr,
		chainID:      chainID,
		key:          key,
		deploymentID: deploymentID,
		recipient:    recipient,
		denom:        denom,
	}
}

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// ContractAddress returns the escrow contract address.
func (c *Client) ContractAddress() common.Address { return c.contractAddr }

// Initialize verifies the RPC is on the configured chain and that the escrow
// contract is deployed.
func (c *Client) Initialize(ctx context.Context) error {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	if id.Cmp(c.chainID) != 0 {
		return fmt.Errorf("chain id mismatch: rpc reports %s, configured %s", id, c.chainID)
	}
	code, err := c.eth.CodeAt(ctx, c.contractAddr, nil)
	if err != nil {
		return fmt.Errorf("code at %s: %w", c.contractAddr.Hex(), err)
	}
	if len(code) == 0 {
		return fmt.Errorf("no contract code at %s", c.contractAddr.Hex())
	}
	return nil
}

// Address is the watchdog's own account; bridged funds land here before
// being deposited for the deployment.
func (c *Client) Address(_ context.Context) (string, error) {
	return crypto.PubkeyToAddress(c.key.PublicKey).Hex(), nil
}

func (c *Client) recipientFor(deploymentID string) (common.Address, error) {
	if deploymentID != c.deploymentID {
		return common.Address{}, fmt.Errorf("unknown deployment %q", deploymentID)
	}
	return c.recipient, nil
}

// GetAccount returns the raw escrow account for addr.
func (c *Client) GetAccount(ctx context.Context, addr common.Address) (Account, error) {
	acct, err := c.contract.GetAccount(&bind.CallOpts{Context: ctx}, addr)
	if err != nil {
		return Account{}, fmt.Errorf("GetAccount: %w", err)
	}
	return acct, nil
}

func (c *Client) Balance(ctx context.Context, deploymentID string) (*deployment.BalanceInfo, error) {
	recipient, err := c.recipientFor(deploymentID)
	if err != nil {
		return nil, err
	}
	acct, err := c.GetAccount(ctx, recipient)
	if err != nil {
		return nil, err
	}
	if acct.Balance == nil || acct.Balance.Sign() == 0 {
		return nil, nil
	}
	amount, err := ledger.AmountFromBig(acct.Balance)
	if err != nil {
		return nil, err
	}
	return &deployment.BalanceInfo{DeploymentID: deploymentID, Denom: c.denom, Amount: amount}, nil
}

// transactOpts builds a *bind.TransactOpts signed by the watchdog key.
func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx
	return auth, nil
}

func (c *Client) DepositDeployment(ctx context.Context, deploymentID string, amount ledger.Amount, denom string) (*deployment.Receipt, error) {
	if denom != c.denom {
		return nil, fmt.Errorf("deposit denom %q: chain escrow holds %q", denom, c.denom)
	}
	recipient, err := c.recipientFor(deploymentID)
	if err != nil {
		return nil, err
	}
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("build tx opts: %w", err)
	}
	opts.Value = amount.Big()

	tx, err := c.contract.Deposit(opts, recipient)
	if err != nil {
		return nil, fmt.Errorf("deposit tx: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("tx reverted: %s", tx.Hash().Hex())
	}

	var height int64
	if receipt.BlockNumber != nil {
		height = receipt.BlockNumber.Int64()
	}
	return &deployment.Receipt{TxHash: tx.Hash().Hex(), Height: height}, nil
}
