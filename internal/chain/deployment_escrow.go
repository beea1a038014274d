// Binding for the deployment escrow contract. Only the two methods the
// watchdog uses are bound; regenerate with abigen if the ABI grows.

package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DeploymentEscrowMetaData contains the subset of the escrow ABI used here.
var DeploymentEscrowMetaData = &bind.MetaData{
	ABI: "[{\"type\":\"function\",\"name\":\"deposit\",\"inputs\":[{\"name\":\"recipient\",\"type\":\"address\",\"internalType\":\"address\"}],\"outputs\":[],\"stateMutability\":\"payable\"},{\"type\":\"function\",\"name\":\"getAccount\",\"inputs\":[{\"name\":\"user\",\"type\":\"address\",\"internalType\":\"address\"}],\"outputs\":[{\"name\":\"balance\",\"type\":\"uint256\",\"internalType\":\"uint256\"},{\"name\":\"pendingRefund\",\"type\":\"uint256\",\"internalType\":\"uint256\"},{\"name\":\"refundUnlockAt\",\"type\":\"uint256\",\"internalType\":\"uint256\"}],\"stateMutability\":\"view\"},{\"type\":\"event\",\"name\":\"Deposited\",\"inputs\":[{\"name\":\"recipient\",\"type\":\"address\",\"indexed\":true,\"internalType\":\"address\"},{\"name\":\"sender\",\"type\":\"address\",\"indexed\":true,\"internalType\":\"address\"},{\"name\":\"amount\",\"type\":\"uint256\",\"indexed\":false,\"internalType\":\"uint256\"}],\"anonymous\":false}]",
}

// Account mirrors the getAccount return tuple.
type Account struct {
	Balance        *big.Int
	PendingRefund  *big.Int
	RefundUnlockAt *big.Int
}

// DeploymentEscrow is a Go binding around the deployed escrow contract.
type DeploymentEscrow struct {
	contract *bind.BoundContract
}

// NewDeploymentEscrow binds an already deployed contract.
func NewDeploymentEscrow(address common.Address, backend bind.ContractBackend) (*DeploymentEscrow, error) {
	parsed, err := DeploymentEscrowMetaData.GetAbi()
	if err != nil {
		return nil, err
	}
	return &DeploymentEscrow{
		contract: bind.NewBoundContract(address, *parsed, backend, backend, backend),
	}, nil
}

// GetAccount binds the contract method 0xfbcbc0f1.
//
// Solidity: function getAccount(address user) view returns(uint256 balance, uint256 pendingRefund, uint256 refundUnlockAt)
func (d *DeploymentEscrow) GetAccount(opts *bind.CallOpts, user common.Address) (Account, error) {
	var out []interface{}
	if err := d.contract.Call(opts, &out, "getAccount", user); err != nil {
		return Account{}, err
	}
	return Account{
		Balance:        *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		PendingRefund:  *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		RefundUnlockAt: *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
	}, nil
}

// Deposit binds the paid mutator 0xf340fa01. opts.Value carries the amount.
//
// Solidity: function deposit(address recipient) payable returns()
func (d *DeploymentEscrow) Deposit(opts *bind.TransactOpts, recipient common.Address) (*types.Transaction, error) {
	return d.contract.Transact(opts, "deposit", recipient)
}
