package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

type fakeBackend struct {
	chainID *big.Int
	code    []byte
	status  uint64
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return b.chainID, nil }

func (b *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return b.code, nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	return &types.Receipt{TxHash: h, Status: b.status, BlockNumber: big.NewInt(42)}, nil
}

type fakeContract struct {
	mu        sync.Mutex
	accounts  map[common.Address]*big.Int
	deposits  []*big.Int
	recipient common.Address
	depErr    error
}

func (f *fakeContract) GetAccount(_ *bind.CallOpts, user common.Address) (Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal := f.accounts[user]
	if bal == nil {
		bal = new(big.Int)
	}
	return Account{Balance: bal, PendingRefund: new(big.Int), RefundUnlockAt: new(big.Int)}, nil
}

func (f *fakeContract) Deposit(opts *bind.TransactOpts, recipient common.Address) (*types.Transaction, error) {
	if f.depErr != nil {
		return nil, f.depErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposits = append(f.deposits, new(big.Int).Set(opts.Value))
	f.recipient = recipient
	return types.NewTx(&types.LegacyTx{Nonce: uint64(len(f.deposits)), Value: opts.Value, Gas: 21000, GasPrice: big.NewInt(1)}), nil
}

var testRecipient = common.HexToAddress("0x1111111111111111111111111111111111111111")

func newTestClient(t *testing.T, be *fakeBackend, fc *fakeContract) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return newClient(be, fc, common.HexToAddress("0x24cD979DBd0Ae924a3f0c832a724CF4C58E5C210"),
		big.NewInt(16602), key, "1232", testRecipient, "neuron")
}

// ── Initialize ────────────────────────────────────────────────────────────────

func TestInitialize_OK(t *testing.T) {
	c := newTestClient(t, &fakeBackend{chainID: big.NewInt(16602), code: []byte{0x60}}, &fakeContract{})
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

func TestInitialize_ChainMismatch(t *testing.T) {
	c := newTestClient(t, &fakeBackend{chainID: big.NewInt(1), code: []byte{0x60}}, &fakeContract{})
	if err := c.Initialize(context.Background()); err == nil {
		t.Fatal("expected chain id mismatch error")
	}
}

func TestInitialize_NoCode(t *testing.T) {
	c := newTestClient(t, &fakeBackend{chainID: big.NewInt(16602)}, &fakeContract{})
	if err := c.Initialize(context.Background()); err == nil {
		t.Fatal("expected error when contract has no code")
	}
}

// ── Balance ───────────────────────────────────────────────────────────────────

func TestBalance_EmptyAccountIsNil(t *testing.T) {
	c := newTestClient(t, &fakeBackend{}, &fakeContract{accounts: map[common.Address]*big.Int{}})
	info, err := c.Balance(context.Background(), "1232")
	if err != nil || info != nil {
		t.Fatalf("empty account: got %v, %v", info, err)
	}
}

func TestBalance_Funded(t *testing.T) {
	fc := &fakeContract{accounts: map[common.Address]*big.Int{testRecipient: big.NewInt(900)}}
	c := newTestClient(t, &fakeBackend{}, fc)
	info, err := c.Balance(context.Background(), "1232")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if info == nil || info.Amount.String() != "900" || info.Denom != "neuron" {
		t.Errorf("info: got %+v", info)
	}
}

func TestBalance_UnknownDeployment(t *testing.T) {
	c := newTestClient(t, &fakeBackend{}, &fakeContract{})
	if _, err := c.Balance(context.Background(), "other"); err == nil {
		t.Fatal("expected error for unknown deployment")
	}
}

// ── DepositDeployment ─────────────────────────────────────────────────────────

func TestDepositDeployment_SendsValueToRecipient(t *testing.T) {
	fc := &fakeContract{}
	c := newTestClient(t, &fakeBackend{status: types.ReceiptStatusSuccessful}, fc)

	rcpt, err := c.DepositDeployment(context.Background(), "1232", ledger.MustAmount(5_000_000), "neuron")
	if err != nil {
		t.Fatalf("DepositDeployment: %v", err)
	}
	if len(fc.deposits) != 1 || fc.deposits[0].Int64() != 5_000_000 {
		t.Errorf("deposits: got %v", fc.deposits)
	}
	if fc.recipient != testRecipient {
		t.Errorf("recipient: got %s", fc.recipient.Hex())
	}
	if rcpt.Height != 42 || rcpt.TxHash == "" {
		t.Errorf("receipt: got %+v", rcpt)
	}
}

func TestDepositDeployment_Reverted(t *testing.T) {
	c := newTestClient(t, &fakeBackend{status: types.ReceiptStatusFailed}, &fakeContract{})
	if _, err := c.DepositDeployment(context.Background(), "1232", ledger.MustAmount(1), "neuron"); err == nil {
		t.Fatal("expected error for reverted tx")
	}
}

func TestDepositDeployment_WrongDenom(t *testing.T) {
	fc := &fakeContract{}
	c := newTestClient(t, &fakeBackend{status: 1}, fc)
	if _, err := c.DepositDeployment(context.Background(), "1232", ledger.MustAmount(1), "uakt"); err == nil {
		t.Fatal("expected denom mismatch error")
	}
	if len(fc.deposits) != 0 {
		t.Error("no transaction must be sent on denom mismatch")
	}
}

func TestDepositDeployment_TxError(t *testing.T) {
	boom := errors.New("nonce too low")
	c := newTestClient(t, &fakeBackend{status: 1}, &fakeContract{depErr: boom})
	_, err := c.DepositDeployment(context.Background(), "1232", ledger.MustAmount(1), "neuron")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped tx error, got %v", err)
	}
}

func TestAddress_IsSignerAccount(t *testing.T) {
	c := newTestClient(t, &fakeBackend{}, &fakeContract{})
	addr, _ := c.Address(context.Background())
	if want := crypto.PubkeyToAddress(c.key.PublicKey).Hex(); addr != want {
		t.Errorf("address: got %s want %s", addr, want)
	}
}
