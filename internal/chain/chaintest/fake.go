// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/faucetbot/internal/chain"
)

type pair struct {
	a, b common.Address
}

type triple struct {
	token, owner, spender common.Address
}

// Fake is a programmable chain.Client. Zero-valued reads return zero balances,
// sends succeed, and every sent transaction gets a successful receipt unless a
// hook says otherwise. Hooks run without the internal lock held.
type Fake struct {
	mu sync.Mutex

	chainID  *big.Int
	gasPrice *big.Int
	weth     common.Address

	nonces     map[common.Address]uint64
	native     map[common.Address]*big.Int
	tokens     map[pair]*big.Int
	allowances map[triple]*big.Int
	codes      map[common.Address][]byte
	lastClaims map[pair]time.Time

	sent       []*types.Transaction
	estimates  []chain.CallMsg
	nonceCalls int

	// EstimateFn overrides gas estimation. Default returns 100000.
	EstimateFn func(msg chain.CallMsg) (uint64, error)
	// SendFn can reject a transaction before it is recorded.
	SendFn func(tx *types.Transaction) error
	// OnSend runs after a transaction is recorded, e.g. to credit a claim.
	OnSend func(tx *types.Transaction)
	// ReceiptFn overrides receipt lookup.
	ReceiptFn func(hash common.Hash) (*chain.Receipt, error)
	// NonceErr is returned by PendingNonce when set.
	NonceErr error
	// GasPriceErr is returned by GasPrice when set.
	GasPriceErr error
	// GasPriceFn can fail individual GasPrice calls; nil means use the set price.
	GasPriceFn func() error
	// WETHErr is returned by RouterWETH when set.
	WETHErr error
}

var _ chain.Client = (*Fake)(nil)

// New returns a Fake with chain id 1315 and a 1 gwei gas price.
func New() *Fake {
	return &Fake{
		chainID:    big.NewInt(1315),
		gasPrice:   big.NewInt(1_000_000_000),
		nonces:     make(map[common.Address]uint64),
		native:     make(map[common.Address]*big.Int),
		tokens:     make(map[pair]*big.Int),
		allowances: make(map[triple]*big.Int),
		codes:      make(map[common.Address][]byte),
		lastClaims: make(map[pair]time.Time),
	}
}

// SetGasPrice sets the price returned by GasPrice.
func (f *Fake) SetGasPrice(p *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gasPrice = new(big.Int).Set(p)
}

// SetNonce sets the pending nonce for addr.
func (f *Fake) SetNonce(addr common.Address, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonces[addr] = n
}

// SetNative sets addr's native balance.
func (f *Fake) SetNative(addr common.Address, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.native[addr] = new(big.Int).Set(v)
}

// SetTokenBalance sets owner's balance of token.
func (f *Fake) SetTokenBalance(token, owner common.Address, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[pair{token, owner}] = new(big.Int).Set(v)
}

// AddTokenBalance adds delta to owner's balance of token.
func (f *Fake) AddTokenBalance(token, owner common.Address, delta *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.tokens[pair{token, owner}]
	if !ok {
		cur = new(big.Int)
	}
	f.tokens[pair{token, owner}] = new(big.Int).Add(cur, delta)
}

// SetAllowance sets allowance(owner, spender) on token.
func (f *Fake) SetAllowance(token, owner, spender common.Address, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowances[triple{token, owner, spender}] = new(big.Int).Set(v)
}

// SetCode sets the bytecode at addr.
func (f *Fake) SetCode(addr common.Address, code []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[addr] = code
}

// SetWETH sets the router's WETH() result.
func (f *Fake) SetWETH(addr common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weth = addr
}

// SetLastClaim sets lastClaimTime(owner) on token.
func (f *Fake) SetLastClaim(token, owner common.Address, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastClaims[pair{token, owner}] = at
}

// Sent returns the transactions accepted so far, in send order.
func (f *Fake) Sent() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.sent...)
}

// Estimates returns every call passed to EstimateGas.
func (f *Fake) Estimates() []chain.CallMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.CallMsg(nil), f.estimates...)
}

// NonceCalls returns how many times PendingNonce was queried.
func (f *Fake) NonceCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonceCalls
}

func (f *Fake) TokenBalance(_ context.Context, token, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.tokens[pair{token, owner}]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (f *Fake) NativeBalance(_ context.Context, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.native[owner]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (f *Fake) PendingNonce(_ context.Context, addr common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceCalls++
	if f.NonceErr != nil {
		return 0, f.NonceErr
	}
	return f.nonces[addr], nil
}

func (f *Fake) GasPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GasPriceErr != nil {
		return nil, f.GasPriceErr
	}
	if f.GasPriceFn != nil {
		if err := f.GasPriceFn(); err != nil {
			return nil, err
		}
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *Fake) Code(_ context.Context, addr common.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[addr], nil
}

func (f *Fake) EstimateGas(_ context.Context, msg chain.CallMsg) (uint64, error) {
	f.mu.Lock()
	f.estimates = append(f.estimates, msg)
	fn := f.EstimateFn
	f.mu.Unlock()

	if fn != nil {
		return fn(msg)
	}
	return 100_000, nil
}

func (f *Fake) SendTransaction(_ context.Context, tx *types.Transaction) (common.Hash, error) {
	if f.SendFn != nil {
		if err := f.SendFn(tx); err != nil {
			return common.Hash{}, err
		}
	}

	f.mu.Lock()
	f.sent = append(f.sent, tx)
	f.mu.Unlock()

	if f.OnSend != nil {
		f.OnSend(tx)
	}
	return tx.Hash(), nil
}

func (f *Fake) Receipt(_ context.Context, hash common.Hash) (*chain.Receipt, error) {
	if f.ReceiptFn != nil {
		return f.ReceiptFn(hash)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			return &chain.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful, BlockNumber: 1}, nil
		}
	}
	return nil, nil
}

func (f *Fake) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.allowances[triple{token, owner, spender}]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (f *Fake) RouterWETH(context.Context, common.Address) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WETHErr != nil {
		return common.Address{}, f.WETHErr
	}
	return f.weth, nil
}

func (f *Fake) LastClaimTime(_ context.Context, token, owner common.Address) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastClaims[pair{token, owner}], nil
}

func (f *Fake) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.chainID), nil
}

func (f *Fake) NetVersion(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chainID.String(), nil
}
