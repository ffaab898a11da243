// Package chain exposes the typed chain capabilities the bot needs and
// classifies node failures into the txerr taxonomy.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/faucetbot/internal/contract"
	"github.com/gateway-fm/faucetbot/internal/rpc"
	"github.com/gateway-fm/faucetbot/internal/txerr"
)

// Receipt is the subset of a transaction receipt the bot inspects.
type Receipt struct {
	TxHash      common.Hash
	Status      uint64
	BlockNumber uint64
	GasUsed     uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == types.ReceiptStatusSuccessful
}

// CallMsg describes a call for estimation.
type CallMsg struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Client is the chain capability used by the orchestrators. Every error it
// returns is classified with txerr (context errors pass through untouched).
type Client interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	Code(ctx context.Context, addr common.Address) ([]byte, error)
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	// Receipt returns nil, nil while the transaction is not yet mined.
	Receipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	RouterWETH(ctx context.Context, router common.Address) (common.Address, error)
	// LastClaimTime returns the zero time when the account never claimed.
	LastClaimTime(ctx context.Context, token, owner common.Address) (time.Time, error)
	ChainID(ctx context.Context) (*big.Int, error)
	NetVersion(ctx context.Context) (string, error)
}

// RPCClient implements Client over a JSON-RPC connection.
type RPCClient struct {
	rpc rpc.Client
}

// NewRPCClient wraps a JSON-RPC client.
func NewRPCClient(client rpc.Client) *RPCClient {
	return &RPCClient{rpc: client}
}

// Classify maps a node error onto the taxonomy. RPC errors the node flags as
// reverts become contract logic errors; everything else goes through txerr.Classify.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) && rpcErr.IsRevert() {
		return txerr.ContractLogic(err)
	}
	return txerr.Classify(err)
}

// knownTxMarkers are what geth, erigon, besu and nethermind answer when the
// exact signed transaction is already in their pool.
var knownTxMarkers = []string{"already known", "known transaction", "alreadyknown"}

// IsAlreadyKnown reports whether a send failed only because the node already
// holds the same signed transaction.
func IsAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range knownTxMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// SendOutcomeUnknown reports whether a failed send may still have been
// accepted by the node.
func SendOutcomeUnknown(err error) bool {
	return rpc.MaybeDelivered(err)
}

func (c *RPCClient) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.rpc.EthCall(ctx, rpc.CallMsg{To: to.Hex(), Data: data})
	if err != nil {
		return nil, Classify(err)
	}
	return out, nil
}

// TokenBalance returns balanceOf(owner) on token.
func (c *RPCClient) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := contract.PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token.Hex(), err)
	}
	balance, err := contract.UnpackUint256(contract.FaucetToken, "balanceOf", out)
	if err != nil {
		return nil, txerr.Transient(err)
	}
	return balance, nil
}

// NativeBalance returns the account's native balance.
func (c *RPCClient) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	balance, err := c.rpc.GetBalance(ctx, owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", Classify(err))
	}
	return balance, nil
}

// PendingNonce returns the pending-inclusive transaction count.
func (c *RPCClient) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := c.rpc.GetNonce(ctx, addr.Hex())
	if err != nil {
		return 0, fmt.Errorf("get nonce: %w", Classify(err))
	}
	return nonce, nil
}

// GasPrice returns the node's current gas price.
func (c *RPCClient) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.rpc.GetGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", Classify(err))
	}
	return price, nil
}

// Code returns the deployed bytecode at addr.
func (c *RPCClient) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := c.rpc.GetCode(ctx, addr.Hex())
	if err != nil {
		return nil, fmt.Errorf("get code: %w", Classify(err))
	}
	if code == "" || code == "0x" {
		return nil, nil
	}
	out, err := hexutil.Decode(code)
	if err != nil {
		return nil, txerr.Transient(fmt.Errorf("decode code: %w", err))
	}
	return out, nil
}

// EstimateGas runs eth_estimateGas. A revert during estimation is a contract logic error.
func (c *RPCClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	gas, err := c.rpc.EstimateGas(ctx, rpc.CallMsg{
		From:  msg.From.Hex(),
		To:    msg.To.Hex(),
		Data:  msg.Data,
		Value: msg.Value,
	})
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w", Classify(err))
	}
	return gas, nil
}

// SendTransaction broadcasts a signed transaction and returns the node-reported hash.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode transaction: %w", err)
	}
	hash, err := c.rpc.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", Classify(err))
	}
	if hash == "" {
		return tx.Hash(), nil
	}
	return common.HexToHash(hash), nil
}

// Receipt returns the receipt for hash, or nil if it is not mined yet.
func (c *RPCClient) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	r, err := c.rpc.GetTransactionReceipt(ctx, hash.Hex())
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", Classify(err))
	}
	if r == nil {
		return nil, nil
	}
	return &Receipt{
		TxHash:      common.HexToHash(r.TxHash),
		Status:      r.Status,
		BlockNumber: r.BlockNumber,
		GasUsed:     r.GasUsed,
	}, nil
}

// Allowance returns allowance(owner, spender) on token.
func (c *RPCClient) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := contract.PackAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("allowance %s: %w", token.Hex(), err)
	}
	allowance, err := contract.UnpackUint256(contract.FaucetToken, "allowance", out)
	if err != nil {
		return nil, txerr.Transient(err)
	}
	return allowance, nil
}

// RouterWETH returns the router's wrapped-native token address.
func (c *RPCClient) RouterWETH(ctx context.Context, router common.Address) (common.Address, error) {
	data, err := contract.PackWETH()
	if err != nil {
		return common.Address{}, err
	}
	out, err := c.call(ctx, router, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("router WETH(): %w", err)
	}
	weth, err := contract.UnpackAddress(contract.Router, "WETH", out)
	if err != nil {
		return common.Address{}, txerr.ContractLogic(err)
	}
	return weth, nil
}

// LastClaimTime returns lastClaimTime(owner) on token.
func (c *RPCClient) LastClaimTime(ctx context.Context, token, owner common.Address) (time.Time, error) {
	data, err := contract.PackLastClaimTime(owner)
	if err != nil {
		return time.Time{}, err
	}
	out, err := c.call(ctx, token, data)
	if err != nil {
		return time.Time{}, fmt.Errorf("lastClaimTime %s: %w", token.Hex(), err)
	}
	ts, err := contract.UnpackUint256(contract.FaucetToken, "lastClaimTime", out)
	if err != nil {
		return time.Time{}, txerr.Transient(err)
	}
	if ts.Sign() == 0 || !ts.IsInt64() {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64(), 0), nil
}

// ChainID returns eth_chainId.
func (c *RPCClient) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.rpc.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", Classify(err))
	}
	return id, nil
}

// NetVersion returns net_version.
func (c *RPCClient) NetVersion(ctx context.Context) (string, error) {
	v, err := c.rpc.NetVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("net version: %w", Classify(err))
	}
	return v, nil
}
