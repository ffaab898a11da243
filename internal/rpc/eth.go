package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CallMsg is the call object for eth_call and eth_estimateGas.
type CallMsg struct {
	From  string
	To    string
	Data  []byte
	Value *big.Int
}

type callArg struct {
	From  string        `json:"from,omitempty"`
	To    string        `json:"to"`
	Data  hexutil.Bytes `json:"data"`
	Value *hexutil.Big  `json:"value,omitempty"`
}

func (m CallMsg) arg() callArg {
	a := callArg{From: m.From, To: m.To, Data: m.Data}
	if m.Value != nil && m.Value.Sign() > 0 {
		a.Value = (*hexutil.Big)(m.Value)
	}
	return a
}

// TransactionReceipt carries the receipt fields the bot reads.
type TransactionReceipt struct {
	TxHash            string
	Status            uint64 // 1 = success, 0 = failure
	GasUsed           uint64
	BlockNumber       uint64
	EffectiveGasPrice *big.Int
}

type receiptJSON struct {
	TxHash            string          `json:"transactionHash"`
	Status            *hexutil.Uint64 `json:"status"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	BlockNumber       hexutil.Uint64  `json:"blockNumber"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
}

var errNoStatus = errors.New("receipt has no status field")

// callAs runs method and decodes its result into T.
func callAs[T any](ctx context.Context, c *HTTPClient, method string, params ...any) (T, error) {
	var out T
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", method, err)
	}
	return out, nil
}

func (c *HTTPClient) SendRawTransaction(ctx context.Context, txRLP []byte) (string, error) {
	return callAs[string](ctx, c, "eth_sendRawTransaction", hexutil.Encode(txRLP))
}

func (c *HTTPClient) GetNonce(ctx context.Context, address string) (uint64, error) {
	n, err := callAs[hexutil.Uint64](ctx, c, "eth_getTransactionCount", address, "pending")
	return uint64(n), err
}

func (c *HTTPClient) GetCode(ctx context.Context, address string) (string, error) {
	return callAs[string](ctx, c, "eth_getCode", address, "latest")
}

func (c *HTTPClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	return bigResult(callAs[hexutil.Big](ctx, c, "eth_gasPrice"))
}

func (c *HTTPClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	return bigResult(callAs[hexutil.Big](ctx, c, "eth_getBalance", address, "latest"))
}

func (c *HTTPClient) GetTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error) {
	raw, err := callAs[*receiptJSON](ctx, c, "eth_getTransactionReceipt", txHash)
	if err != nil || raw == nil {
		return nil, err
	}
	if raw.Status == nil {
		return nil, fmt.Errorf("%s: %w", txHash, errNoStatus)
	}
	return &TransactionReceipt{
		TxHash:            raw.TxHash,
		Status:            uint64(*raw.Status),
		GasUsed:           uint64(raw.GasUsed),
		BlockNumber:       uint64(raw.BlockNumber),
		EffectiveGasPrice: (*big.Int)(raw.EffectiveGasPrice),
	}, nil
}

func (c *HTTPClient) EthCall(ctx context.Context, msg CallMsg) ([]byte, error) {
	out, err := callAs[hexutil.Bytes](ctx, c, "eth_call", msg.arg(), "latest")
	return []byte(out), err
}

func (c *HTTPClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	gas, err := callAs[hexutil.Uint64](ctx, c, "eth_estimateGas", msg.arg())
	return uint64(gas), err
}

func (c *HTTPClient) ChainID(ctx context.Context) (*big.Int, error) {
	return bigResult(callAs[hexutil.Big](ctx, c, "eth_chainId"))
}

func (c *HTTPClient) NetVersion(ctx context.Context) (string, error) {
	return callAs[string](ctx, c, "net_version")
}

func bigResult(v hexutil.Big, err error) (*big.Int, error) {
	if err != nil {
		return nil, err
	}
	return v.ToInt(), nil
}
