// Package txbuilder builds the unsigned transactions the bot submits.
package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	ptypes "github.com/gateway-fm/faucetbot/pkg/types"
)

// TxParams holds the per-attempt parameters chosen by the submitter.
type TxParams struct {
	Nonce    uint64
	GasPrice *big.Int
}

// Builder builds one kind of transaction. Builders are immutable so the same
// value can be rebuilt for every attempt with a fresh nonce and gas price.
type Builder interface {
	// Kind returns what the transaction does.
	Kind() ptypes.TxKind

	// To returns the contract the transaction calls.
	To() common.Address

	// GasLimit returns the gas limit for this transaction.
	GasLimit() uint64

	// Build creates an unsigned transaction.
	Build(params TxParams) (*types.Transaction, error)
}

func validate(params TxParams) error {
	if params.GasPrice == nil || params.GasPrice.Sign() <= 0 {
		return fmt.Errorf("gas price must be positive")
	}
	return nil
}

// ClaimBuilder builds claim() calls against a faucet token.
type ClaimBuilder struct {
	token    common.Address
	gasLimit uint64
	data     []byte
}

// NewClaimBuilder creates a claim builder for token.
func NewClaimBuilder(token common.Address, gasLimit uint64) (*ClaimBuilder, error) {
	data, err := encodeClaim()
	if err != nil {
		return nil, err
	}
	return &ClaimBuilder{token: token, gasLimit: gasLimit, data: data}, nil
}

// Kind returns TxKindClaim.
func (b *ClaimBuilder) Kind() ptypes.TxKind { return ptypes.TxKindClaim }

// To returns the token address.
func (b *ClaimBuilder) To() common.Address { return b.token }

// GasLimit returns the configured claim gas limit.
func (b *ClaimBuilder) GasLimit() uint64 { return b.gasLimit }

// Build creates the claim transaction.
func (b *ClaimBuilder) Build(params TxParams) (*types.Transaction, error) {
	if err := validate(params); err != nil {
		return nil, err
	}
	return NewLegacyTx(params.Nonce, b.token, nil, b.gasLimit, params.GasPrice, b.data), nil
}

// SwapBuilder builds swapExactTokensForETH calls against the router.
type SwapBuilder struct {
	router   common.Address
	gasLimit uint64
	data     []byte
}

// NewSwapBuilder encodes args once; the calldata is identical across attempts.
func NewSwapBuilder(router common.Address, args SwapArgs, gasLimit uint64) (*SwapBuilder, error) {
	data, err := encodeSwap(args)
	if err != nil {
		return nil, err
	}
	return &SwapBuilder{router: router, gasLimit: gasLimit, data: data}, nil
}

// Kind returns TxKindSwap.
func (b *SwapBuilder) Kind() ptypes.TxKind { return ptypes.TxKindSwap }

// To returns the router address.
func (b *SwapBuilder) To() common.Address { return b.router }

// GasLimit returns the estimate-derived gas limit.
func (b *SwapBuilder) GasLimit() uint64 { return b.gasLimit }

// Data returns the encoded swap calldata.
func (b *SwapBuilder) Data() []byte { return b.data }

// Build creates the swap transaction.
func (b *SwapBuilder) Build(params TxParams) (*types.Transaction, error) {
	if err := validate(params); err != nil {
		return nil, err
	}
	return NewLegacyTx(params.Nonce, b.router, nil, b.gasLimit, params.GasPrice, b.data), nil
}
