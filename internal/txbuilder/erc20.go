package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/faucetbot/internal/contract"
	ptypes "github.com/gateway-fm/faucetbot/pkg/types"
)

// SwapArgs re-exports the router call arguments.
type SwapArgs = contract.SwapArgs

func encodeClaim() ([]byte, error) {
	return contract.PackClaim()
}

func encodeSwap(args SwapArgs) ([]byte, error) {
	return contract.PackSwapExactTokensForETH(args)
}

// ApproveBuilder builds ERC20 approve(spender, amount) transactions.
type ApproveBuilder struct {
	token    common.Address
	spender  common.Address
	gasLimit uint64
	data     []byte
}

// NewApproveBuilder creates an approval builder. A nil amount approves MaxUint256.
func NewApproveBuilder(token, spender common.Address, amount *big.Int, gasLimit uint64) (*ApproveBuilder, error) {
	if amount == nil {
		amount = contract.MaxUint256
	}
	data, err := contract.PackApprove(spender, amount)
	if err != nil {
		return nil, err
	}
	return &ApproveBuilder{token: token, spender: spender, gasLimit: gasLimit, data: data}, nil
}

// Kind returns TxKindApprove.
func (b *ApproveBuilder) Kind() ptypes.TxKind { return ptypes.TxKindApprove }

// To returns the token address.
func (b *ApproveBuilder) To() common.Address { return b.token }

// GasLimit returns the approval gas limit.
func (b *ApproveBuilder) GasLimit() uint64 { return b.gasLimit }

// Build creates the approve transaction.
func (b *ApproveBuilder) Build(params TxParams) (*types.Transaction, error) {
	if err := validate(params); err != nil {
		return nil, err
	}
	return NewLegacyTx(params.Nonce, b.token, nil, b.gasLimit, params.GasPrice, b.data), nil
}
