// Package contract holds the static ABIs the bot talks to and their call encoders.
package contract

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// faucetTokenJSON is the faucet token surface: an ERC20 with a permissionless claim().
const faucetTokenJSON = `[
{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
{"constant":false,"inputs":[],"name":"claim","outputs":[],"type":"function"},
{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"lastClaimTime","outputs":[{"name":"timestamp","type":"uint256"}],"type":"function"},
{"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// routerJSON is the subset of a Uniswap V2 style router used for swaps to native.
const routerJSON = `[
{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForETH","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[],"name":"WETH","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

var (
	// FaucetToken is the parsed faucet token ABI.
	FaucetToken = mustParse(faucetTokenJSON)
	// Router is the parsed swap router ABI.
	Router = mustParse(routerJSON)
)

// MaxUint256 is the "infinite" approval amount.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// HalfMaxUint256 is the allowance threshold above which an approval is considered infinite.
var HalfMaxUint256 = new(big.Int).Rsh(MaxUint256, 1)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("contract: invalid ABI: %v", err))
	}
	return parsed
}

// SwapArgs are the arguments of swapExactTokensForETH.
type SwapArgs struct {
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Path         []common.Address
	To           common.Address
	Deadline     *big.Int
}

// PackClaim encodes claim().
func PackClaim() ([]byte, error) {
	return FaucetToken.Pack("claim")
}

// PackBalanceOf encodes balanceOf(owner).
func PackBalanceOf(owner common.Address) ([]byte, error) {
	return FaucetToken.Pack("balanceOf", owner)
}

// PackLastClaimTime encodes lastClaimTime(owner).
func PackLastClaimTime(owner common.Address) ([]byte, error) {
	return FaucetToken.Pack("lastClaimTime", owner)
}

// PackAllowance encodes allowance(owner, spender).
func PackAllowance(owner, spender common.Address) ([]byte, error) {
	return FaucetToken.Pack("allowance", owner, spender)
}

// PackApprove encodes approve(spender, amount).
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return FaucetToken.Pack("approve", spender, amount)
}

// PackWETH encodes WETH().
func PackWETH() ([]byte, error) {
	return Router.Pack("WETH")
}

// PackSwapExactTokensForETH encodes the swap call.
func PackSwapExactTokensForETH(args SwapArgs) ([]byte, error) {
	return Router.Pack("swapExactTokensForETH", args.AmountIn, args.AmountOutMin, args.Path, args.To, args.Deadline)
}

// UnpackSwapExactTokensForETH decodes swap calldata (selector included).
func UnpackSwapExactTokensForETH(data []byte) (SwapArgs, error) {
	method := Router.Methods["swapExactTokensForETH"]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return SwapArgs{}, fmt.Errorf("calldata is not swapExactTokensForETH")
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return SwapArgs{}, fmt.Errorf("failed to unpack swap args: %w", err)
	}
	if len(values) != 5 {
		return SwapArgs{}, fmt.Errorf("unexpected swap arg count %d", len(values))
	}
	return SwapArgs{
		AmountIn:     abi.ConvertType(values[0], new(big.Int)).(*big.Int),
		AmountOutMin: abi.ConvertType(values[1], new(big.Int)).(*big.Int),
		Path:         *abi.ConvertType(values[2], new([]common.Address)).(*[]common.Address),
		To:           *abi.ConvertType(values[3], new(common.Address)).(*common.Address),
		Deadline:     abi.ConvertType(values[4], new(big.Int)).(*big.Int),
	}, nil
}

// UnpackUint256 decodes a single uint256 return value of method.
func UnpackUint256(contract abi.ABI, method string, data []byte) (*big.Int, error) {
	out, err := contract.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned empty result", method)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// UnpackAddress decodes a single address return value of method.
func UnpackAddress(contract abi.ABI, method string, data []byte) (common.Address, error) {
	out, err := contract.Unpack(method, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("%s returned empty result", method)
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// Selector returns the 4-byte selector of a method in contract, or nil.
func Selector(contract abi.ABI, method string) []byte {
	m, ok := contract.Methods[method]
	if !ok {
		return nil
	}
	return m.ID
}
