package contract

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSelectors(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want string
	}{
		{"claim()", Selector(FaucetToken, "claim"), "0x4e71d92d"},
		{"balanceOf(address)", Selector(FaucetToken, "balanceOf"), "0x70a08231"},
		{"approve(address,uint256)", Selector(FaucetToken, "approve"), "0x095ea7b3"},
		{"allowance(address,address)", Selector(FaucetToken, "allowance"), "0xdd62ed3e"},
		{"WETH()", Selector(Router, "WETH"), "0xad5c4648"},
		{"swapExactTokensForETH", Selector(Router, "swapExactTokensForETH"), "0x18cbafe5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, common.FromHex(tt.want)) {
				t.Errorf("selector = %x, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestPackClaimIsSelectorOnly(t *testing.T) {
	data, err := PackClaim()
	if err != nil {
		t.Fatalf("PackClaim: %v", err)
	}
	if len(data) != 4 {
		t.Errorf("claim calldata length = %d, want 4", len(data))
	}
}

func TestSwapArgsDecode(t *testing.T) {
	token := common.HexToAddress("0x968B9a5603ddEb2A78Aa08182BC44Ece1D9E5bf0")
	weth := common.HexToAddress("0x1514000000000000000000000000000000000000")
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	in := SwapArgs{
		AmountIn:     big.NewInt(1000),
		AmountOutMin: big.NewInt(10),
		Path:         []common.Address{token, weth},
		To:           to,
		Deadline:     big.NewInt(1_700_000_600),
	}
	data, err := PackSwapExactTokensForETH(in)
	if err != nil {
		t.Fatalf("PackSwapExactTokensForETH: %v", err)
	}

	out, err := UnpackSwapExactTokensForETH(data)
	if err != nil {
		t.Fatalf("UnpackSwapExactTokensForETH: %v", err)
	}
	if out.AmountIn.Cmp(in.AmountIn) != 0 || out.AmountOutMin.Cmp(in.AmountOutMin) != 0 {
		t.Errorf("amounts = %s/%s", out.AmountIn, out.AmountOutMin)
	}
	if len(out.Path) != 2 || out.Path[0] != token || out.Path[1] != weth {
		t.Errorf("path = %v", out.Path)
	}
	if out.To != to || out.Deadline.Cmp(in.Deadline) != 0 {
		t.Errorf("to/deadline = %s/%s", out.To, out.Deadline)
	}
}

func TestUnpackSwapRejectsOtherCalldata(t *testing.T) {
	data, _ := PackClaim()
	if _, err := UnpackSwapExactTokensForETH(data); err == nil {
		t.Error("expected error for non-swap calldata")
	}
}

func TestUnpackUint256(t *testing.T) {
	word := common.LeftPadBytes(big.NewInt(42).Bytes(), 32)
	got, err := UnpackUint256(FaucetToken, "balanceOf", word)
	if err != nil {
		t.Fatalf("UnpackUint256: %v", err)
	}
	if got.Int64() != 42 {
		t.Errorf("got %s, want 42", got)
	}
}

func TestHalfMax(t *testing.T) {
	doubled := new(big.Int).Lsh(HalfMaxUint256, 1)
	doubled.Add(doubled, big.NewInt(1))
	if doubled.Cmp(MaxUint256) != 0 {
		t.Error("HalfMaxUint256*2+1 should equal MaxUint256")
	}
}
