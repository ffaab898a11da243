package txbuilder

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/faucetbot/internal/contract"
	ptypes "github.com/gateway-fm/faucetbot/pkg/types"
)

var (
	testToken  = common.HexToAddress("0x8812d810EA7CC4e1c3FB45cef19D6a7ECBf2D85D")
	testRouter = common.HexToAddress("0x56300f2dB653393e78C7b5edE9c8f74237B76F47")
)

func TestClaimBuilder(t *testing.T) {
	b, err := NewClaimBuilder(testToken, 200_000)
	if err != nil {
		t.Fatalf("NewClaimBuilder: %v", err)
	}
	if b.Kind() != ptypes.TxKindClaim {
		t.Errorf("Kind() = %s", b.Kind())
	}

	tx, err := b.Build(TxParams{Nonce: 5, GasPrice: big.NewInt(1_500_000_000)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tx.Type() != types.LegacyTxType {
		t.Errorf("tx type = %d, want legacy", tx.Type())
	}
	if tx.Nonce() != 5 || tx.Gas() != 200_000 || tx.GasPrice().Int64() != 1_500_000_000 {
		t.Errorf("nonce/gas/price = %d/%d/%s", tx.Nonce(), tx.Gas(), tx.GasPrice())
	}
	if *tx.To() != testToken {
		t.Errorf("to = %s", tx.To())
	}
	if !bytes.Equal(tx.Data(), contract.Selector(contract.FaucetToken, "claim")) {
		t.Errorf("data = %x", tx.Data())
	}
	if tx.Value().Sign() != 0 {
		t.Errorf("value = %s, want 0", tx.Value())
	}
}

func TestBuildRejectsMissingGasPrice(t *testing.T) {
	b, _ := NewClaimBuilder(testToken, 200_000)
	tests := []struct {
		name  string
		price *big.Int
	}{
		{"nil", nil},
		{"zero", big.NewInt(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := b.Build(TxParams{GasPrice: tt.price}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApproveBuilderDefaultsToMax(t *testing.T) {
	b, err := NewApproveBuilder(testToken, testRouter, nil, 200_000)
	if err != nil {
		t.Fatalf("NewApproveBuilder: %v", err)
	}
	tx, err := b.Build(TxParams{Nonce: 1, GasPrice: big.NewInt(1)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want, _ := contract.PackApprove(testRouter, contract.MaxUint256)
	if !bytes.Equal(tx.Data(), want) {
		t.Errorf("approve calldata mismatch: %x", tx.Data())
	}
	if b.Kind() != ptypes.TxKindApprove || *tx.To() != testToken {
		t.Errorf("kind/to = %s/%s", b.Kind(), tx.To())
	}
}

func TestSwapBuilderCalldataStableAcrossAttempts(t *testing.T) {
	args := SwapArgs{
		AmountIn:     big.NewInt(1000),
		AmountOutMin: big.NewInt(950),
		Path:         []common.Address{testToken, common.HexToAddress("0x1514000000000000000000000000000000000000")},
		To:           common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Deadline:     big.NewInt(1_700_000_600),
	}
	b, err := NewSwapBuilder(testRouter, args, 150_000)
	if err != nil {
		t.Fatalf("NewSwapBuilder: %v", err)
	}

	tx1, _ := b.Build(TxParams{Nonce: 1, GasPrice: big.NewInt(10)})
	tx2, _ := b.Build(TxParams{Nonce: 2, GasPrice: big.NewInt(11)})
	if !bytes.Equal(tx1.Data(), tx2.Data()) {
		t.Error("calldata changed between attempts")
	}
	if tx2.Nonce() != 2 || tx2.Gas() != 150_000 || *tx2.To() != testRouter {
		t.Errorf("tx2 = nonce %d gas %d to %s", tx2.Nonce(), tx2.Gas(), tx2.To())
	}

	decoded, err := contract.UnpackSwapExactTokensForETH(b.Data())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.AmountOutMin.Int64() != 950 {
		t.Errorf("amountOutMin = %s", decoded.AmountOutMin)
	}
}

func TestNewLegacyTxCopiesGasPrice(t *testing.T) {
	price := big.NewInt(100)
	tx := NewLegacyTx(0, testToken, nil, 21000, price, nil)
	price.SetInt64(1)
	if tx.GasPrice().Int64() != 100 {
		t.Errorf("gas price aliased: %s", tx.GasPrice())
	}
}
