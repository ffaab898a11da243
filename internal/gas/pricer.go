// Package gas computes per-attempt gas prices.
package gas

import (
	"fmt"
	"math"
	"math/big"
)

// Multipliers are expressed in permille so pricing stays exact integer math.
const permille = 1000

// Pricer turns the node's current gas price into the price to bid.
type Pricer interface {
	Price(base *big.Int, attempt int) *big.Int
}

// Escalating bids base * (Start + Step*attempt) / 1000.
// Attempts are 0-indexed, so the first attempt already pays Start.
type Escalating struct {
	StartPermille uint64
	StepPermille  uint64
}

// ClaimPolicy bids 1.5x on the first attempt and adds 0.2x per retry.
func ClaimPolicy() Escalating {
	return Escalating{StartPermille: 1500, StepPermille: 200}
}

// Price implements Pricer.
func (e Escalating) Price(base *big.Int, attempt int) *big.Int {
	if attempt < 0 {
		attempt = 0
	}
	factor := e.StartPermille + e.StepPermille*uint64(attempt)
	return scale(base, factor)
}

// Flat bids base * Permille / 1000 regardless of attempt.
type Flat struct {
	Permille uint64
}

// DefaultSwapMultiplier is used for approve and swap transactions.
const DefaultSwapMultiplier = 1.1

// NewFlat converts a float multiplier (e.g. 1.1) into a Flat policy.
func NewFlat(multiplier float64) (Flat, error) {
	if multiplier <= 0 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return Flat{}, fmt.Errorf("gas multiplier must be positive, got %v", multiplier)
	}
	return Flat{Permille: uint64(math.Round(multiplier * permille))}, nil
}

// Price implements Pricer.
func (f Flat) Price(base *big.Int, _ int) *big.Int {
	return scale(base, f.Permille)
}

func scale(base *big.Int, factorPermille uint64) *big.Int {
	if base == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(base, new(big.Int).SetUint64(factorPermille))
	return out.Quo(out, big.NewInt(permille))
}
