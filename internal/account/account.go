// Package account holds signing accounts and their nonce allocation.
package account

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account is an immutable signing identity bound to one chain id.
// It carries no mutable nonce state; see NonceAllocator.
type Account struct {
	address common.Address
	key     *ecdsa.PrivateKey
	signer  types.Signer
}

// New creates an account from a private key, bound to chainID.
func New(key *ecdsa.PrivateKey, chainID *big.Int) *Account {
	return &Account{
		address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
		signer:  types.LatestSignerForChainID(chainID),
	}
}

// FromHex creates an account from a hex-encoded private key, with or without 0x prefix.
func FromHex(hexKey string, chainID *big.Int) (*Account, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return New(key, chainID), nil
}

// LoadAll parses every key. Duplicate addresses are rejected because two
// accounts sharing a nonce sequence would collide.
func LoadAll(hexKeys []string, chainID *big.Int) ([]*Account, error) {
	accounts := make([]*Account, 0, len(hexKeys))
	seen := make(map[common.Address]int, len(hexKeys))
	for i, k := range hexKeys {
		acc, err := FromHex(k, chainID)
		if err != nil {
			return nil, fmt.Errorf("key #%d: %w", i+1, err)
		}
		if prev, dup := seen[acc.address]; dup {
			return nil, fmt.Errorf("key #%d duplicates key #%d (%s)", i+1, prev+1, acc.address.Hex())
		}
		seen[acc.address] = i
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// Address returns the account address.
func (a *Account) Address() common.Address {
	return a.address
}

// Sign signs tx for the account's chain.
func (a *Account) Sign(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, a.signer, a.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// ChainID returns the chain id the signer is bound to.
func (a *Account) ChainID() *big.Int {
	return a.signer.ChainID()
}

// String returns the checksummed address; keys never appear in logs.
func (a *Account) String() string {
	return a.address.Hex()
}
