package domain

import (
	"errors"
	"fmt"
	"strings"

	"token-forensics/internal/address"
)

// Chain identifies the network an asset lives on.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainPolygon  Chain = "polygon"
	ChainBSC      Chain = "bsc"
	ChainSolana   Chain = "solana"
)

// ErrInvalidChain is returned for chains outside the supported set.
var ErrInvalidChain = errors.New("invalid chain")

// IsValid checks if the chain is supported.
func (c Chain) IsValid() bool {
	switch c {
	case ChainEthereum, ChainPolygon, ChainBSC, ChainSolana:
		return true
	}
	return false
}

// IsEVM reports whether the chain uses 20-byte hex addresses.
func (c Chain) IsEVM() bool {
	return c == ChainEthereum || c == ChainPolygon || c == ChainBSC
}

// Asset is the identity of the investigated token.
// Address is stored in canonical form; construct with NewAsset.
type Asset struct {
	Chain       Chain  `json:"chain"`
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name,omitempty"`
	Decimals    int    `json:"decimals"`
	CoinGeckoID string `json:"coingecko_id,omitempty"`
}

// NewAsset validates the chain and canonicalizes the contract address.
func NewAsset(chain Chain, addr, symbol string, decimals int) (Asset, error) {
	if !chain.IsValid() {
		return Asset{}, fmt.Errorf("%w: %q", ErrInvalidChain, chain)
	}
	if decimals < 0 || decimals > 36 {
		return Asset{}, fmt.Errorf("invalid decimals %d", decimals)
	}
	canonical, err := CanonicalAddress(chain, addr)
	if err != nil {
		return Asset{}, err
	}
	return Asset{
		Chain:    chain,
		Address:  canonical,
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Decimals: decimals,
	}, nil
}

// CanonicalAddress returns the canonical address form for the chain.
func CanonicalAddress(chain Chain, addr string) (string, error) {
	if chain.IsEVM() {
		return address.ChecksumEVM(strings.TrimSpace(addr))
	}
	if chain == ChainSolana {
		return address.CanonicalSolana(addr)
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChain, chain)
}

// Key returns the unique per-chain identity "chain:address".
func (a Asset) Key() string {
	return string(a.Chain) + ":" + a.Address
}
