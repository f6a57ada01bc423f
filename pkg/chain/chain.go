package chain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type Chain string

const (
	ChainBitcoin  Chain = "bitcoin"
	ChainEthereum Chain = "ethereum"
)

func AllChains() []Chain {
	return []Chain{ChainBitcoin, ChainEthereum}
}

// UnrecognizedAddressError is a user-input problem, not an internal failure.
type UnrecognizedAddressError struct {
	Address string
}

func (e *UnrecognizedAddressError) Error() string {
	return fmt.Sprintf("unrecognized address format: %q (expected a Bitcoin or Ethereum address)", e.Address)
}

// Legacy P2PKH (1...), P2SH (3...) and bech32 (bc1...) addresses.
// Syntactic rule only; no checksum validation.
var btcAddrRe = regexp.MustCompile(`^(1|3|bc1)[a-zA-HJ-NP-Z0-9]{25,62}$`)

// Prefix-only variants, used for as-you-type hints before the full
// pattern is satisfiable.
var (
	btcPrefixRe = regexp.MustCompile(`^(1|3|b|bc|bc1)[a-zA-HJ-NP-Z0-9]{0,62}$`)
	ethPrefixRe = regexp.MustCompile(`^0(x[0-9a-fA-F]{0,40})?$`)
)

// Detect classifies a trimmed address string. Total and side-effect free.
func Detect(address string) (Chain, error) {
	address = strings.TrimSpace(address)
	if common.IsHexAddress(address) {
		return ChainEthereum, nil
	}
	if btcAddrRe.MatchString(address) {
		return ChainBitcoin, nil
	}
	return "", &UnrecognizedAddressError{Address: address}
}

// DetectPartial reports which chain a prefix could still become. Both flags
// false means the input can never match either pattern.
func DetectPartial(prefix string) (bitcoin, ethereum bool) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return true, true
	}
	return btcPrefixRe.MatchString(prefix), ethPrefixRe.MatchString(prefix)
}

// Valid reports whether s names a supported chain.
func Valid(s string) bool {
	return Chain(s) == ChainBitcoin || Chain(s) == ChainEthereum
}
