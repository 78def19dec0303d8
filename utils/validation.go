// Package utils holds the small defensive helpers the payment cycle runs
// on server-supplied values before they reach a signer.
package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	hexRe    = regexp.MustCompile("^[0-9a-fA-F]+$")
	base58Re = regexp.MustCompile("^[1-9A-HJ-NP-Za-km-z]+$")
)

// ValidateAtomicAmount checks that an amount string is a non-negative
// base-10 integer (atomic stablecoin units).
func ValidateAtomicAmount(amount string) (*big.Int, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount format: %q", amount)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount cannot be negative")
	}
	return v, nil
}

// AtomicToDecimal converts an atomic amount to a decimal value with the
// given token precision.
func AtomicToDecimal(amount *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// ValidateAddressForNetwork checks an address's surface shape for the
// given rail before it is embedded in a signed payload.
func ValidateAddressForNetwork(address, network string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	switch {
	case strings.HasPrefix(network, "base"):
		if !strings.HasPrefix(address, "0x") {
			return fmt.Errorf("EVM address must start with 0x")
		}
		if len(address) != 42 {
			return fmt.Errorf("EVM address must be 42 characters long")
		}
		if !hexRe.MatchString(address[2:]) {
			return fmt.Errorf("EVM address must be valid hex")
		}

	case strings.HasPrefix(network, "solana"):
		if len(address) < 32 || len(address) > 44 {
			return fmt.Errorf("Solana address has invalid length")
		}
		if !base58Re.MatchString(address) {
			return fmt.Errorf("Solana address must be valid base58")
		}

	default:
		return fmt.Errorf("unsupported network for address validation: %s", network)
	}

	return nil
}
