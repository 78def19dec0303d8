package types

import (
	"fmt"
	"strings"
)

// Network identifies a settlement rail.
type Network string

const (
	// EVM networks
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet

	// Solana networks
	NetworkSolanaMainnet Network = "solana-mainnet"
	NetworkSolanaDevnet  Network = "solana-devnet" // testnet
)

// solanaPrefix matches every Solana network identifier the protocol emits.
const solanaPrefix = "solana"

func (n Network) IsEVM() bool {
	return n == NetworkBase || n == NetworkBaseSepolia
}

func (n Network) IsSolana() bool {
	return strings.HasPrefix(string(n), solanaPrefix)
}

// ChainID returns the EVM chain id for an EVM network.
func (n Network) ChainID() (int64, error) {
	switch n {
	case NetworkBase:
		return 8453, nil
	case NetworkBaseSepolia:
		return 84532, nil
	default:
		return 0, fmt.Errorf("network %s has no EVM chain id", n)
	}
}

func (n Network) String() string {
	return string(n)
}
