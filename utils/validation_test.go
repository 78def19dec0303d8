package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAtomicAmount(t *testing.T) {
	v, err := ValidateAtomicAmount("1000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), v.Int64())

	for _, bad := range []string{"", "1.5", "-1", "0x10", "abc"} {
		_, err := ValidateAtomicAmount(bad)
		assert.Error(t, err, "amount %q should be rejected", bad)
	}
}

func TestValidateAddressForNetwork(t *testing.T) {
	assert.NoError(t, ValidateAddressForNetwork("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "base"))
	assert.NoError(t, ValidateAddressForNetwork("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "solana-mainnet"))

	assert.Error(t, ValidateAddressForNetwork("833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "base"))
	assert.Error(t, ValidateAddressForNetwork("0xshort", "base"))
	assert.Error(t, ValidateAddressForNetwork("0OlI", "solana-mainnet"))
	assert.Error(t, ValidateAddressForNetwork("", "base"))
	assert.Error(t, ValidateAddressForNetwork("whatever", "cosmoshub-4"))
}
