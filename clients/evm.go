package clients

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/blockrunai/blockrun-go/types"
)

// The EIP-712 signing domain is pinned per network and never read from the
// server's challenge. A compromised server supplying a different
// name/version/contract in extra must not be able to redirect the
// authorization to another token or chain.
const (
	usdcDomainName    = "USD Coin"
	usdcDomainVersion = "2"

	// clockSkewSeconds widens validAfter backwards to absorb clock drift
	// between the client and the facilitator.
	clockSkewSeconds = 600
)

var usdcContracts = map[types.Network]common.Address{
	types.NetworkBase:        common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
	types.NetworkBaseSepolia: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
}

var _ PaymentBuilder = (*EVMBuilder)(nil)

// EVMBuilder signs EIP-3009 TransferWithAuthorization payloads for the
// gasless Base USDC rail.
type EVMBuilder struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	network    types.Network
	chainID    int64
	contract   common.Address
}

// NewEVMBuilder creates a builder from a hex-encoded secp256k1 private key.
func NewEVMBuilder(network types.Network, privateKeyHex string) (*EVMBuilder, error) {
	if !network.IsEVM() {
		return nil, types.NewError(types.ErrConfigError,
			fmt.Sprintf("network %s is not an EVM network", network), nil)
	}
	contract, ok := usdcContracts[network]
	if !ok {
		return nil, types.NewError(types.ErrConfigError,
			fmt.Sprintf("no pinned USDC contract for network %s", network), nil)
	}
	chainID, err := network.ChainID()
	if err != nil {
		return nil, types.NewError(types.ErrConfigError, "unknown chain id", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, types.NewError(types.ErrConfigError, "invalid EVM private key", err)
	}

	return &EVMBuilder{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		network:    network,
		chainID:    chainID,
		contract:   contract,
	}, nil
}

// Network implements PaymentBuilder.
func (b *EVMBuilder) Network() types.Network {
	return b.network
}

// Address returns the sender address derived from the signing key.
func (b *EVMBuilder) Address() common.Address {
	return b.address
}

// Build implements PaymentBuilder. The authorization window is
// [now-clockSkewSeconds, now+maxTimeoutSeconds] and the 32-byte nonce is
// fresh per call; the nonce is the replay defense on this rail.
func (b *EVMBuilder) Build(ctx context.Context, req *types.PaymentRequirement, opts BuildOptions) (*types.SignedPaymentPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !types.Network(req.Network).IsEVM() {
		return nil, types.NewError(types.ErrWrongRail,
			fmt.Sprintf("requirement network %s is not an EVM rail; use the Solana client", req.Network), nil)
	}

	amount, err := req.AmountAtomic()
	if err != nil {
		return nil, types.NewError(types.ErrNoPaymentOption, "requirement amount is unusable", err)
	}

	// HexToAddress would silently pad or truncate a malformed recipient.
	if !common.IsHexAddress(req.PayTo) {
		return nil, types.NewError(types.ErrNoPaymentOption,
			fmt.Sprintf("payTo %q is not a valid EVM address", req.PayTo), nil)
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, types.NewError(types.ErrSigningFailed, "nonce generation failed", err)
	}

	timeoutSeconds := req.MaxTimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = types.DefaultMaxTimeoutSeconds
	}
	now := time.Now().Unix()
	validAfter := big.NewInt(now - clockSkewSeconds)
	validBefore := big.NewInt(now + int64(timeoutSeconds))

	to := common.HexToAddress(req.PayTo)
	signature, err := b.signAuthorization(to, amount, validAfter, validBefore, nonce)
	if err != nil {
		return nil, types.NewError(types.ErrSigningFailed, "transfer authorization signing failed", err)
	}

	return &types.SignedPaymentPayload{
		X402Version: types.X402Version,
		Resource:    opts.Resource,
		Accepted:    *req,
		Payload: types.EVMPayload{
			Signature: signature,
			Authorization: types.EVMAuthorization{
				From:        b.address.Hex(),
				To:          to.Hex(),
				Value:       amount.String(),
				ValidAfter:  validAfter.String(),
				ValidBefore: validBefore.String(),
				Nonce:       common.BytesToHash(nonce[:]).Hex(),
			},
		},
		Extensions: opts.Extensions,
	}, nil
}

// signAuthorization signs the TransferWithAuthorization typed-data message
// under the pinned domain.
func (b *EVMBuilder) signAuthorization(to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) (string, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              usdcDomainName,
			Version:           usdcDomainVersion,
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(b.chainID)),
			VerifyingContract: b.contract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        b.address.Hex(),
			"to":          to.Hex(),
			"value":       (*math.HexOrDecimal256)(value),
			"validAfter":  (*math.HexOrDecimal256)(validAfter),
			"validBefore": (*math.HexOrDecimal256)(validBefore),
			"nonce":       common.BytesToHash(nonce[:]).Hex(),
		},
	}

	digest, err := TypedDataDigest(typedData)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, b.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign digest: %w", err)
	}
	// 0/1 recovery id -> 27/28 as EIP-3009 verifiers expect
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// TypedDataDigest computes the final EIP-712 digest
// keccak256(0x1901 || domainSeparator || structHash).
func TypedDataDigest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}
	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}
