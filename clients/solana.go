package clients

import (
	"context"
	"encoding/base64"
	"fmt"

	binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/blockrunai/blockrun-go/types"
)

// ComputeBudgetProgramID is the Solana Compute Budget program.
var ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

const (
	// DefaultComputeUnits is the compute unit limit set on every payment tx.
	DefaultComputeUnits uint32 = 200_000

	// DefaultComputeUnitPrice is the priority fee in microlamports.
	DefaultComputeUnitPrice uint64 = 10_000

	solanaSecretKeyLen = 64
)

// SolanaRPC is the subset of the Solana RPC surface the builder needs.
// *rpc.Client satisfies it; tests inject fakes.
type SolanaRPC interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

var _ PaymentBuilder = (*SolanaBuilder)(nil)

// SolanaBuilder produces partially signed SPL token transfers whose fees
// are sponsored by the server-declared facilitator.
type SolanaBuilder struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	network    types.Network
	rpc        SolanaRPC
}

// NewSolanaBuilder creates a builder from a 64-byte ed25519 secret key.
func NewSolanaBuilder(network types.Network, secretKey []byte, rpcURL string) (*SolanaBuilder, error) {
	if !network.IsSolana() {
		return nil, types.NewError(types.ErrConfigError,
			fmt.Sprintf("network %s is not a Solana network", network), nil)
	}
	if len(secretKey) != solanaSecretKeyLen {
		return nil, types.NewError(types.ErrConfigError,
			fmt.Sprintf("solana secret key must be %d bytes, got %d", solanaSecretKeyLen, len(secretKey)), nil)
	}

	key := solana.PrivateKey(secretKey)
	return &SolanaBuilder{
		privateKey: key,
		publicKey:  key.PublicKey(),
		network:    network,
		rpc:        rpc.New(rpcURL),
	}, nil
}

// NewSolanaBuilderFromBase58 creates a builder from a base58 secret key.
func NewSolanaBuilderFromBase58(network types.Network, secretKeyBase58, rpcURL string) (*SolanaBuilder, error) {
	key, err := solana.PrivateKeyFromBase58(secretKeyBase58)
	if err != nil {
		return nil, types.NewError(types.ErrConfigError, "invalid base58 solana key", err)
	}
	return NewSolanaBuilder(network, []byte(key), rpcURL)
}

// WithRPC swaps the RPC client. Used by tests.
func (b *SolanaBuilder) WithRPC(client SolanaRPC) *SolanaBuilder {
	b.rpc = client
	return b
}

// Network implements PaymentBuilder.
func (b *SolanaBuilder) Network() types.Network {
	return b.network
}

// Address returns the sender public key.
func (b *SolanaBuilder) Address() solana.PublicKey {
	return b.publicKey
}

// Build implements PaymentBuilder. The fee payer comes from the
// challenge's extra.feePayer; its absence is a hard failure raised before
// any RPC traffic. Instruction order is fixed: compute-unit limit,
// compute-unit price, transfer-checked.
func (b *SolanaBuilder) Build(ctx context.Context, req *types.PaymentRequirement, opts BuildOptions) (*types.SignedPaymentPayload, error) {
	if !types.Network(req.Network).IsSolana() {
		return nil, types.NewError(types.ErrWrongRail,
			fmt.Sprintf("requirement network %s is not a Solana rail; use the EVM client", req.Network), nil)
	}

	feePayer, err := extractFeePayer(req)
	if err != nil {
		return nil, err
	}

	amount, err := req.AmountAtomic()
	if err != nil {
		return nil, types.NewError(types.ErrNoPaymentOption, "requirement amount is unusable", err)
	}
	if !amount.IsUint64() {
		return nil, types.NewError(types.ErrNoPaymentOption,
			fmt.Sprintf("amount %s overflows uint64", amount), nil)
	}

	mint, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return nil, types.NewError(types.ErrNoPaymentOption, "invalid mint address", err)
	}
	recipient, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return nil, types.NewError(types.ErrNoPaymentOption, "invalid recipient address", err)
	}

	decimals, err := b.mintDecimals(ctx, mint)
	if err != nil {
		return nil, err
	}

	blockhash, err := b.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("fetch latest blockhash: %w", err)
	}

	txBase64, err := b.buildPartiallySigned(mint, recipient, feePayer, amount.Uint64(), decimals, blockhash.Value.Blockhash)
	if err != nil {
		return nil, err
	}

	return &types.SignedPaymentPayload{
		X402Version: types.X402Version,
		Resource:    opts.Resource,
		Accepted:    *req,
		Payload:     types.SVMPayload{Transaction: txBase64},
		Extensions:  opts.Extensions,
	}, nil
}

// mintDecimals resolves the mint's decimal precision from chain state.
func (b *SolanaBuilder) mintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	info, err := b.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("fetch mint account %s: %w", mint, err)
	}
	if info == nil || info.Value == nil {
		return 0, fmt.Errorf("mint account %s not found", mint)
	}

	var mintState token.Mint
	if err := binary.NewBinDecoder(info.Value.Data.GetBinary()).Decode(&mintState); err != nil {
		return 0, fmt.Errorf("decode mint account %s: %w", mint, err)
	}
	return mintState.Decimals, nil
}

func (b *SolanaBuilder) buildPartiallySigned(
	mint, recipient, feePayer solana.PublicKey,
	amount uint64,
	decimals uint8,
	blockhash solana.Hash,
) (string, error) {
	sourceATA, _, err := solana.FindAssociatedTokenAddress(b.publicKey, mint)
	if err != nil {
		return "", fmt.Errorf("derive source token account: %w", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return "", fmt.Errorf("derive destination token account: %w", err)
	}

	instructions := []solana.Instruction{
		newComputeUnitLimitInstruction(DefaultComputeUnits),
		newComputeUnitPriceInstruction(DefaultComputeUnitPrice),
		token.NewTransferCheckedInstructionBuilder().
			SetAmount(amount).
			SetDecimals(decimals).
			SetSourceAccount(sourceATA).
			SetDestinationAccount(destATA).
			SetMintAccount(mint).
			SetOwnerAccount(b.publicKey).
			Build(),
	}

	// The facilitator pays the fee, which is what makes the transfer
	// gasless for the sender.
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(feePayer))
	if err != nil {
		return "", types.NewError(types.ErrSigningFailed, "assemble transaction", err)
	}

	// Sign only with the sender key. The fee-payer slot stays empty for
	// the facilitator to complete.
	_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(b.publicKey) {
			return &b.privateKey
		}
		return nil
	})
	if err != nil {
		return "", types.NewError(types.ErrSigningFailed, "partial-sign transaction", err)
	}

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return "", types.NewError(types.ErrSigningFailed, "serialize transaction", err)
	}
	return base64.StdEncoding.EncodeToString(txBytes), nil
}

func extractFeePayer(req *types.PaymentRequirement) (solana.PublicKey, error) {
	if req.Extra == nil {
		return solana.PublicKey{}, types.NewError(types.ErrMissingFeePayer,
			"challenge extra carries no feePayer", nil)
	}
	feePayerStr, ok := req.Extra["feePayer"].(string)
	if !ok || feePayerStr == "" {
		return solana.PublicKey{}, types.NewError(types.ErrMissingFeePayer,
			"challenge extra carries no feePayer", nil)
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return solana.PublicKey{}, types.NewError(types.ErrMissingFeePayer,
			"feePayer address is not valid base58", err)
	}
	return feePayer, nil
}

// SetComputeUnitLimit: discriminator 2, u32 little-endian units.
func newComputeUnitLimitInstruction(units uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = 2
	data[1] = byte(units)
	data[2] = byte(units >> 8)
	data[3] = byte(units >> 16)
	data[4] = byte(units >> 24)
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// SetComputeUnitPrice: discriminator 3, u64 little-endian microlamports.
func newComputeUnitPriceInstruction(microlamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = 3
	for i := 0; i < 8; i++ {
		data[1+i] = byte(microlamports >> (8 * i))
	}
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, data)
}
