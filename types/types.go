// Package types defines the canonical x402 challenge and payment shapes
// shared by the BlockRun client packages.
package types

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// X402Version is the protocol version this client speaks.
const X402Version = 1

// DefaultMaxTimeoutSeconds is applied when a challenge omits maxTimeoutSeconds.
const DefaultMaxTimeoutSeconds = 300

// StablecoinDecimals is the smallest-unit precision of the settlement
// stablecoins on both rails (USDC uses 6 decimals on Base and Solana).
const StablecoinDecimals = 6

// SchemeExact is the only payment scheme the client supports.
const SchemeExact = "exact"

// ResourceInfo describes the metered resource a challenge prices.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequirement is one accepted payment option inside a challenge.
type PaymentRequirement struct {
	// Scheme of the payment protocol (e.g. "exact").
	Scheme string `json:"scheme" validate:"required"`

	// Network is the settlement rail identifier (e.g. "base", "solana-mainnet").
	Network string `json:"network" validate:"required"`

	// Amount is the price in atomic units of the asset, as a base-10
	// integer string. Canonical field; servers on the v1 wire shape send
	// MaxAmountRequired instead and the codec normalizes it into Amount.
	Amount string `json:"amount,omitempty"`

	// MaxAmountRequired is the legacy name for Amount.
	MaxAmountRequired string `json:"maxAmountRequired,omitempty"`

	// Asset is the token contract address (EVM) or mint address (Solana).
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo" validate:"required"`

	// MaxTimeoutSeconds bounds the validity window of the signed payment.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// Extra carries rail-specific metadata. The Solana rail requires a
	// "feePayer" entry; EVM name/version entries are ignored since the
	// signing domain is pinned client-side.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequired is a decoded 402 challenge.
type PaymentRequired struct {
	X402Version int                  `json:"x402Version"`
	Error       string               `json:"error,omitempty"`
	Resource    *ResourceInfo        `json:"resource,omitempty"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// SignedPaymentPayload is the payment proof echoed back to the server.
// Payload holds EVMPayload or SVMPayload depending on the rail.
type SignedPaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepted    PaymentRequirement     `json:"accepted"`
	Payload     interface{}            `json:"payload"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// EVMPayload carries an EIP-3009 transfer authorization and its signature.
type EVMPayload struct {
	Signature     string           `json:"signature"`
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization mirrors the TransferWithAuthorization message fields.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SVMPayload carries a base64-encoded partially signed Solana transaction.
// The facilitator completes the fee-payer signature before submission.
type SVMPayload struct {
	Transaction string `json:"transaction"`
}

// SessionSpend is the per-client spend accumulator. It is derived
// bookkeeping; the chain is authoritative for actual settlement.
type SessionSpend struct {
	TotalSpentUSD float64 `json:"totalSpentUsd"`
	CallCount     int     `json:"callCount"`
}

// NormalizedAmount returns the canonical atomic amount string, falling back
// to the legacy field name when the canonical one is absent.
func (pr *PaymentRequirement) NormalizedAmount() string {
	if pr.Amount != "" {
		return pr.Amount
	}
	return pr.MaxAmountRequired
}

// AmountAtomic parses the requirement's amount as a non-negative integer.
func (pr *PaymentRequirement) AmountAtomic() (*big.Int, error) {
	raw := pr.NormalizedAmount()
	if raw == "" {
		return nil, fmt.Errorf("requirement has no amount")
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a base-10 integer", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", raw)
	}
	return v, nil
}

// AtomicToUSD converts an atomic stablecoin amount to its decimal USD value.
func AtomicToUSD(amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -StablecoinDecimals)
}

// Validate checks the structural invariants of a single requirement.
func (pr *PaymentRequirement) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("requirement.scheme is required")
	}
	if pr.Network == "" {
		return fmt.Errorf("requirement.network is required")
	}
	if pr.PayTo == "" {
		return fmt.Errorf("requirement.payTo is required")
	}
	if _, err := pr.AmountAtomic(); err != nil {
		return fmt.Errorf("requirement.amount: %w", err)
	}
	return nil
}
