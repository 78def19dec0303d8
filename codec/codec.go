// Package codec decodes and encodes the x402 wire envelopes: the
// base64+JSON payment-required challenge and the signed-payment payload.
// All field-name and placement tolerance lives here; the rest of the
// client only ever sees the canonical shapes in types.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/blockrunai/blockrun-go/types"
)

var validate = validator.New()

// DecodeChallenge parses a 402 challenge. headerValue is the raw
// payment-required response header (base64 JSON) and body is the response
// body, tried as plain JSON when the header is absent. The body fallback is
// a compatibility heuristic for deployments that return the challenge with
// no header; an unrelated error body that happens to parse is filtered out
// by the structural checks below. Parse failures carry
// MALFORMED_CHALLENGE; structural violations carry
// INVALID_CHALLENGE_STRUCTURE.
func DecodeChallenge(headerValue string, body []byte) (*types.PaymentRequired, error) {
	if headerValue != "" {
		decoded, err := base64.StdEncoding.DecodeString(headerValue)
		if err != nil {
			return nil, types.NewError(types.ErrMalformedChallenge,
				"payment-required header is not valid base64", err)
		}
		return parseChallenge(decoded)
	}

	if len(body) == 0 {
		return nil, types.NewError(types.ErrNoChallengeFound,
			"402 response carries no payment-required header and an empty body", nil)
	}
	return parseChallenge(body)
}

func parseChallenge(data []byte) (*types.PaymentRequired, error) {
	var challenge types.PaymentRequired
	if err := json.Unmarshal(data, &challenge); err != nil {
		return nil, types.NewError(types.ErrMalformedChallenge,
			"challenge is not valid JSON", err)
	}
	if challenge.X402Version <= 0 {
		return nil, types.NewError(types.ErrInvalidChallengeStructure,
			"challenge is missing x402Version", nil)
	}
	if len(challenge.Accepts) == 0 {
		return nil, types.NewError(types.ErrInvalidChallengeStructure,
			"challenge accepts list is empty", nil)
	}
	return &challenge, nil
}

// SelectRequirement picks a payment option from the challenge. When
// preferredNetwork is non-empty and an accepts entry matches it exactly,
// that entry wins; otherwise the first entry does. The returned requirement
// is normalized: Amount always holds the atomic amount and
// MaxTimeoutSeconds is defaulted when absent.
func SelectRequirement(challenge *types.PaymentRequired, preferredNetwork string) (*types.PaymentRequirement, error) {
	if challenge == nil || len(challenge.Accepts) == 0 {
		return nil, types.NewError(types.ErrNoPaymentOption,
			"challenge has no payment options", nil)
	}

	selected := challenge.Accepts[0]
	if preferredNetwork != "" {
		for _, req := range challenge.Accepts {
			if req.Network == preferredNetwork {
				selected = req
				break
			}
		}
	}

	if err := validate.Struct(&selected); err != nil {
		return nil, types.NewError(types.ErrNoPaymentOption,
			fmt.Sprintf("selected payment option is invalid: %v", err), nil)
	}

	amount, err := selected.AmountAtomic()
	if err != nil {
		return nil, types.NewError(types.ErrNoPaymentOption,
			"selected payment option has no usable amount", err)
	}
	selected.Amount = amount.String()
	selected.MaxAmountRequired = ""

	if selected.MaxTimeoutSeconds <= 0 {
		selected.MaxTimeoutSeconds = types.DefaultMaxTimeoutSeconds
	}
	return &selected, nil
}

// EncodePayload serializes a signed payment payload for the
// PAYMENT-SIGNATURE request header: JSON, then standard base64.
func EncodePayload(payload *types.SignedPaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal signed payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeChallenge is the inverse of DecodeChallenge's header path. It is
// used by tests and by servers embedding this package.
func EncodeChallenge(challenge *types.PaymentRequired) (string, error) {
	data, err := json.Marshal(challenge)
	if err != nil {
		return "", fmt.Errorf("marshal challenge: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
