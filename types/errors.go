package types

import "errors"

// Error codes surfaced by the payment cycle. Every failure path of
// PayAndSend carries one of these so callers can branch programmatically.
const (
	// ErrMalformedChallenge covers parse failures: bad base64, invalid
	// JSON. ErrInvalidChallengeStructure covers well-formed JSON that
	// violates the challenge invariants (missing version, empty accepts);
	// the two are separate so callers can branch on them.
	ErrMalformedChallenge        = "MALFORMED_CHALLENGE"
	ErrInvalidChallengeStructure = "INVALID_CHALLENGE_STRUCTURE"
	ErrNoChallengeFound          = "NO_CHALLENGE_FOUND"
	ErrNoPaymentOption           = "NO_PAYMENT_OPTION"
	ErrWrongRail                 = "WRONG_RAIL"
	ErrMissingFeePayer           = "MISSING_FEE_PAYER"
	ErrSigningFailed             = "SIGNING_FAILED"
	ErrPaymentRejected           = "PAYMENT_REJECTED"
	ErrAPIError                  = "API_ERROR"
	ErrTimeout                   = "TIMEOUT"
	ErrConfigError               = "CONFIG_ERROR"
)

// X402Error is the typed error for all payment-cycle failures.
type X402Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// StatusCode is set for API_ERROR and PAYMENT_REJECTED.
	StatusCode int `json:"statusCode,omitempty"`

	// Err is the underlying cause, if any. Never contains raw server
	// bodies; those pass through the sanitizer first.
	Err error `json:"-"`
}

func (e *X402Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *X402Error) Unwrap() error {
	return e.Err
}

// NewError builds an X402Error with the given code and message.
func NewError(code, message string, err error) *X402Error {
	return &X402Error{Code: code, Message: message, Err: err}
}

// IsCode reports whether err is an X402Error carrying the given code.
func IsCode(err error, code string) bool {
	var xe *X402Error
	if errors.As(err, &xe) {
		return xe.Code == code
	}
	return false
}
