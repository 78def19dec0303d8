// Package blockrun is a Go client for the BlockRun pay-per-request API.
// It drives the x402 payment-required cycle: issue a request, decode the
// 402 challenge, sign a chain-specific payment proof on the configured
// settlement rail, and retry the request exactly once with the proof
// attached.
package blockrun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blockrunai/blockrun-go/clients"
	"github.com/blockrunai/blockrun-go/codec"
	"github.com/blockrunai/blockrun-go/logger"
	"github.com/blockrunai/blockrun-go/metrics"
	"github.com/blockrunai/blockrun-go/types"
	"github.com/blockrunai/blockrun-go/utils"
)

const (
	// DefaultBaseURL is the BlockRun API origin.
	DefaultBaseURL = "https://blockrun.ai/api"

	// DefaultTimeout bounds every network call in a payment cycle.
	DefaultTimeout = 30 * time.Second

	// ChallengeHeader carries the base64 challenge on a 402 response.
	ChallengeHeader = "payment-required"

	// PaymentHeader carries the base64 signed payment proof on the retry.
	PaymentHeader = "PAYMENT-SIGNATURE"
)

// Client is a payment-capable HTTP client bound to one settlement rail.
// It is safe for concurrent use; the session spend accumulator is the only
// shared mutable state.
type Client struct {
	httpClient *http.Client
	baseURL    string
	builder    clients.PaymentBuilder
	preferred  types.Network
	timeout    time.Duration
	logger     logger.Logger
	metrics    metrics.Recorder

	spend spendTracker

	models modelCache
}

// New creates a client around a payment builder. Most callers use
// NewEVMClient or NewSolanaClient instead.
func New(builder clients.PaymentBuilder, opts ...Option) (*Client, error) {
	if builder == nil {
		return nil, types.NewError(types.ErrConfigError, "payment builder is required", nil)
	}

	c := &Client{
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
		builder:    builder,
		preferred:  builder.Network(),
		timeout:    DefaultTimeout,
		logger:     logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
	}

	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	return c, nil
}

// NewEVMClient creates a client paying on the Base USDC rail. The key is
// expected fully resolved; the library never reads the environment.
func NewEVMClient(privateKeyHex string, opts ...Option) (*Client, error) {
	builder, err := clients.NewEVMBuilder(types.NetworkBase, privateKeyHex)
	if err != nil {
		return nil, err
	}
	return New(builder, opts...)
}

// NewSolanaClient creates a client paying on the Solana USDC rail with a
// facilitator-sponsored fee payer.
func NewSolanaClient(secretKey []byte, rpcURL string, opts ...Option) (*Client, error) {
	builder, err := clients.NewSolanaBuilder(types.NetworkSolanaMainnet, secretKey, rpcURL)
	if err != nil {
		return nil, err
	}
	return New(builder, opts...)
}

// PayAndSend POSTs body to endpoint, paying a 402 challenge if one comes
// back. The body may be any JSON-marshalable value. On success it returns
// the raw JSON response body.
func (c *Client) PayAndSend(ctx context.Context, endpoint string, body interface{}) (json.RawMessage, error) {
	return c.payCycle(ctx, http.MethodPost, endpoint, body)
}

// Get runs the same payment cycle for a GET request.
func (c *Client) Get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	return c.payCycle(ctx, http.MethodGet, endpoint, nil)
}

// SessionSpend reports the accumulated spend for this client instance.
func (c *Client) SessionSpend() types.SessionSpend {
	return c.spend.snapshot()
}

// payCycle is the request -> 402 -> pay -> retry state machine. It makes
// at most two HTTP attempts per logical request and never pays twice.
func (c *Client) payCycle(ctx context.Context, method, endpoint string, body interface{}) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	url := c.baseURL + endpoint
	network := c.builder.Network().String()
	started := time.Now()
	defer func() {
		c.metrics.ObserveLatency("pay_cycle", time.Since(started), map[string]string{"network": network})
	}()

	status, respBody, header, err := c.do(ctx, method, url, payload, "")
	if err != nil {
		return nil, err
	}

	if status != http.StatusPaymentRequired {
		return c.finishUnpaid(status, respBody)
	}

	challenge, err := codec.DecodeChallenge(header.Get(ChallengeHeader), respBody)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("received payment challenge", map[string]any{
		"url":     url,
		"options": len(challenge.Accepts),
	})

	req, err := codec.SelectRequirement(challenge, c.preferred.String())
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateAddressForNetwork(req.PayTo, req.Network); err != nil {
		return nil, types.NewError(types.ErrNoPaymentOption, "challenge payTo address is invalid", err)
	}

	signed, err := c.buildPayment(ctx, challenge, req, url)
	if err != nil {
		return nil, err
	}
	paymentHeader, err := codec.EncodePayload(signed)
	if err != nil {
		return nil, types.NewError(types.ErrSigningFailed, "encode signed payload", err)
	}

	c.metrics.IncCounter("payment_attempt", map[string]string{"network": network})
	status, respBody, _, err = c.do(ctx, method, url, payload, paymentHeader)
	if err != nil {
		c.metrics.IncCounter("payment_failure", map[string]string{"network": network})
		return nil, err
	}

	// A second 402 means the facilitator rejected the proof. Paying again
	// with fresh inputs would loop, so this is terminal.
	if status == http.StatusPaymentRequired {
		c.metrics.IncCounter("payment_rejected", map[string]string{"network": network})
		message, code := utils.SanitizeErrorBody(respBody)
		return nil, &types.X402Error{
			Code:       types.ErrPaymentRejected,
			Message:    rejectionMessage(message, code),
			StatusCode: status,
		}
	}

	if status < 200 || status > 299 {
		c.metrics.IncCounter("payment_failure", map[string]string{"network": network})
		return nil, apiError(status, respBody)
	}

	amount, err := req.AmountAtomic()
	if err == nil {
		usd := types.AtomicToUSD(amount)
		c.spend.record(usd)
		c.metrics.AddSpend(usd.InexactFloat64(), map[string]string{"network": network})
	}
	c.metrics.IncCounter("payment_success", map[string]string{"network": network})
	c.logger.Info("paid request succeeded", map[string]any{
		"url":     url,
		"network": req.Network,
		"amount":  req.Amount,
	})

	return json.RawMessage(respBody), nil
}

// buildPayment binds the challenge's resource URL to the API origin and
// hands the requirement to the rail's builder. The builder runs under the
// client timeout; the Solana builder makes RPC calls of its own.
func (c *Client) buildPayment(ctx context.Context, challenge *types.PaymentRequired, req *types.PaymentRequirement, requestURL string) (*types.SignedPaymentPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resource := &types.ResourceInfo{URL: requestURL}
	if challenge.Resource != nil {
		bounded, clamped := utils.BoundResourceURL(challenge.Resource.URL, c.baseURL)
		if clamped {
			c.logger.Warn("challenge resource URL did not match API origin, clamped", map[string]any{
				"declared": challenge.Resource.URL,
				"bound":    bounded,
			})
		}
		resource = &types.ResourceInfo{
			URL:         bounded,
			Description: challenge.Resource.Description,
			MimeType:    challenge.Resource.MimeType,
		}
	}

	signed, err := c.builder.Build(ctx, req, clients.BuildOptions{Resource: resource})
	if err != nil {
		return nil, c.asTimeout(err)
	}
	return signed, nil
}

// finishUnpaid handles the first response when no challenge was issued.
func (c *Client) finishUnpaid(status int, body []byte) (json.RawMessage, error) {
	if status >= 200 && status <= 299 {
		return json.RawMessage(body), nil
	}
	return nil, apiError(status, body)
}

// do performs one HTTP attempt under the client timeout.
func (c *Client) do(ctx context.Context, method, url string, body []byte, paymentHeader string) (int, []byte, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if paymentHeader != "" {
		req.Header.Set(PaymentHeader, paymentHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, c.asTimeout(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, c.asTimeout(err)
	}
	return resp.StatusCode, respBody, resp.Header, nil
}

// asTimeout maps deadline expiry onto the TIMEOUT error kind; other
// transport failures propagate untouched (and unretried).
func (c *Client) asTimeout(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return types.NewError(types.ErrTimeout, "request exceeded the configured timeout", err)
	}
	return err
}

func apiError(status int, body []byte) error {
	message, code := utils.SanitizeErrorBody(body)
	return &types.X402Error{
		Code:       types.ErrAPIError,
		Message:    rejectionMessage(message, code),
		StatusCode: status,
	}
}

func rejectionMessage(message, code string) string {
	if code != "" {
		return message + " (" + code + ")"
	}
	return message
}

// spendTracker is the session spend accumulator. Updates happen after a
// retried request succeeds and nowhere else; reads get a consistent pair.
type spendTracker struct {
	mu    sync.Mutex
	total decimal.Decimal
	count int
}

func (s *spendTracker) record(usd decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = s.total.Add(usd)
	s.count++
}

func (s *spendTracker) snapshot() types.SessionSpend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SessionSpend{
		TotalSpentUSD: s.total.InexactFloat64(),
		CallCount:     s.count,
	}
}
