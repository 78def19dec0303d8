package blockrun

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockrunai/blockrun-go/clients"
	"github.com/blockrunai/blockrun-go/codec"
	"github.com/blockrunai/blockrun-go/types"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func evmChallenge(resourceURL string) *types.PaymentRequired {
	challenge := &types.PaymentRequired{
		X402Version: 1,
		Accepts: []types.PaymentRequirement{{
			Scheme:            "exact",
			Network:           "base",
			Amount:            "1000000",
			Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			PayTo:             "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
			MaxTimeoutSeconds: 60,
		}},
	}
	if resourceURL != "" {
		challenge.Resource = &types.ResourceInfo{URL: resourceURL, MimeType: "application/json"}
	}
	return challenge
}

// paidServer issues a 402 challenge until a payment header arrives, then
// serves the response. It records every signed payload it sees.
type paidServer struct {
	t         *testing.T
	challenge *types.PaymentRequired
	requests  atomic.Int32

	mu       sync.Mutex
	payloads []types.SignedPaymentPayload
}

func (s *paidServer) handler(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)

	header := r.Header.Get(PaymentHeader)
	if header == "" {
		encoded, err := codec.EncodeChallenge(s.challenge)
		require.NoError(s.t, err)
		w.Header().Set(ChallengeHeader, encoded)
		w.WriteHeader(http.StatusPaymentRequired)
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	require.NoError(s.t, err)
	var payload types.SignedPaymentPayload
	require.NoError(s.t, json.Unmarshal(decoded, &payload))
	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"reply":"hello"}`))
}

func newEVMTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBaseURL(baseURL)}, opts...)
	client, err := NewEVMClient(testKeyHex, opts...)
	require.NoError(t, err)
	return client
}

func TestPayAndSendHappyPath(t *testing.T) {
	backend := &paidServer{t: t, challenge: evmChallenge("")}
	srv := httptest.NewServer(http.HandlerFunc(backend.handler))
	defer srv.Close()

	client := newEVMTestClient(t, srv.URL)

	raw, err := client.PayAndSend(context.Background(), "/v1/chat/completions", map[string]string{"model": "llama-3"})
	require.NoError(t, err)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "hello", resp["reply"])

	assert.Equal(t, int32(2), backend.requests.Load(), "one challenge, one paid retry")

	spend := client.SessionSpend()
	assert.Equal(t, 1.0, spend.TotalSpentUSD)
	assert.Equal(t, 1, spend.CallCount)

	require.Len(t, backend.payloads, 1)
	payload := backend.payloads[0]
	assert.Equal(t, 1, payload.X402Version)
	assert.Equal(t, "base", payload.Accepted.Network)
	assert.Equal(t, "1000000", payload.Accepted.Amount)
}

func TestPayAndSendClampsForeignResourceURL(t *testing.T) {
	backend := &paidServer{t: t, challenge: evmChallenge("https://evil.example/x")}
	srv := httptest.NewServer(http.HandlerFunc(backend.handler))
	defer srv.Close()

	client := newEVMTestClient(t, srv.URL)
	_, err := client.PayAndSend(context.Background(), "/v1/chat/completions", map[string]string{"model": "llama-3"})
	require.NoError(t, err)

	require.Len(t, backend.payloads, 1)
	require.NotNil(t, backend.payloads[0].Resource)
	assert.Equal(t, srv.URL, backend.payloads[0].Resource.URL,
		"foreign resource URL must be clamped before signing")
}

func TestPayAndSendPaymentRejected(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		encoded, err := codec.EncodeChallenge(evmChallenge(""))
		require.NoError(t, err)
		w.Header().Set(ChallengeHeader, encoded)
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":"insufficient balance"}`))
	}))
	defer srv.Close()

	client := newEVMTestClient(t, srv.URL)
	_, err := client.PayAndSend(context.Background(), "/v1/chat/completions", map[string]string{"model": "llama-3"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrPaymentRejected))

	var xe *types.X402Error
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, http.StatusPaymentRequired, xe.StatusCode)
	assert.Contains(t, xe.Message, "insufficient balance")

	assert.Equal(t, int32(2), requests.Load(), "a rejected payment must not trigger a third attempt")
	assert.Zero(t, client.SessionSpend().CallCount)
}

func TestPayAndSendAPIErrorIsSanitized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"upstream exploded","code":"e500","secret":"sk_live_x","stack":"trace"}`))
	}))
	defer srv.Close()

	client := newEVMTestClient(t, srv.URL)
	_, err := client.PayAndSend(context.Background(), "/v1/chat/completions", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrAPIError))

	var xe *types.X402Error
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, http.StatusInternalServerError, xe.StatusCode)
	assert.Contains(t, xe.Message, "upstream exploded")
	assert.Contains(t, xe.Message, "e500")
	assert.NotContains(t, xe.Error(), "sk_live_x")
	assert.NotContains(t, xe.Error(), "trace")
}

func TestPayAndSendNoChallengeFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	client := newEVMTestClient(t, srv.URL)
	_, err := client.PayAndSend(context.Background(), "/v1/chat/completions", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNoChallengeFound))
}

func TestPayAndSendWithoutChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reply":"free"}`))
	}))
	defer srv.Close()

	client := newEVMTestClient(t, srv.URL)
	raw, err := client.PayAndSend(context.Background(), "/v1/chat/completions", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reply":"free"}`, string(raw))
	assert.Zero(t, client.SessionSpend().CallCount, "unpaid requests do not count as spend")
}

func TestPayAndSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	client := newEVMTestClient(t, srv.URL, WithTimeout(50*time.Millisecond))
	_, err := client.PayAndSend(context.Background(), "/v1/chat/completions", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrTimeout))
}

// stalledSolanaRPC blocks every call until the caller's context expires.
type stalledSolanaRPC struct{}

func (stalledSolanaRPC) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledSolanaRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPayAndSendBuilderRPCHonorsTimeout(t *testing.T) {
	challenge := &types.PaymentRequired{
		X402Version: 1,
		Accepts: []types.PaymentRequirement{{
			Scheme:            "exact",
			Network:           "solana-mainnet",
			Amount:            "1000000",
			Asset:             "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			PayTo:             "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
			MaxTimeoutSeconds: 60,
			Extra: map[string]interface{}{
				"feePayer": "9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde",
			},
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoded, err := codec.EncodeChallenge(challenge)
		require.NoError(t, err)
		w.Header().Set(ChallengeHeader, encoded)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	wallet := solana.NewWallet()
	builder, err := clients.NewSolanaBuilder(types.NetworkSolanaMainnet, []byte(wallet.PrivateKey), "http://127.0.0.1:8899")
	require.NoError(t, err)
	builder.WithRPC(stalledSolanaRPC{})

	client, err := New(builder, WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	started := time.Now()
	_, err = client.PayAndSend(context.Background(), "/v1/chat/completions", nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrTimeout), "stalled builder RPC must surface as a timeout, got %v", err)
	assert.Less(t, time.Since(started), 2*time.Second, "cycle must abort at the configured deadline")
}

func TestSessionSpendConcurrentUpdates(t *testing.T) {
	backend := &paidServer{t: t, challenge: evmChallenge("")}
	srv := httptest.NewServer(http.HandlerFunc(backend.handler))
	defer srv.Close()

	client := newEVMTestClient(t, srv.URL)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.PayAndSend(context.Background(), "/v1/chat/completions", map[string]string{"model": "llama-3"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	spend := client.SessionSpend()
	assert.Equal(t, n, spend.CallCount)
	assert.Equal(t, float64(n), spend.TotalSpentUSD)
}

func TestModelsSingleFlight(t *testing.T) {
	var listings atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != modelsEndpoint {
			http.NotFound(w, r)
			return
		}
		listings.Add(1)
		time.Sleep(50 * time.Millisecond) // hold the flight open for concurrent callers
		w.Write([]byte(`{"data":[{"id":"llama-3","pricing":{"prompt":"0.0000002"}}]}`))
	}))
	defer srv.Close()

	client := newEVMTestClient(t, srv.URL)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			models, err := client.Models(context.Background())
			assert.NoError(t, err)
			assert.Len(t, models, 1)
		}()
	}
	close(start)
	wg.Wait()

	// Cached result serves later calls too.
	models, err := client.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama-3", models[0].ID)
	require.NotNil(t, models[0].Pricing)
	assert.Equal(t, "0.0000002", models[0].Pricing.Prompt)

	assert.Equal(t, int32(1), listings.Load(), "listing must be fetched once per client")
}
