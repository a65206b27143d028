package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/starkrun/agentcore/internal/evmsign"
)

// Mode controls how the client negotiates payment for a 402 response
// (spec.md §4.D "Operating modes").
type Mode int

const (
	// Auto tries known ERC-8128 credit hosts first, falling back to x402.
	Auto Mode = iota
	// CreditsOnly requires ERC-8128 credits; a 402 is a hard failure.
	CreditsOnly
	// X402Only skips ERC-8128 entirely and always pays on-chain.
	X402Only
)

// ErrCreditsExhausted is returned in CreditsOnly mode when the ERC-8128
// signed request still comes back 402.
var ErrCreditsExhausted = errors.New("x402: credits exhausted")

// ErrNoPaymentOptions is returned when a 402 response's accepts list is
// empty.
var ErrNoPaymentOptions = errors.New("x402: no payment options in 402 response")

// TokenMetadataResolver resolves the ERC-20 metadata needed to build an
// EIP-712 domain for the asset a 402 response demands.
type TokenMetadataResolver interface {
	ResolveTokenMetadata(ctx context.Context, network, assetAddress string) (TokenMetadata, error)
}

// PaymentResult describes the outcome of a request that may have required
// payment.
type PaymentResult struct {
	Response  *http.Response
	Body      []byte
	Paid      bool
	Amount    string
	Asset     string
	PayTo     string
	TxHash    string
	Confirmed bool
}

// Client is an x402/ERC-8128-aware HTTP client (spec.md §4.D).
type Client struct {
	http     *http.Client
	wallet   *evmsign.Wallet
	erc8128  *Erc8128Signer
	tokens   TokenMetadataResolver
	nonces   NonceFetcher
	mode     Mode
	now      func() time.Time
	maxSpend map[string]*big.Int // asset address -> max amount (smallest unit)

	mu            sync.Mutex
	creditsHosts  map[string]bool
}

// Option configures a Client at construction.
type Option func(*Client)

// WithMode sets the payment mode.
func WithMode(m Mode) Option { return func(c *Client) { c.mode = m } }

// WithMaxSpend configures the per-asset payment-limit guard.
func WithMaxSpend(limits map[string]*big.Int) Option {
	return func(c *Client) { c.maxSpend = limits }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithHTTPClient overrides the underlying *http.Client (e.g. to point at an
// httptest.Server in tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a Client signing payments with wallet, resolving chain state
// through tokens/nonces.
func New(wallet *evmsign.Wallet, tokens TokenMetadataResolver, nonces NonceFetcher, chainID uint64, opts ...Option) *Client {
	c := &Client{
		http:         http.DefaultClient,
		wallet:       wallet,
		erc8128:      NewErc8128Signer(wallet, chainID),
		tokens:       tokens,
		nonces:       nonces,
		mode:         Auto,
		now:          time.Now,
		creditsHosts: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post performs the x402/ERC-8128 negotiation algorithm of spec.md §4.D for
// a JSON POST request.
func (c *Client) Post(ctx context.Context, rawURL string, body any) (*PaymentResult, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("x402: marshal request body: %w", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("x402: parse url: %w", err)
	}
	host := u.Host

	// Step 1: X402Only skips ERC-8128 entirely.
	if c.mode == X402Only {
		resp, respBody, err := c.send(ctx, rawURL, b, nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusPaymentRequired {
			return &PaymentResult{Response: resp, Body: respBody}, nil
		}
		return c.payAndRetry(ctx, rawURL, b, resp, respBody)
	}

	// Step 2: CreditsOnly or a known-credits host signs proactively.
	if c.mode == CreditsOnly || c.isCreditsHost(host) {
		headers, err := c.erc8128.SignRequest(http.MethodPost, rawURL, b)
		if err != nil {
			return nil, fmt.Errorf("x402: sign erc8128 request: %w", err)
		}
		resp, respBody, err := c.send(ctx, rawURL, b, headers)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusPaymentRequired {
			return &PaymentResult{Response: resp, Body: respBody}, nil
		}
		if c.mode == CreditsOnly {
			return nil, ErrCreditsExhausted
		}
		return c.payAndRetry(ctx, rawURL, b, resp, respBody)
	}

	// Step 3: send unsigned.
	resp, respBody, err := c.send(ctx, rawURL, b, nil)
	if err != nil {
		return nil, err
	}

	// Step 4: not a 402, we're done; a 402 advertising credits gets one
	// signed retry before falling through to x402 payment.
	if resp.StatusCode != http.StatusPaymentRequired {
		return &PaymentResult{Response: resp, Body: respBody}, nil
	}
	if resp.Header.Get("x-erc8128-credits") == "true" {
		c.markCreditsHost(host)
		headers, err := c.erc8128.SignRequest(http.MethodPost, rawURL, b)
		if err == nil {
			retryResp, retryBody, sendErr := c.send(ctx, rawURL, b, headers)
			if sendErr == nil {
				if retryResp.StatusCode != http.StatusPaymentRequired {
					return &PaymentResult{Response: retryResp, Body: retryBody}, nil
				}
				if c.mode == CreditsOnly {
					return nil, ErrCreditsExhausted
				}
				resp, respBody = retryResp, retryBody
			}
		}
	}

	// Step 5: pay on-chain and retry.
	return c.payAndRetry(ctx, rawURL, b, resp, respBody)
}

func (c *Client) send(ctx context.Context, rawURL string, body []byte, headers *SignedRequest) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("x402: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers != nil {
		req.Header.Set("signature-input", headers.SignatureInput)
		req.Header.Set("signature", headers.Signature)
		req.Header.Set("content-digest", headers.ContentDigest)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("x402: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("x402: read response body: %w", err)
	}
	return resp, respBody, nil
}

func (c *Client) payAndRetry(ctx context.Context, rawURL string, originalBody []byte, resp *http.Response, respBody []byte) (*PaymentResult, error) {
	paymentRequired, err := c.parsePaymentRequired(resp, respBody)
	if err != nil {
		return nil, err
	}
	if len(paymentRequired.Accepts) == 0 {
		return nil, ErrNoPaymentOptions
	}
	requirements := paymentRequired.Accepts[0]

	amount, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return nil, fmt.Errorf("x402: invalid maxAmountRequired %q", requirements.MaxAmountRequired)
	}
	if limit, ok := c.maxSpend[requirements.Asset]; ok && amount.Cmp(limit) > 0 {
		return nil, fmt.Errorf("x402: payment of %s exceeds configured limit for asset %s", amount, requirements.Asset)
	}

	metadata, err := c.tokens.ResolveTokenMetadata(ctx, requirements.Network, requirements.Asset)
	if err != nil {
		return nil, fmt.Errorf("x402: resolve token metadata: %w", err)
	}

	payload, err := SignPayment(ctx, c.wallet, c.nonces, requirements, metadata, c.now())
	if err != nil {
		return nil, fmt.Errorf("x402: sign payment: %w", err)
	}
	headerValue, err := payload.ToBase64()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(originalBody))
	if err != nil {
		return nil, fmt.Errorf("x402: build paid request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PAYMENT", headerValue)

	paidResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("x402: paid request failed: %w", err)
	}
	defer paidResp.Body.Close()
	paidBody, err := io.ReadAll(paidResp.Body)
	if err != nil {
		return nil, fmt.Errorf("x402: read paid response body: %w", err)
	}

	result := &PaymentResult{
		Response: paidResp,
		Body:     paidBody,
		Paid:     true,
		Amount:   requirements.MaxAmountRequired,
		Asset:    requirements.Asset,
		PayTo:    requirements.PayToAddress,
	}
	for _, h := range txHashHeaders {
		if v := paidResp.Header.Get(h); v != "" {
			result.TxHash = v
			break
		}
	}
	if result.TxHash == "" && paidResp.StatusCode >= 200 && paidResp.StatusCode < 300 {
		result.Confirmed = true
	}
	return result, nil
}

func (c *Client) parsePaymentRequired(resp *http.Response, body []byte) (*PaymentRequired, error) {
	if header := resp.Header.Get("payment-required"); header != "" {
		return ParsePaymentRequiredHeader(header)
	}
	return ParsePaymentRequiredBody(body)
}

func (c *Client) isCreditsHost(host string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creditsHosts[host]
}

func (c *Client) markCreditsHost(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creditsHosts[host] = true
}
