package x402

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/starkrun/agentcore/internal/evmsign"
)

// NonceFetcher fetches an ERC-20 EIP-2612 permit nonce for owner on the
// given token contract, over whatever RPC transport the caller wires in.
type NonceFetcher interface {
	FetchPermitNonce(ctx context.Context, network, tokenAddress, owner string) (*big.Int, error)
}

// SignPayment signs req according to its scheme ("permit" or "exact"/
// "eip3009"), returning the V2 X-PAYMENT envelope (spec.md §4.D step 5).
func SignPayment(ctx context.Context, wallet *evmsign.Wallet, nonces NonceFetcher, req PaymentRequirements, metadata TokenMetadata, now time.Time) (*PaymentPayloadV2, error) {
	value, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok {
		return nil, fmt.Errorf("x402: invalid maxAmountRequired %q", req.MaxAmountRequired)
	}

	domain := evmsign.Domain{
		Name:              metadata.Name,
		Version:           metadata.Version,
		ChainID:           metadata.ChainID,
		VerifyingContract: metadata.Address,
	}

	accepted := AcceptedPayment{
		Scheme:            req.Scheme,
		Network:           req.Network,
		Amount:            req.MaxAmountRequired,
		PayTo:             req.PayToAddress,
		MaxTimeoutSeconds: maxInt(req.MaxTimeoutSeconds, 60),
		Asset:             req.Asset,
	}

	switch req.Scheme {
	case "permit":
		return signPermitPayment(ctx, wallet, nonces, req, domain, value, accepted, now)
	case "exact", "eip3009":
		return signExactPayment(wallet, req, domain, value, accepted, now)
	default:
		return nil, fmt.Errorf("x402: unsupported payment scheme %q", req.Scheme)
	}
}

func signPermitPayment(ctx context.Context, wallet *evmsign.Wallet, nonces NonceFetcher, req PaymentRequirements, domain evmsign.Domain, value *big.Int, accepted AcceptedPayment, now time.Time) (*PaymentPayloadV2, error) {
	if req.Extra == nil || req.Extra.FacilitatorSigner == "" {
		return nil, fmt.Errorf("x402: permit scheme requires facilitatorSigner in extra")
	}
	spender := req.Extra.FacilitatorSigner

	nonce, err := nonces.FetchPermitNonce(ctx, req.Network, domain.VerifyingContract, wallet.Address())
	if err != nil {
		return nil, fmt.Errorf("x402: fetch permit nonce: %w", err)
	}

	sig, deadline, err := evmsign.SignPermit(wallet, domain, spender, value, nonce, now)
	if err != nil {
		return nil, err
	}

	return &PaymentPayloadV2{
		X402Version: X402Version,
		Accepted:    accepted,
		Payload: ExactEvmPayload{
			Signature: evmsign.SignatureHex(sig),
			Eip2612Authorization: &Eip2612Authorization{
				Owner:    wallet.Address(),
				Spender:  spender,
				Value:    req.MaxAmountRequired,
				Nonce:    nonce.String(),
				Deadline: deadline.String(),
			},
		},
	}, nil
}

func signExactPayment(wallet *evmsign.Wallet, req PaymentRequirements, domain evmsign.Domain, value *big.Int, accepted AcceptedPayment, now time.Time) (*PaymentPayloadV2, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("x402: generate transfer authorization nonce: %w", err)
	}

	sig, validBefore, err := evmsign.SignTransferWithAuthorization(wallet, domain, req.PayToAddress, value, nonce, now)
	if err != nil {
		return nil, err
	}

	return &PaymentPayloadV2{
		X402Version: X402Version,
		Accepted:    accepted,
		Payload: ExactEvmPayload{
			Signature: evmsign.SignatureHex(sig),
			Eip3009Authorization: &Eip3009Authorization{
				From:        wallet.Address(),
				To:          req.PayToAddress,
				Value:       req.MaxAmountRequired,
				ValidAfter:  "0",
				ValidBefore: validBefore.String(),
				Nonce:       evmsign.SignatureHex(nonce[:]),
			},
		},
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
