// Package x402 implements the x402 / ERC-8128 payment-aware HTTP client:
// automatic 402 Payment Required negotiation with on-chain EIP-2612/EIP-3009
// signing, and an ERC-8128 signed-request fast path for repeat callers with
// standing credit.
//
// Grounded on original_source/stark-backend/src/x402/client.rs and
// signer.rs, simplified to spec.md §4.D's exact 5-step algorithm rather than
// the original's more elaborate proactive-retry branching.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// PaymentRequirementsExtra carries scheme-specific out-of-band fields a
// facilitator attaches to its 402 response.
type PaymentRequirementsExtra struct {
	FacilitatorSigner string `json:"facilitatorSigner,omitempty"`
}

// PaymentRequirements is one entry in a 402 response's "accepts" list.
type PaymentRequirements struct {
	Scheme             string                    `json:"scheme"`
	Network            string                    `json:"network"`
	MaxAmountRequired  string                    `json:"maxAmountRequired"`
	Asset              string                    `json:"asset"`
	PayToAddress       string                    `json:"payToAddress"`
	MaxTimeoutSeconds  int                       `json:"maxTimeoutSeconds"`
	Extra              *PaymentRequirementsExtra `json:"extra,omitempty"`
}

// PaymentRequired is the body (or base64url-decoded `payment-required`
// header) of a 402 response.
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Accepts     []PaymentRequirements  `json:"accepts"`
}

// ParsePaymentRequiredHeader base64-decodes and unmarshals the
// `payment-required` response header.
func ParsePaymentRequiredHeader(header string) (*PaymentRequired, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("x402: decode payment-required header: %w", err)
	}
	var pr PaymentRequired
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("x402: unmarshal payment-required: %w", err)
	}
	return &pr, nil
}

// ParsePaymentRequiredBody unmarshals a 402 response body directly as JSON,
// used when the payment-required header is absent.
func ParsePaymentRequiredBody(body []byte) (*PaymentRequired, error) {
	var pr PaymentRequired
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("x402: unmarshal 402 body: %w", err)
	}
	return &pr, nil
}

// TokenMetadata is the ERC-20 metadata needed to build an EIP-712 domain for
// a payment asset.
type TokenMetadata struct {
	Address string
	Name    string
	Version string
	ChainID uint64
}

// Eip2612Authorization is the wire encoding of a signed Permit.
type Eip2612Authorization struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"`
	Nonce    string `json:"nonce"`
	Deadline string `json:"deadline"`
}

// Eip3009Authorization is the wire encoding of a signed
// TransferWithAuthorization.
type Eip3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEvmPayload carries the signature and scheme-specific authorization.
type ExactEvmPayload struct {
	Signature            string                `json:"signature"`
	Eip2612Authorization *Eip2612Authorization `json:"eip2612Authorization,omitempty"`
	Eip3009Authorization *Eip3009Authorization `json:"eip3009Authorization,omitempty"`
}

// AcceptedPayment mirrors the matched PaymentRequirements entry in the V2
// envelope.
type AcceptedPayment struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Amount            string `json:"amount"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Asset             string `json:"asset"`
}

// PaymentPayloadV2 is the X-PAYMENT header's base64 JSON envelope.
type PaymentPayloadV2 struct {
	X402Version int             `json:"x402Version"`
	Accepted    AcceptedPayment `json:"accepted"`
	Payload     ExactEvmPayload `json:"payload"`
}

// X402Version is the only payload version this client emits.
const X402Version = 1

// ToBase64 JSON-encodes and base64-encodes the payload for the X-PAYMENT
// header.
func (p PaymentPayloadV2) ToBase64() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("x402: marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// tx hash response headers, in priority order, that a successful payment may
// report its on-chain settlement hash through.
var txHashHeaders = []string{
	"x-payment-transaction",
	"X-Payment-Transaction",
	"x-transaction-hash",
	"X-Transaction-Hash",
	"x-payment-tx",
	"X-Payment-Tx",
}
