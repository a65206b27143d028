package x402

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/starkrun/agentcore/internal/evmsign"
)

// Erc8128Signer signs outgoing requests per RFC 9421 (HTTP Message
// Signatures), using the same secp256k1 wallet identity as x402 payment
// signing — the ERC-8128 "credits" fast path authenticates the caller by
// wallet address instead of by on-chain payment.
//
// (expansion, no original_source/erc8128.rs was retrieved; grounded on
// spec.md §6's wire-format description and client.rs's
// Erc8128Signer.sign_request call shape.)
type Erc8128Signer struct {
	wallet  *evmsign.Wallet
	chainID uint64
}

// NewErc8128Signer creates a signer identified by wallet's address.
func NewErc8128Signer(wallet *evmsign.Wallet, chainID uint64) *Erc8128Signer {
	return &Erc8128Signer{wallet: wallet, chainID: chainID}
}

// SignedRequest is the set of headers to attach to an outgoing request.
type SignedRequest struct {
	SignatureInput string
	Signature      string
	ContentDigest  string
}

// SignRequest builds the RFC 9421 signature base over
// (@method, @authority, @path, @query, content-digest) and signs its
// Keccak-256 digest with the wallet's secp256k1 key.
func (s *Erc8128Signer) SignRequest(method, rawURL string, body []byte) (*SignedRequest, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("x402: parse url for erc8128 signing: %w", err)
	}

	digestSum := sha256.Sum256(body)
	contentDigest := "sha-256=:" + base64.StdEncoding.EncodeToString(digestSum[:]) + ":"

	components := []string{"@method", "@authority", "@path", "@query", "content-digest"}
	var base strings.Builder
	for _, c := range components {
		var value string
		switch c {
		case "@method":
			value = strings.ToUpper(method)
		case "@authority":
			value = u.Host
		case "@path":
			value = u.Path
		case "@query":
			value = u.RawQuery
		case "content-digest":
			value = contentDigest
		}
		fmt.Fprintf(&base, "\"%s\": %s\n", c, value)
	}
	fmt.Fprintf(&base, "\"@signature-params\": (%s);created=0;keyid=\"%s\"",
		joinQuoted(components), s.wallet.Address())

	digest := evmsign.Keccak256([]byte(base.String()))
	sig, err := s.wallet.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("x402: sign erc8128 request: %w", err)
	}

	signatureInput := fmt.Sprintf("sig1=(%s);created=0;keyid=\"%s\"", joinQuoted(components), s.wallet.Address())
	signature := fmt.Sprintf("sig1=:%s:", base64.StdEncoding.EncodeToString(sig))

	return &SignedRequest{
		SignatureInput: signatureInput,
		Signature:      signature,
		ContentDigest:  contentDigest,
	}, nil
}

func joinQuoted(components []string) string {
	quoted := make([]string, len(components))
	for i, c := range components {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	return strings.Join(quoted, " ")
}
