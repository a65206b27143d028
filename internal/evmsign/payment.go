package evmsign

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// PermitDeadlineWindow is how long a signed Permit authorization remains
// valid, mirroring the original signer's one-hour window.
const PermitDeadlineWindow = time.Hour

// SignPermit signs an EIP-2612 Permit authorizing spender to move value of
// a token from the wallet's own address, returning the 65-byte signature
// and the deadline unix timestamp used.
func SignPermit(w *Wallet, domain Domain, spender string, value, nonce *big.Int, now time.Time) (sig []byte, deadline *big.Int, err error) {
	deadline = big.NewInt(now.Add(PermitDeadlineWindow).Unix())

	msg := PermitMessage{
		Owner:    w.Address(),
		Spender:  spender,
		Value:    value,
		Nonce:    nonce,
		Deadline: deadline,
	}
	digest, err := typedDataDigestFor(domain, msg.StructHash)
	if err != nil {
		return nil, nil, err
	}

	sig, err = w.Sign(digest)
	if err != nil {
		return nil, nil, fmt.Errorf("evmsign: sign permit: %w", err)
	}
	return sig, deadline, nil
}

// SignTransferWithAuthorization signs an EIP-3009 TransferWithAuthorization
// moving value from the wallet's own address to to, valid for the next
// PermitDeadlineWindow. nonce must be 32 cryptographically random bytes.
func SignTransferWithAuthorization(w *Wallet, domain Domain, to string, value *big.Int, nonce [32]byte, now time.Time) (sig []byte, validBefore *big.Int, err error) {
	validBefore = big.NewInt(now.Add(PermitDeadlineWindow).Unix())

	msg := TransferWithAuthorizationMessage{
		From:        w.Address(),
		To:          to,
		Value:       value,
		ValidAfter:  big.NewInt(0),
		ValidBefore: validBefore,
		Nonce:       nonce,
	}
	digest, err := typedDataDigestFor(domain, msg.StructHash)
	if err != nil {
		return nil, nil, err
	}

	sig, err = w.Sign(digest)
	if err != nil {
		return nil, nil, fmt.Errorf("evmsign: sign transfer authorization: %w", err)
	}
	return sig, validBefore, nil
}

func typedDataDigestFor(domain Domain, structHashFn func() ([32]byte, error)) ([32]byte, error) {
	separator, err := domain.Separator()
	if err != nil {
		return [32]byte{}, fmt.Errorf("evmsign: domain separator: %w", err)
	}
	structHash, err := structHashFn()
	if err != nil {
		return [32]byte{}, fmt.Errorf("evmsign: struct hash: %w", err)
	}
	return TypedDataDigest(separator, structHash), nil
}

// SignatureHex hex-encodes a signature with a 0x prefix, the wire format
// x402 facilitators expect.
func SignatureHex(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}
