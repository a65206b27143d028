package evmsign

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// ErrRecoveryFailed is returned when a signature does not recover to a
// public key (malformed or forged signature).
var ErrRecoveryFailed = errors.New("evmsign: signature recovery failed")

// Wallet is a local burner-wallet signer: a secp256k1 private key plus the
// derived Ethereum-style address. It implements toolctx.WalletProvider.
type Wallet struct {
	priv    *secp256k1.PrivateKey
	address string
}

// WalletFromHex builds a Wallet from a hex-encoded private key, with or
// without the 0x prefix.
func WalletFromHex(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("evmsign: decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("evmsign: private key must be 32 bytes, got %d", len(raw))
	}

	priv := secp256k1.PrivKeyFromBytes(raw)
	return &Wallet{
		priv:    priv,
		address: addressFromPubKey(priv.PubKey()),
	}, nil
}

func addressFromPubKey(pub *secp256k1.PublicKey) string {
	uncompressed := pub.SerializeUncompressed() // 0x04 || X(32) || Y(32)
	hash := Keccak256(uncompressed[1:])
	return "0x" + hex.EncodeToString(hash[12:])
}

// Address returns the wallet's lowercase 0x-prefixed Ethereum address.
func (w *Wallet) Address() string {
	return w.address
}

// Sign produces a 65-byte R||S||V signature over digest, V in {27, 28} per
// Ethereum's legacy recovery-id convention.
func (w *Wallet) Sign(digest [32]byte) ([]byte, error) {
	compact := ecdsa.SignCompact(w.priv, digest[:], false)
	if len(compact) != 65 {
		return nil, fmt.Errorf("evmsign: unexpected compact signature length %d", len(compact))
	}

	// decred's compact format is [recoveryByte, R(32), S(32)] with
	// recoveryByte = 27 + recid for an uncompressed key; Ethereum wants
	// [R(32), S(32), V] with V = 27 + recid, so just rotate the byte.
	out := make([]byte, 65)
	copy(out[0:64], compact[1:65])
	out[64] = compact[0]
	return out, nil
}

// RecoverAddress recovers the signer address from a 65-byte R||S||V
// signature over digest.
func RecoverAddress(digest [32]byte, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("evmsign: signature must be 65 bytes, got %d", len(sig))
	}

	compact := make([]byte, 65)
	compact[0] = sig[64]
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	return addressFromPubKey(pub), nil
}
