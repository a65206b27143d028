// Package evmsign implements the EVM-adjacent cryptographic primitives the
// transaction queue and x402 client need: Keccak256 hashing, secp256k1
// signing/recovery over a burner wallet's private key, EIP-712 typed-data
// digests for Permit/TransferWithAuthorization, and EIP-1559 transaction
// RLP encoding.
//
// Grounded on original_source/stark-backend/src/x402/signer.rs (the ethers-rs
// flow this package is the idiomatic Go counterpart of, not a translation of)
// and original_source/stark-backend/src/tools/builtin/cryptocurrency/web3_tx.rs.
package evmsign

import "golang.org/x/crypto/sha3"

// Keccak256 hashes the concatenation of data using Keccak-256 (the
// pre-standardization variant Ethereum uses, not NIST SHA3-256).
func Keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
