package evmsign

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Domain is an EIP-712 signing domain, built dynamically from the ERC-20
// token metadata being paid with rather than hardcoded per network
// (original_source/.../signer.rs Eip712Domain::from_token_metadata).
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract string // 0x-prefixed address
}

var domainTypeHash = Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

// Separator computes the EIP-712 domain separator.
func (d Domain) Separator() ([32]byte, error) {
	contract, err := decodeAddress(d.VerifyingContract)
	if err != nil {
		return [32]byte{}, fmt.Errorf("evmsign: domain verifying contract: %w", err)
	}
	nameHash := Keccak256([]byte(d.Name))
	versionHash := Keccak256([]byte(d.Version))

	var buf []byte
	buf = append(buf, domainTypeHash[:]...)
	buf = append(buf, nameHash[:]...)
	buf = append(buf, versionHash[:]...)
	buf = append(buf, encodeUint256(new(big.Int).SetUint64(d.ChainID))...)
	buf = append(buf, contract...)
	return Keccak256(buf), nil
}

// PermitMessage is an EIP-2612 Permit(owner,spender,value,nonce,deadline).
type PermitMessage struct {
	Owner    string
	Spender  string
	Value    *big.Int
	Nonce    *big.Int
	Deadline *big.Int
}

var permitTypeHash = Keccak256([]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))

// StructHash computes the EIP-712 struct hash for a Permit message.
func (m PermitMessage) StructHash() ([32]byte, error) {
	owner, err := decodeAddress(m.Owner)
	if err != nil {
		return [32]byte{}, fmt.Errorf("evmsign: permit owner: %w", err)
	}
	spender, err := decodeAddress(m.Spender)
	if err != nil {
		return [32]byte{}, fmt.Errorf("evmsign: permit spender: %w", err)
	}

	var buf []byte
	buf = append(buf, permitTypeHash[:]...)
	buf = append(buf, owner...)
	buf = append(buf, spender...)
	buf = append(buf, encodeUint256(m.Value)...)
	buf = append(buf, encodeUint256(m.Nonce)...)
	buf = append(buf, encodeUint256(m.Deadline)...)
	return Keccak256(buf), nil
}

// TransferWithAuthorizationMessage is the EIP-3009
// TransferWithAuthorization(from,to,value,validAfter,validBefore,nonce)
// message used by the x402 "exact" scheme.
type TransferWithAuthorizationMessage struct {
	From        string
	To          string
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

var transferAuthTypeHash = Keccak256([]byte(
	"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))

// StructHash computes the EIP-712 struct hash for a TransferWithAuthorization
// message.
func (m TransferWithAuthorizationMessage) StructHash() ([32]byte, error) {
	from, err := decodeAddress(m.From)
	if err != nil {
		return [32]byte{}, fmt.Errorf("evmsign: transfer auth from: %w", err)
	}
	to, err := decodeAddress(m.To)
	if err != nil {
		return [32]byte{}, fmt.Errorf("evmsign: transfer auth to: %w", err)
	}

	var buf []byte
	buf = append(buf, transferAuthTypeHash[:]...)
	buf = append(buf, from...)
	buf = append(buf, to...)
	buf = append(buf, encodeUint256(m.Value)...)
	buf = append(buf, encodeUint256(m.ValidAfter)...)
	buf = append(buf, encodeUint256(m.ValidBefore)...)
	buf = append(buf, m.Nonce[:]...)
	return Keccak256(buf), nil
}

// TypedDataDigest composes the final EIP-191 "\x19\x01" digest out of a
// domain separator and a struct hash — the value actually signed.
func TypedDataDigest(domainSeparator, structHash [32]byte) [32]byte {
	buf := make([]byte, 0, 66)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, domainSeparator[:]...)
	buf = append(buf, structHash[:]...)
	return Keccak256(buf)
}

func decodeAddress(addr string) ([]byte, error) {
	addr = strings.TrimPrefix(addr, "0x")
	raw, err := hex.DecodeString(addr)
	if err != nil {
		return nil, err
	}
	if len(raw) != 20 {
		return nil, fmt.Errorf("address must be 20 bytes, got %d", len(raw))
	}
	out := make([]byte, 32)
	copy(out[12:], raw)
	return out, nil
}

func encodeUint256(v *big.Int) []byte {
	out := make([]byte, 32)
	if v == nil {
		return out
	}
	b := v.Bytes()
	copy(out[32-len(b):], b)
	return out
}
