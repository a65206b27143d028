package evmsign

import "math/big"

// RLP encoding has no library anywhere in the retrieved example pack (no
// go-ethereum or ethers-Go port appears in any go.mod); hand-rolled against
// the public RLP spec, scoped to exactly what an EIP-1559 transaction needs:
// unsigned integers, byte strings, and lists.

func rlpEncodeUint(v uint64) []byte {
	if v == 0 {
		return rlpEncodeBytes(nil)
	}
	return rlpEncodeBytes(new(big.Int).SetUint64(v).Bytes())
}

func rlpEncodeBigInt(v *big.Int) []byte {
	if v == nil || v.Sign() == 0 {
		return rlpEncodeBytes(nil)
	}
	return rlpEncodeBytes(v.Bytes())
}

func rlpEncodeBytes(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return b
	}
	return append(rlpLengthPrefix(len(b), 0x80), b...)
}

func rlpEncodeList(items ...[]byte) []byte {
	var body []byte
	for _, it := range items {
		body = append(body, it...)
	}
	return append(rlpLengthPrefix(len(body), 0xc0), body...)
}

func rlpLengthPrefix(n int, offset byte) []byte {
	if n < 56 {
		return []byte{offset + byte(n)}
	}
	lenBytes := bigEndianMinimal(uint64(n))
	return append([]byte{offset + 55 + byte(len(lenBytes))}, lenBytes...)
}

func bigEndianMinimal(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

// AccessListEntry is a single EIP-2930/1559 access-list entry.
type AccessListEntry struct {
	Address     string
	StorageKeys [][32]byte
}

// EIP1559Tx is the subset of EIP-1559 ("type 2") transaction fields the
// transaction queue signs and broadcasts
// (original_source/.../web3_tx.rs ethers-rs Eip1559TransactionRequest,
// transliterated to idiomatic Go rather than translated field-by-field).
type EIP1559Tx struct {
	ChainID              uint64
	Nonce                uint64
	MaxPriorityFeePerGas *big.Int
	MaxFeePerGas         *big.Int
	GasLimit             uint64
	To                   string // empty for contract creation
	Value                *big.Int
	Data                 []byte
	AccessList           []AccessListEntry
}

func (tx EIP1559Tx) encodeFields(withSignature bool, v, r, s *big.Int) []byte {
	var to []byte
	if tx.To != "" {
		addr, err := decodeAddress(tx.To)
		if err == nil {
			to = addr[12:]
		}
	}

	items := [][]byte{
		rlpEncodeUint(tx.ChainID),
		rlpEncodeUint(tx.Nonce),
		rlpEncodeBigInt(tx.MaxPriorityFeePerGas),
		rlpEncodeBigInt(tx.MaxFeePerGas),
		rlpEncodeUint(tx.GasLimit),
		rlpEncodeBytes(to),
		rlpEncodeBigInt(tx.Value),
		rlpEncodeBytes(tx.Data),
		rlpEncodeList(encodeAccessList(tx.AccessList)...),
	}

	if withSignature {
		items = append(items,
			rlpEncodeBigInt(v),
			rlpEncodeBigInt(r),
			rlpEncodeBigInt(s),
		)
	}

	return append([]byte{0x02}, rlpEncodeList(items...)...)
}

func encodeAccessList(entries []AccessListEntry) [][]byte {
	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		addr, err := decodeAddress(e.Address)
		if err != nil {
			continue
		}
		keys := make([][]byte, 0, len(e.StorageKeys))
		for _, k := range e.StorageKeys {
			kk := k
			keys = append(keys, rlpEncodeBytes(kk[:]))
		}
		out = append(out, rlpEncodeList(rlpEncodeBytes(addr[12:]), rlpEncodeList(keys...)))
	}
	return out
}

// UnsignedEncoding returns the EIP-2718 typed-transaction payload whose
// Keccak256 is the digest to sign.
func (tx EIP1559Tx) UnsignedEncoding() []byte {
	return tx.encodeFields(false, nil, nil, nil)
}

// SigningHash is the Keccak256 digest signed to authorize tx.
func (tx EIP1559Tx) SigningHash() [32]byte {
	return Keccak256(tx.UnsignedEncoding())
}

// SignedEncoding returns the final typed-transaction payload ready for
// broadcast, given a 65-byte R||S||V signature produced by Wallet.Sign over
// SigningHash(). Y-parity (0 or 1) replaces the legacy v value for type-2
// transactions.
func (tx EIP1559Tx) SignedEncoding(sig []byte) []byte {
	r := new(big.Int).SetBytes(sig[0:32])
	s := new(big.Int).SetBytes(sig[32:64])
	yParity := new(big.Int).SetUint64(uint64(sig[64]) - 27)
	return tx.encodeFields(true, yParity, r, s)
}
