package evmsign

import (
	"math/big"
	"testing"
	"time"
)

// knownPrivateKey and its derived address are Hardhat's first default
// account, used by original_source/.../signer.rs's own address-derivation
// test.
const knownPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const knownAddress = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"

func TestAddressDerivationMatchesKnownVector(t *testing.T) {
	w, err := WalletFromHex(knownPrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	if w.Address() != knownAddress {
		t.Fatalf("expected %s, got %s", knownAddress, w.Address())
	}
}

func TestSignRecoverRoundTrip(t *testing.T) {
	w, err := WalletFromHex(knownPrivateKey)
	if err != nil {
		t.Fatal(err)
	}

	digest := Keccak256([]byte("arbitrary payload"))
	sig, err := w.Sign(digest)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}

	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatal(err)
	}
	if recovered != w.Address() {
		t.Fatalf("expected recovered address %s, got %s", w.Address(), recovered)
	}
}

func TestSignPermitRecoversToOwner(t *testing.T) {
	w, err := WalletFromHex(knownPrivateKey)
	if err != nil {
		t.Fatal(err)
	}

	domain := Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           8453,
		VerifyingContract: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
	}
	spender := "0x00000000000000000000000000000000000000aa"
	value := big.NewInt(1_000_000)
	nonce := big.NewInt(0)
	now := time.Unix(1_700_000_000, 0)

	sig, deadline, err := SignPermit(w, domain, spender, value, nonce, now)
	if err != nil {
		t.Fatal(err)
	}
	if deadline.Int64() != now.Unix()+int64(PermitDeadlineWindow.Seconds()) {
		t.Fatalf("unexpected deadline %v", deadline)
	}

	msg := PermitMessage{Owner: w.Address(), Spender: spender, Value: value, Nonce: nonce, Deadline: deadline}
	separator, err := domain.Separator()
	if err != nil {
		t.Fatal(err)
	}
	structHash, err := msg.StructHash()
	if err != nil {
		t.Fatal(err)
	}
	digest := TypedDataDigest(separator, structHash)

	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatal(err)
	}
	if recovered != w.Address() {
		t.Fatalf("expected permit signature to recover to owner %s, got %s", w.Address(), recovered)
	}
}

func TestEIP1559SigningHashDependsOnEveryField(t *testing.T) {
	base := EIP1559Tx{
		ChainID:              8453,
		Nonce:                1,
		MaxPriorityFeePerGas: big.NewInt(1_000_000),
		MaxFeePerGas:         big.NewInt(2_000_000),
		GasLimit:             21000,
		To:                   "0x00000000000000000000000000000000000000aa",
		Value:                big.NewInt(10),
	}
	mutated := base
	mutated.Value = big.NewInt(11)

	h1 := base.SigningHash()
	h2 := mutated.SigningHash()
	if h1 == h2 {
		t.Fatal("expected changing value to change the signing hash")
	}
}

func TestEIP1559SignedEncodingCarriesYParity(t *testing.T) {
	w, err := WalletFromHex(knownPrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	tx := EIP1559Tx{
		ChainID:              8453,
		Nonce:                0,
		MaxPriorityFeePerGas: big.NewInt(1_000_000),
		MaxFeePerGas:         big.NewInt(2_000_000),
		GasLimit:             21000,
		To:                   "0x00000000000000000000000000000000000000aa",
		Value:                big.NewInt(10),
	}
	sig, err := w.Sign(tx.SigningHash())
	if err != nil {
		t.Fatal(err)
	}
	encoded := tx.SignedEncoding(sig)
	if encoded[0] != 0x02 {
		t.Fatalf("expected EIP-2718 type-2 prefix, got 0x%02x", encoded[0])
	}
	if len(encoded) < 10 {
		t.Fatalf("encoded transaction suspiciously short: %d bytes", len(encoded))
	}
}
