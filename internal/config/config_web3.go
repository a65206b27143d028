package config

// Web3Config configures the EVM burner wallet, the chain the transaction
// queue signs and broadcasts against, and the x402 payment client.
//
// Grounded on original_source/stark-backend's web3/x402 settings (spec.md
// §4.C/§4.D); the teacher has no equivalent section since it carries no
// crypto-payment feature.
type Web3Config struct {
	// WalletPrivateKeyEnv names the environment variable holding the
	// burner wallet's hex-encoded secp256k1 private key. The key itself is
	// never written to the config file.
	WalletPrivateKeyEnv string `yaml:"wallet_private_key_env"`

	// ChainID is the EVM chain the transaction queue signs for.
	ChainID uint64 `yaml:"chain_id"`

	// RPCURL is the JSON-RPC endpoint used to fetch gas prices, nonces, and
	// broadcast signed transactions.
	RPCURL string `yaml:"rpc_url"`

	// X402 configures the x402/ERC-8128 payment client.
	X402 X402Config `yaml:"x402"`
}

// X402Config configures internal/x402.Client construction.
type X402Config struct {
	// Mode is "auto", "credits_only", or "x402_only" (internal/x402.Mode).
	Mode string `yaml:"mode"`

	// MaxSpendPerToken caps payment-limit guard amounts per ERC-20 token
	// address, as a decimal string (parsed into *big.Int at startup).
	MaxSpendPerToken map[string]string `yaml:"max_spend_per_token"`
}
