// Package evmrpc is a minimal JSON-RPC client over an EVM node's eth_call,
// implementing the two read-only lookups internal/x402 needs
// (TokenMetadataResolver, NonceFetcher) plus the gas/nonce reads
// internal/txqueue needs before broadcasting a signed transaction.
//
// No example repo imports an Ethereum client library (go-ethereum and its
// Go-port ABI encoders are absent from every go.mod in the pack), so this
// talks raw JSON-RPC over net/http and hand-decodes the two ABI return
// shapes it needs (static uint256, dynamic string) rather than pulling in an
// unavailable dependency.
package evmrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/starkrun/agentcore/internal/x402"
)

// Client is a thin eth_call/eth_getTransactionCount/eth_gasPrice JSON-RPC
// client. It implements x402.TokenMetadataResolver and x402.NonceFetcher.
type Client struct {
	url  string
	http *http.Client
}

// New creates a Client against the given JSON-RPC endpoint URL.
func New(url string) *Client {
	return &Client{url: url, http: &http.Client{Timeout: 15 * time.Second}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evmrpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("evmrpc: %s: decode response: %w", method, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("evmrpc: %s: rpc error %d: %s", method, out.Error.Code, out.Error.Message)
	}
	return out.Result, nil
}

// ethCall wraps eth_call against "latest" with the given calldata.
func (c *Client) ethCall(ctx context.Context, to, data string) ([]byte, error) {
	raw, err := c.call(ctx, "eth_call", map[string]string{"to": to, "data": data}, "latest")
	if err != nil {
		return nil, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, fmt.Errorf("evmrpc: eth_call: %w", err)
	}
	return hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
}

// selector4 is the first 4 bytes of keccak256(signature), hex-encoded with
// the 0x prefix, for the handful of ERC-20/2612 view functions this package
// calls.
var selector4 = map[string]string{
	"name()":    "0x06fdde03",
	"nonces(address)": "0x7ecebe00",
}

// GasPrice returns the network's current suggested gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	raw, err := c.call(ctx, "eth_gasPrice")
	if err != nil {
		return nil, err
	}
	return decodeQuantity(raw)
}

// TransactionCount returns the next nonce for address (pending, so queued
// sends don't collide).
func (c *Client) TransactionCount(ctx context.Context, address string) (uint64, error) {
	raw, err := c.call(ctx, "eth_getTransactionCount", address, "pending")
	if err != nil {
		return 0, err
	}
	n, err := decodeQuantity(raw)
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

// SendRawTransaction broadcasts a signed transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, signedTxHex string) (string, error) {
	raw, err := c.call(ctx, "eth_sendRawTransaction", signedTxHex)
	if err != nil {
		return "", err
	}
	var txHash string
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return "", fmt.Errorf("evmrpc: sendRawTransaction: %w", err)
	}
	return txHash, nil
}

func decodeQuantity(raw json.RawMessage) (*big.Int, error) {
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(strings.TrimPrefix(hexStr, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("evmrpc: malformed quantity %q", hexStr)
	}
	return n, nil
}

// ResolveTokenMetadata implements x402.TokenMetadataResolver: EIP-712
// domain name and version for assetAddress. ERC-20 tokens rarely expose
// version() so "1" is the de facto default (used by USDC and most EIP-2612
// deployments); name() is read on-chain.
func (c *Client) ResolveTokenMetadata(ctx context.Context, network, assetAddress string) (x402.TokenMetadata, error) {
	raw, err := c.ethCall(ctx, assetAddress, selector4["name()"])
	if err != nil {
		return x402.TokenMetadata{}, fmt.Errorf("evmrpc: resolve token name: %w", err)
	}
	name, err := decodeABIString(raw)
	if err != nil {
		return x402.TokenMetadata{}, err
	}

	return x402.TokenMetadata{
		Address: assetAddress,
		Name:    name,
		Version: "1",
	}, nil
}

// FetchPermitNonce implements x402.NonceFetcher.
func (c *Client) FetchPermitNonce(ctx context.Context, network, tokenAddress, owner string) (*big.Int, error) {
	data := selector4["nonces(address)"] + leftPad32(strings.TrimPrefix(owner, "0x"))
	raw, err := c.ethCall(ctx, tokenAddress, data)
	if err != nil {
		return nil, fmt.Errorf("evmrpc: fetch permit nonce: %w", err)
	}
	if len(raw) < 32 {
		return nil, errors.New("evmrpc: nonces() returned short result")
	}
	return new(big.Int).SetBytes(raw[:32]), nil
}

func leftPad32(hexStr string) string {
	if len(hexStr) >= 64 {
		return hexStr[len(hexStr)-64:]
	}
	return strings.Repeat("0", 64-len(hexStr)) + hexStr
}

// decodeABIString decodes a single dynamic `string` return value: a 32-byte
// offset (always 0x20 for a single return value), a 32-byte length, then the
// UTF-8 bytes padded to a 32-byte boundary.
func decodeABIString(raw []byte) (string, error) {
	if len(raw) < 64 {
		return "", errors.New("evmrpc: string return too short")
	}
	length := new(big.Int).SetBytes(raw[32:64]).Uint64()
	if uint64(len(raw)) < 64+length {
		return "", errors.New("evmrpc: string return truncated")
	}
	return string(raw[64 : 64+length]), nil
}
