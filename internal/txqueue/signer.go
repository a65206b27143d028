package txqueue

import (
	"context"
	"fmt"
	"math/big"

	"github.com/starkrun/agentcore/internal/evmsign"
)

// RPCClient is the narrow slice of an EVM JSON-RPC client the signer needs.
// Injected so tests can fake the chain without a live RPC endpoint
// (SPEC_FULL.md §4.C).
type RPCClient interface {
	NextNonce(ctx context.Context, address string) (uint64, error)
	EstimateEIP1559Fees(ctx context.Context) (maxFeePerGas, maxPriorityFeePerGas *big.Int, err error)
	EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error)
}

// Signer builds, signs, and queues EIP-1559 transactions on behalf of a
// single wallet.
type Signer struct {
	wallet  *evmsign.Wallet
	rpc     RPCClient
	chainID uint64
	queue   *Queue
}

// NewSigner creates a Signer over wallet, using rpc for nonce/fee lookups
// and queue to store the resulting signed entry.
func NewSigner(wallet *evmsign.Wallet, rpc RPCClient, chainID uint64, queue *Queue) *Signer {
	return &Signer{wallet: wallet, rpc: rpc, chainID: chainID, queue: queue}
}

// SignAndQueue builds an EIP-1559 transaction moving value (wei) from the
// signer's wallet to `to` with calldata `data`, signs it, and inserts the
// result into the queue in Pending status. channelID records provenance for
// ListByChannel/Pending.
func (s *Signer) SignAndQueue(ctx context.Context, channelID, to string, value *big.Int, data []byte) (*Entry, error) {
	nonce, err := s.rpc.NextNonce(ctx, s.wallet.Address())
	if err != nil {
		return nil, fmt.Errorf("txqueue: fetch nonce: %w", err)
	}

	maxFee, priorityFee, err := s.rpc.EstimateEIP1559Fees(ctx)
	if err != nil {
		return nil, fmt.Errorf("txqueue: estimate fees: %w", err)
	}

	hasData := len(data) > 0
	gasLimit := uint64(BareTransferGas)
	if hasData {
		rawEstimate, err := s.rpc.EstimateGas(ctx, s.wallet.Address(), to, value, data)
		if err != nil {
			return nil, fmt.Errorf("txqueue: estimate gas: %w", err)
		}
		gasLimit = EstimateGas(true, rawEstimate)
	}

	tx := evmsign.EIP1559Tx{
		ChainID:              s.chainID,
		Nonce:                nonce,
		MaxPriorityFeePerGas: priorityFee,
		MaxFeePerGas:         maxFee,
		GasLimit:             gasLimit,
		To:                   to,
		Value:                value,
		Data:                 data,
	}

	sig, err := s.wallet.Sign(tx.SigningHash())
	if err != nil {
		return nil, fmt.Errorf("txqueue: sign transaction: %w", err)
	}

	signedHex := evmsign.SignatureHex(tx.SignedEncoding(sig))
	entry := s.queue.QueueTx(channelID, signedHex, s.wallet.Address(), to, value.String(), s.chainID)
	return entry, nil
}
