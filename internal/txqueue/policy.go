package txqueue

import (
	"errors"
	"math/big"
	"strings"
)

// ErrGatewayRogueModeRequired is returned by BroadcastGate when a signing
// attempt originates from a gateway channel without rogue mode enabled
// (spec.md §4.C "Policy").
var ErrGatewayRogueModeRequired = errors.New("txqueue: transactions require rogue mode in gateway channels")

// ErrPaymentLimitExceeded is returned when a signing attempt would exceed
// the configured per-token maximum.
var ErrPaymentLimitExceeded = errors.New("txqueue: payment limit exceeded")

var gatewayChannelTypes = map[string]struct{}{
	"discord":  {},
	"telegram": {},
	"slack":    {},
}

// IsGatewayChannel reports whether channelType is one of the gateway
// channels that require rogue mode before a transaction may be signed or
// broadcast.
func IsGatewayChannel(channelType string) bool {
	_, ok := gatewayChannelTypes[strings.ToLower(channelType)]
	return ok
}

// BroadcastGate enforces the gateway/rogue-mode policy before a transaction
// is queued for signing. Bare (non-gateway) channels always pass.
func BroadcastGate(channelType string, rogueModeEnabled bool) error {
	if IsGatewayChannel(channelType) && !rogueModeEnabled {
		return ErrGatewayRogueModeRequired
	}
	return nil
}

// PaymentLimitGuard checks an x402-originated signing amount against a
// configured per-token maximum, in the token's smallest unit.
func PaymentLimitGuard(amount, maxAllowed *big.Int) error {
	if maxAllowed == nil {
		return nil
	}
	if amount.Cmp(maxAllowed) > 0 {
		return ErrPaymentLimitExceeded
	}
	return nil
}

// GasPlan is the result of estimating gas and EIP-1559 fees for a
// transaction about to be signed.
type GasPlan struct {
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// BareTransferGas is the fixed gas cost of a plain ETH transfer with no
// calldata (spec.md §4.C "+0% for a bare 21000-gas transfer").
const BareTransferGas = 21000

// ContractCallGasBuffer is the multiplier applied to an RPC's raw gas
// estimate for bridge/contract calls (spec.md §4.C "+30% multiplier").
const ContractCallGasBuffer = 130

// EstimateGas applies spec.md §4.C's buffer rule: a bare transfer (no
// calldata) always costs exactly BareTransferGas; anything else gets the
// RPC-estimated gas scaled by ContractCallGasBuffer/100.
func EstimateGas(hasData bool, rpcEstimatedGas uint64) uint64 {
	if !hasData {
		return BareTransferGas
	}
	return rpcEstimatedGas * ContractCallGasBuffer / 100
}
