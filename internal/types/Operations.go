/*

This file contains the types describing vault operations as they are reported to
observers (metrics, persistence, the web API).

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// OperationKind defines the vault entry points that produce receipts.
type OperationKind string

const (
	OperationDeposit  OperationKind = "DEPOSIT"
	OperationWithdraw OperationKind = "WITHDRAW"
)

// OperationReceipt records the outcome of a single deposit or withdraw call.
type OperationReceipt struct {
	ReceiptID    int64         `json:"receipt_id,omitempty"` // Auto-incremented by DB
	OperationID  string        `json:"operation_id"`         // uuid attached to the operation's logs
	Kind         OperationKind `json:"kind"`
	Vault        string        `json:"vault"`
	Account      string        `json:"account"`
	Amount       sdkmath.Int   `json:"amount"`                  // underlying in for deposits, shares in for withdrawals
	Result       sdkmath.Int   `json:"result"`                  // shares minted or underlying released, zero on failure
	PooledBefore sdkmath.Int   `json:"pooled_before,omitempty"` // pooled balance captured for the rate computation
	SupplyBefore sdkmath.Int   `json:"supply_before,omitempty"` // share supply captured for the rate computation
	Success      bool          `json:"success"`
	Reason       FailureReason `json:"reason,omitempty"`
	Message      string        `json:"message,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	Duration     time.Duration `json:"duration"`
}

// FailureReason is a short label for the error carried by a failed receipt.
// It is used as a metrics label, so the set of values is small and fixed.
type FailureReason string

const (
	FailureNone                FailureReason = ""
	FailureUnauthorized        FailureReason = "unauthorized"
	FailureInsufficientBalance FailureReason = "insufficient_balance"
	FailureOverflow            FailureReason = "overflow"
	FailurePoolDeposit         FailureReason = "pool_deposit_failed"
	FailurePoolWithdraw        FailureReason = "pool_withdraw_failed"
	FailureAllowanceOrBalance  FailureReason = "insufficient_allowance_or_balance"
	FailureInvalidAmount       FailureReason = "invalid_amount"
	FailureZeroResult          FailureReason = "zero_result"
	FailurePoolDepleted        FailureReason = "pool_depleted"
	FailureReentrant           FailureReason = "reentrant_call"
	FailureOther               FailureReason = "other"
)
