/*

This is the type for vault snapshots taken by the keeper on every cycle.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// VaultSnapshot captures the accounting state of a vault at one instant.
type VaultSnapshot struct {
	SnapshotID    int64             `json:"snapshot_id,omitempty"` // Auto-incremented by DB
	CycleNumber   int               `json:"cycle_number"`
	CycleID       string            `json:"cycle_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Vault         string            `json:"vault"`
	TotalSupply   sdkmath.Int       `json:"total_supply"`
	PooledBalance sdkmath.Int       `json:"pooled_balance"`
	ExchangeRate  sdkmath.LegacyDec `json:"exchange_rate"`
	AccruedBps    uint64            `json:"accrued_bps"`    // interest applied by the keeper during this cycle
	InterestAdded sdkmath.Int       `json:"interest_added"` // pooled balance growth attributed to the accrual
	OperationIDs  []string          `json:"operation_ids"`  // operations completed since the previous snapshot
}
