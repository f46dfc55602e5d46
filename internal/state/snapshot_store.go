// ./internal/state/snapshot_store.go
package state

import (
	"context"
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/elys-network/savers/internal/types"
)

// SaveVaultSnapshot saves a keeper snapshot to the database.
func SaveVaultSnapshot(ctx context.Context, snapshot types.VaultSnapshot) (int64, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	rate := "1"
	if !snapshot.ExchangeRate.IsNil() {
		rate = snapshot.ExchangeRate.String()
	}

	query := `
		INSERT INTO vault_snapshots (
			cycle_number, cycle_id, snapshot_timestamp, vault,
			total_supply, pooled_balance, exchange_rate,
			accrued_bps, interest_added, operation_ids
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err := DB.QueryRowContext(ctx, query,
		snapshot.CycleNumber, snapshot.CycleID, snapshot.Timestamp, snapshot.Vault,
		amountArg(snapshot.TotalSupply), amountArg(snapshot.PooledBalance), rate,
		int64(snapshot.AccruedBps), amountOrZero(snapshot.InterestAdded), pq.Array(snapshot.OperationIDs),
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save vault snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Str("pooled_balance", snapshot.PooledBalance.String()).
		Msg("Vault snapshot saved to database")

	return snapshotID, nil
}

// GetRecentSnapshots retrieves recent vault snapshots, newest first.
func GetRecentSnapshots(ctx context.Context, limit int) ([]types.VaultSnapshot, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `
		SELECT
			snapshot_id, cycle_number, cycle_id, snapshot_timestamp, vault,
			total_supply, pooled_balance, exchange_rate,
			accrued_bps, interest_added, operation_ids
		FROM vault_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1
	`
	rows, err := DB.QueryContext(ctx, query, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent snapshots")
		return nil, fmt.Errorf("failed to query recent snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.VaultSnapshot
	for rows.Next() {
		var (
			s                              types.VaultSnapshot
			supply, pooled, rate, interest sql.NullString
			accruedBps                     int64
		)
		if err := rows.Scan(
			&s.SnapshotID, &s.CycleNumber, &s.CycleID, &s.Timestamp, &s.Vault,
			&supply, &pooled, &rate,
			&accruedBps, &interest, pq.Array(&s.OperationIDs), // Use pq.Array for PostgreSQL array
		); err != nil {
			log.Error().Err(err).Msg("Failed to scan snapshot row")
			continue // Skip this row and continue with others
		}
		s.AccruedBps = uint64(accruedBps)
		if s.TotalSupply, err = scanAmount(supply); err != nil {
			return nil, err
		}
		if s.PooledBalance, err = scanAmount(pooled); err != nil {
			return nil, err
		}
		if s.InterestAdded, err = scanAmount(interest); err != nil {
			return nil, err
		}
		if s.ExchangeRate, err = sdkmath.LegacyNewDecFromStr(rate.String); err != nil {
			return nil, fmt.Errorf("invalid stored exchange rate %q: %w", rate.String, err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("Error occurred during row iteration")
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	log.Debug().Int("count", len(snapshots)).Int("limit", limit).Msg("Retrieved recent snapshots")
	return snapshots, nil
}

func amountOrZero(amount sdkmath.Int) string {
	if amount.IsNil() {
		return "0"
	}
	return amount.String()
}
