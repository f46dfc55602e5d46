package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"
)

// VaultStats represents lifetime vault activity aggregated from the
// operation and snapshot tables.
type VaultStats struct {
	TotalDeposited   sdkmath.Int `json:"total_deposited"`
	TotalWithdrawn   sdkmath.Int `json:"total_withdrawn"`
	TotalInterest    sdkmath.Int `json:"total_interest"`
	Deposits         int         `json:"deposits"`
	Withdrawals      int         `json:"withdrawals"`
	FailedOperations int         `json:"failed_operations"`
	TotalCycles      int         `json:"total_cycles"`
	LastSnapshot     string      `json:"last_snapshot,omitempty"`
}

// GetVaultStats retrieves aggregated vault statistics
func GetVaultStats(ctx context.Context) (*VaultStats, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	query := `
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'DEPOSIT' AND success THEN amount END), 0)::TEXT,
			COALESCE(SUM(CASE WHEN kind = 'WITHDRAW' AND success THEN result END), 0)::TEXT,
			COUNT(CASE WHEN kind = 'DEPOSIT' AND success THEN 1 END),
			COUNT(CASE WHEN kind = 'WITHDRAW' AND success THEN 1 END),
			COUNT(CASE WHEN NOT success THEN 1 END)
		FROM vault_operations
	`
	var deposited, withdrawn sql.NullString
	stats := &VaultStats{}
	if err := DB.QueryRowContext(ctx, query).Scan(
		&deposited, &withdrawn, &stats.Deposits, &stats.Withdrawals, &stats.FailedOperations,
	); err != nil {
		return nil, fmt.Errorf("failed to aggregate vault operations: %w", err)
	}

	var err error
	if stats.TotalDeposited, err = scanAmount(deposited); err != nil {
		return nil, err
	}
	if stats.TotalWithdrawn, err = scanAmount(withdrawn); err != nil {
		return nil, err
	}

	var interest, lastSnapshot sql.NullString
	err = DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(interest_added), 0)::TEXT, COUNT(*), MAX(snapshot_timestamp)::TEXT
		FROM vault_snapshots
	`).Scan(&interest, &stats.TotalCycles, &lastSnapshot)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to aggregate vault snapshots: %w", err)
	}
	if stats.TotalInterest, err = scanAmount(interest); err != nil {
		return nil, err
	}
	if lastSnapshot.Valid {
		stats.LastSnapshot = lastSnapshot.String
	}

	log.Debug().
		Str("totalDeposited", stats.TotalDeposited.String()).
		Int("totalCycles", stats.TotalCycles).
		Msg("Retrieved vault stats")
	return stats, nil
}
