package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/elys-network/savers/internal/types"
)

// SaveOperationReceipt persists a vault operation receipt and returns its row id.
func SaveOperationReceipt(ctx context.Context, receipt types.OperationReceipt) (int64, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	query := `
		INSERT INTO vault_operations (
			operation_id, operation_timestamp, kind, vault, account,
			amount, result, pooled_before, supply_before,
			success, reason, message, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING receipt_id;
	`

	var receiptID int64
	err := DB.QueryRowContext(ctx, query,
		receipt.OperationID, receipt.Timestamp, string(receipt.Kind), receipt.Vault, receipt.Account,
		amountArg(receipt.Amount), amountArg(receipt.Result), amountArg(receipt.PooledBefore), amountArg(receipt.SupplyBefore),
		receipt.Success, string(receipt.Reason), receipt.Message, float64(receipt.Duration)/float64(time.Millisecond),
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save operation receipt %s: %w", receipt.OperationID, err)
	}

	log.Debug().
		Int64("receipt_id", receiptID).
		Str("operation_id", receipt.OperationID).
		Str("kind", string(receipt.Kind)).
		Bool("success", receipt.Success).
		Msg("Operation receipt saved to database")
	return receiptID, nil
}

// GetRecentOperations retrieves recent operation receipts, newest first. An
// empty account returns receipts for every account.
func GetRecentOperations(ctx context.Context, account string, limit int) ([]types.OperationReceipt, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `
		SELECT
			receipt_id, operation_id, operation_timestamp, kind, vault, account,
			amount, result, pooled_before, supply_before,
			success, reason, message, duration_ms
		FROM vault_operations
		WHERE ($1 = '' OR account = $1)
		ORDER BY operation_timestamp DESC
		LIMIT $2
	`
	rows, err := DB.QueryContext(ctx, query, account, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent operations")
		return nil, fmt.Errorf("failed to query recent operations: %w", err)
	}
	defer rows.Close()

	var receipts []types.OperationReceipt
	for rows.Next() {
		var (
			r                                          types.OperationReceipt
			kind                                       string
			amount, result, pooledBefore, supplyBefore sql.NullString
			reason, message                            sql.NullString
			durationMs                                 float64
		)
		if err := rows.Scan(
			&r.ReceiptID, &r.OperationID, &r.Timestamp, &kind, &r.Vault, &r.Account,
			&amount, &result, &pooledBefore, &supplyBefore,
			&r.Success, &reason, &message, &durationMs,
		); err != nil {
			log.Error().Err(err).Msg("Failed to scan operation row")
			continue // Skip this row and continue with others
		}
		r.Kind = types.OperationKind(kind)
		r.Reason = types.FailureReason(reason.String)
		r.Message = message.String
		r.Duration = time.Duration(durationMs * float64(time.Millisecond))
		if r.Amount, err = scanAmount(amount); err != nil {
			return nil, err
		}
		if r.Result, err = scanAmount(result); err != nil {
			return nil, err
		}
		if r.PooledBefore, err = scanAmount(pooledBefore); err != nil {
			return nil, err
		}
		if r.SupplyBefore, err = scanAmount(supplyBefore); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("Error occurred during row iteration")
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return receipts, nil
}

// ReceiptStore persists vault receipts as they are observed.
type ReceiptStore struct {
	Timeout time.Duration
}

func (s *ReceiptStore) ObserveOperation(receipt types.OperationReceipt) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := SaveOperationReceipt(ctx, receipt); err != nil {
		log.Error().Err(err).Str("operation_id", receipt.OperationID).Msg("Failed to persist operation receipt")
	}
}
