package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/savers/internal/ledger"
)

// SaveLedgerEvent persists one committed ledger event. Re-saving an event with
// the same token and sequence is a no-op.
func SaveLedgerEvent(ctx context.Context, ev ledger.Event) error {
	if DB == nil {
		return ErrDBNotInitialized
	}

	var counterparty interface{}
	if ev.Counterparty != (common.Address{}) {
		counterparty = ev.Counterparty.Hex()
	}

	query := `
		INSERT INTO ledger_events (
			sequence, token, symbol, kind, account, counterparty,
			delta, new_balance, total_supply, event_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (token, sequence) DO NOTHING;
	`
	_, err := DB.ExecContext(ctx, query,
		ev.Sequence, ev.Token.Hex(), ev.Symbol, string(ev.Kind), ev.Account.Hex(), counterparty,
		amountArg(ev.Delta), amountArg(ev.NewBalance), amountArg(ev.TotalSupply), ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save ledger event %d: %w", ev.Sequence, err)
	}
	return nil
}

// GetLedgerEvents returns the most recent events touching account.
func GetLedgerEvents(ctx context.Context, account common.Address, limit int) ([]ledger.Event, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `
		SELECT sequence, token, symbol, kind, account, counterparty,
			delta, new_balance, total_supply, event_timestamp
		FROM ledger_events
		WHERE account = $1
		ORDER BY sequence DESC
		LIMIT $2
	`
	rows, err := DB.QueryContext(ctx, query, account.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger events: %w", err)
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		var (
			ev                     ledger.Event
			token, kind, acct      string
			counterparty           sql.NullString
			delta, balance, supply sql.NullString
		)
		if err := rows.Scan(&ev.Sequence, &token, &ev.Symbol, &kind, &acct, &counterparty,
			&delta, &balance, &supply, &ev.Timestamp); err != nil {
			log.Error().Err(err).Msg("Failed to scan ledger event row")
			continue // Skip this row and continue with others
		}
		ev.Token = common.HexToAddress(token)
		ev.Kind = ledger.EventKind(kind)
		ev.Account = common.HexToAddress(acct)
		if counterparty.Valid {
			ev.Counterparty = common.HexToAddress(counterparty.String)
		}
		if ev.Delta, err = scanAmount(delta); err != nil {
			return nil, err
		}
		if ev.NewBalance, err = scanAmount(balance); err != nil {
			return nil, err
		}
		if ev.TotalSupply, err = scanAmount(supply); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return events, nil
}

// EventStore persists committed share ledger events. Register it with
// Ledger.Subscribe.
type EventStore struct {
	Timeout time.Duration
}

var _ ledger.EventSink = (*EventStore)(nil)

func (s *EventStore) Emit(ev ledger.Event) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := SaveLedgerEvent(ctx, ev); err != nil {
		log.Error().Err(err).
			Uint64("sequence", ev.Sequence).
			Str("kind", string(ev.Kind)).
			Msg("Failed to persist ledger event")
	}
}
