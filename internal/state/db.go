// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

var ErrDBNotInitialized = errors.New("database not initialized")

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		DB = nil
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// Amounts are uint256 values and are stored as NUMERIC(78, 0), wide enough for
// 2^256-1.
const schemaSQL = `
	CREATE TABLE IF NOT EXISTS ledger_events (
		event_id BIGSERIAL PRIMARY KEY,
		sequence BIGINT NOT NULL,
		token VARCHAR(42) NOT NULL,
		symbol VARCHAR(32) NOT NULL,
		kind VARCHAR(32) NOT NULL,
		account VARCHAR(42) NOT NULL,
		counterparty VARCHAR(42),
		delta NUMERIC(79, 0) NOT NULL,
		new_balance NUMERIC(78, 0) NOT NULL,
		total_supply NUMERIC(78, 0) NOT NULL,
		event_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT uq_ledger_events_token_sequence UNIQUE (token, sequence)
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_events_account ON ledger_events(account, sequence DESC);

	CREATE TABLE IF NOT EXISTS vault_operations (
		receipt_id BIGSERIAL PRIMARY KEY,
		operation_id UUID NOT NULL UNIQUE,
		operation_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		kind VARCHAR(16) NOT NULL,
		vault VARCHAR(42) NOT NULL,
		account VARCHAR(42) NOT NULL,
		amount NUMERIC(78, 0),
		result NUMERIC(78, 0),
		pooled_before NUMERIC(78, 0),
		supply_before NUMERIC(78, 0),
		success BOOLEAN NOT NULL,
		reason VARCHAR(64),
		message TEXT,
		duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_vault_operations_timestamp ON vault_operations(operation_timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_vault_operations_account ON vault_operations(account, operation_timestamp DESC);

	CREATE TABLE IF NOT EXISTS vault_snapshots (
		snapshot_id SERIAL PRIMARY KEY,
		cycle_number INTEGER NOT NULL,
		cycle_id UUID NOT NULL,
		snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		vault VARCHAR(42) NOT NULL,
		total_supply NUMERIC(78, 0) NOT NULL,
		pooled_balance NUMERIC(78, 0) NOT NULL,
		exchange_rate NUMERIC(96, 18) NOT NULL,
		accrued_bps BIGINT NOT NULL DEFAULT 0,
		interest_added NUMERIC(78, 0) NOT NULL DEFAULT 0,
		operation_ids TEXT[] -- PostgreSQL array of operation ids
	);
	CREATE INDEX IF NOT EXISTS idx_vault_snapshots_timestamp ON vault_snapshots(snapshot_timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_vault_snapshots_cycle ON vault_snapshots(cycle_number DESC);

	-- Cycle counter table for persistent global cycle tracking
	CREATE TABLE IF NOT EXISTS cycle_counter (
		id INTEGER PRIMARY KEY DEFAULT 1,
		current_cycle INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT single_row_check CHECK (id = 1)
	);

	-- Insert initial row if it doesn't exist
	INSERT INTO cycle_counter (id, current_cycle)
	VALUES (1, 0)
	ON CONFLICT (id) DO NOTHING;
`

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return ErrDBNotInitialized
	}
	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// ResetSchema drops every table owned by the service and recreates the schema.
// All persisted history is lost.
func ResetSchema() error {
	if DB == nil {
		return ErrDBNotInitialized
	}
	dropTablesQuery := `
		DROP TABLE IF EXISTS ledger_events CASCADE;
		DROP TABLE IF EXISTS vault_operations CASCADE;
		DROP TABLE IF EXISTS vault_snapshots CASCADE;
		DROP TABLE IF EXISTS cycle_counter CASCADE;
	`
	if _, err := DB.Exec(dropTablesQuery); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	log.Info().Msg("Successfully dropped all tables")
	return EnsureSchema()
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// amountArg renders an amount for a NUMERIC column. Nil amounts become NULL.
func amountArg(amount sdkmath.Int) interface{} {
	if amount.IsNil() {
		return nil
	}
	return amount.String()
}

// scanAmount parses a NUMERIC column read back as text.
func scanAmount(value sql.NullString) (sdkmath.Int, error) {
	if !value.Valid || value.String == "" {
		return sdkmath.ZeroInt(), nil
	}
	amount, ok := sdkmath.NewIntFromString(value.String)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("invalid stored amount %q", value.String)
	}
	return amount, nil
}
