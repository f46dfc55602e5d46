/*

This file contains the keeper. On every cycle it credits the configured
interest to the lending pool, takes a consistent snapshot of the vault and
records it in the database and the metrics.

*/

package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elys-network/savers/internal/logger"
	"github.com/elys-network/savers/internal/state"
	"github.com/elys-network/savers/internal/types"
	"github.com/elys-network/savers/internal/vault"
)

// Summarizer reads the vault's accounting in one consistent view.
type Summarizer interface {
	Summary(ctx context.Context) (vault.Summary, error)
}

// Accruer credits interest to the pool backing the vault and returns the
// pooled growth.
type Accruer interface {
	Accrue(ctx context.Context, bps uint64) (sdkmath.Int, error)
}

// Recorder receives every snapshot and the outcome of every cycle.
type Recorder interface {
	ObserveSnapshot(snapshot types.VaultSnapshot)
	ObserveCycle(err error)
}

// Config holds the configuration for creating a new Keeper instance
type Config struct {
	Vault Summarizer
	// Accruer is optional. Without it cycles only take snapshots.
	Accruer    Accruer
	AccrualBps uint64
	// Recorder is optional.
	Recorder Recorder
}

// Keeper runs the periodic vault maintenance cycle.
type Keeper struct {
	logger     zerolog.Logger
	vault      Summarizer
	accruer    Accruer
	accrualBps uint64
	recorder   Recorder

	mu         sync.Mutex
	pendingOps []string
	cycleCount int
	clock      func() time.Time
}

// New creates a new Keeper instance
func New(cfg Config) (*Keeper, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("keeper configuration validation failed: %w", err)
	}
	k := &Keeper{
		logger:     logger.GetForComponent("keeper"),
		vault:      cfg.Vault,
		accruer:    cfg.Accruer,
		accrualBps: cfg.AccrualBps,
		recorder:   cfg.Recorder,
		clock:      time.Now,
	}
	k.logger.Info().
		Uint64("accrualBps", k.accrualBps).
		Bool("accrues", k.accruer != nil).
		Msg("Keeper created")
	return k, nil
}

func validateConfig(cfg Config) error {
	if cfg.Vault == nil {
		return errors.New("vault cannot be nil")
	}
	if cfg.AccrualBps > 0 && cfg.Accruer == nil {
		return errors.New("accrual configured without an accruer")
	}
	return nil
}

// ObserveOperation queues the id of a successful vault operation for the next
// snapshot. Register the keeper with Vault.AddObserver.
func (k *Keeper) ObserveOperation(receipt types.OperationReceipt) {
	if !receipt.Success {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pendingOps = append(k.pendingOps, receipt.OperationID)
}

// RunLoop runs a cycle immediately and then every interval until ctx is done.
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) {
	k.logger.Info().
		Dur("interval", interval).
		Msg("Starting keeper loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	k.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			k.logger.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			k.RunCycle(ctx)
		}
	}
}

// RunCycle executes one keeper cycle and returns the snapshot it took.
func (k *Keeper) RunCycle(ctx context.Context) (types.VaultSnapshot, error) {
	start := k.clock()
	cycleID := uuid.New().String()
	cycleLogger := k.logger.With().Str("cycle_id", cycleID).Logger()
	cycleLogger.Info().Msg("--- Starting keeper cycle ---")

	snapshot, err := k.runCycle(ctx, cycleID, start, cycleLogger)
	if k.recorder != nil {
		if err == nil {
			k.recorder.ObserveSnapshot(snapshot)
		}
		k.recorder.ObserveCycle(err)
	}
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Keeper cycle failed")
		return snapshot, err
	}

	cycleLogger.Info().
		Int("cycleNumber", snapshot.CycleNumber).
		Str("totalSupply", snapshot.TotalSupply.String()).
		Str("pooledBalance", snapshot.PooledBalance.String()).
		Str("exchangeRate", snapshot.ExchangeRate.String()).
		Int("operations", len(snapshot.OperationIDs)).
		Str("cycleDuration", k.clock().Sub(start).String()).
		Msg("Keeper cycle completed")
	return snapshot, nil
}

func (k *Keeper) runCycle(ctx context.Context, cycleID string, start time.Time, cycleLogger zerolog.Logger) (types.VaultSnapshot, error) {
	snapshot := types.VaultSnapshot{
		CycleID:       cycleID,
		Timestamp:     start,
		InterestAdded: sdkmath.ZeroInt(),
	}

	// Step 1: accrue interest
	if k.accruer != nil && k.accrualBps > 0 {
		interest, err := k.accruer.Accrue(ctx, k.accrualBps)
		if err != nil {
			return snapshot, fmt.Errorf("failed to accrue interest: %w", err)
		}
		snapshot.AccruedBps = k.accrualBps
		snapshot.InterestAdded = interest
		cycleLogger.Info().
			Uint64("bps", k.accrualBps).
			Str("interest", interest.String()).
			Msg("Step 1: Interest accrued")
	}

	// Step 2: read the vault
	summary, err := k.vault.Summary(ctx)
	if err != nil {
		return snapshot, fmt.Errorf("failed to read vault summary: %w", err)
	}
	snapshot.Vault = summary.Vault
	snapshot.TotalSupply = summary.TotalSupply
	snapshot.PooledBalance = summary.PooledBalance
	snapshot.ExchangeRate = summary.ExchangeRate
	snapshot.OperationIDs = k.drainOperations()

	// Step 3: persist
	if state.DB == nil {
		k.mu.Lock()
		k.cycleCount++
		snapshot.CycleNumber = k.cycleCount
		k.mu.Unlock()
		cycleLogger.Debug().Msg("Step 3: Database not initialized, snapshot kept in memory only")
		return snapshot, nil
	}
	if snapshot.CycleNumber, err = state.IncrementCycleNumber(ctx); err != nil {
		k.requeueOperations(snapshot.OperationIDs)
		return snapshot, err
	}
	if snapshot.SnapshotID, err = state.SaveVaultSnapshot(ctx, snapshot); err != nil {
		k.requeueOperations(snapshot.OperationIDs)
		return snapshot, err
	}
	cycleLogger.Info().Int64("snapshot_id", snapshot.SnapshotID).Msg("Step 3: Snapshot saved")
	return snapshot, nil
}

func (k *Keeper) drainOperations() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	ops := k.pendingOps
	k.pendingOps = nil
	if ops == nil {
		ops = []string{}
	}
	return ops
}

// requeueOperations puts ids back ahead of anything observed since they were
// drained, so the next snapshot still covers them.
func (k *Keeper) requeueOperations(ids []string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pendingOps = append(append([]string{}, ids...), k.pendingOps...)
}
