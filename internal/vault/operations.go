package vault

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/elys-network/savers/internal/ledger"
	"github.com/elys-network/savers/internal/types"
)

// Deposit pulls amount of underlying from caller, forwards it to the yield
// source and mints shares at the rate observed before the pool call. The
// caller must have approved the vault for amount.
//
// If any step after the pull fails the pulled underlying is returned to the
// caller and no shares exist.
func (v *Vault) Deposit(ctx context.Context, caller common.Address, amount sdkmath.Int) (sdkmath.Int, error) {
	receipt := v.newReceipt(types.OperationDeposit, caller, amount)
	minted, err := v.deposit(ctx, caller, amount, &receipt)
	v.finish(&receipt, minted, err)
	return minted, err
}

func (v *Vault) deposit(ctx context.Context, caller common.Address, amount sdkmath.Int, receipt *types.OperationReceipt) (sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	if err := validateAmount(amount); err != nil {
		return zero, err
	}
	ctx, release, err := v.enter(ctx)
	if err != nil {
		return zero, err
	}
	defer release()

	log := v.logger.With().Str("operationId", receipt.OperationID).Str("caller", caller.Hex()).Logger()

	restoreAllowance := v.allowanceRestorer(caller)
	if err := v.asset.TransferFrom(v.address, caller, v.address, amount); err != nil {
		log.Debug().Err(err).Str("amount", amount.String()).Msg("Failed to pull underlying from depositor")
		return zero, errors.Join(ErrInsufficientAllowanceOrBalance, err)
	}

	source := v.YieldSource()
	minted := zero
	err = v.shares.Update(func(tx *ledger.Tx) error {
		pooledBefore, err := source.PooledBalance(ctx)
		if err != nil {
			return errors.Join(ErrPoolDepositFailed, err)
		}
		supplyBefore := tx.TotalSupply()
		receipt.PooledBefore, receipt.SupplyBefore = pooledBefore, supplyBefore

		shares, err := ConvertToShares(amount, pooledBefore, supplyBefore)
		if err != nil {
			return err
		}
		if shares.IsZero() {
			return ErrZeroShares
		}

		// journaled; discarded unless the pool deposit below succeeds
		if err := tx.Mint(v.address, caller, shares); err != nil {
			return err
		}
		if err := source.DepositToPool(ctx, amount); err != nil {
			if !errors.Is(err, ErrPoolDepositFailed) {
				err = errors.Join(ErrPoolDepositFailed, err)
			}
			return err
		}
		minted = shares
		return nil
	})
	if err != nil {
		if refundErr := v.asset.Transfer(v.address, caller, amount); refundErr != nil {
			log.Error().Err(refundErr).Str("amount", amount.String()).Msg("Failed to refund depositor")
			return zero, errors.Join(err, ErrRefundFailed, refundErr)
		}
		restoreAllowance()
		log.Warn().Err(err).Str("amount", amount.String()).Msg("Deposit failed, underlying refunded")
		return zero, err
	}

	log.Info().
		Str("amount", amount.String()).
		Str("shares", minted.String()).
		Str("pooledBefore", receipt.PooledBefore.String()).
		Str("supplyBefore", receipt.SupplyBefore.String()).
		Msg("Deposit completed")
	return minted, nil
}

// Withdraw burns shares from caller and pays out their floored claim on the
// pooled balance. If the pool withdrawal or the payout fails the burn is rolled
// back.
func (v *Vault) Withdraw(ctx context.Context, caller common.Address, shares sdkmath.Int) (sdkmath.Int, error) {
	receipt := v.newReceipt(types.OperationWithdraw, caller, shares)
	owed, err := v.withdraw(ctx, caller, shares, &receipt)
	v.finish(&receipt, owed, err)
	return owed, err
}

func (v *Vault) withdraw(ctx context.Context, caller common.Address, shares sdkmath.Int, receipt *types.OperationReceipt) (sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	if err := validateAmount(shares); err != nil {
		return zero, err
	}
	ctx, release, err := v.enter(ctx)
	if err != nil {
		return zero, err
	}
	defer release()

	log := v.logger.With().Str("operationId", receipt.OperationID).Str("caller", caller.Hex()).Logger()

	source := v.YieldSource()
	released := zero
	err = v.shares.Update(func(tx *ledger.Tx) error {
		pooledBefore, err := source.PooledBalance(ctx)
		if err != nil {
			return errors.Join(ErrPoolWithdrawFailed, err)
		}
		supplyBefore := tx.TotalSupply()
		receipt.PooledBefore, receipt.SupplyBefore = pooledBefore, supplyBefore

		owed, err := ConvertToAssets(shares, pooledBefore, supplyBefore)
		if err != nil {
			return err
		}
		if err := tx.Burn(v.address, caller, shares); err != nil {
			return err
		}
		if owed.IsZero() {
			return ErrZeroAssets
		}

		if err := source.WithdrawFromPool(ctx, owed); err != nil {
			if !errors.Is(err, ErrPoolWithdrawFailed) {
				err = errors.Join(ErrPoolWithdrawFailed, err)
			}
			return err
		}
		if err := v.asset.Transfer(v.address, caller, owed); err != nil {
			// the burn is about to be undone, so the underlying goes back too
			if redepositErr := source.DepositToPool(ctx, owed); redepositErr != nil {
				log.Error().Err(redepositErr).Str("owed", owed.String()).Msg("Failed to return underlying to the pool")
				return errors.Join(ErrPayoutFailed, err, redepositErr)
			}
			return errors.Join(ErrPayoutFailed, err)
		}
		released = owed
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("shares", shares.String()).Msg("Withdraw failed")
		return zero, err
	}

	log.Info().
		Str("shares", shares.String()).
		Str("underlying", released.String()).
		Str("pooledBefore", receipt.PooledBefore.String()).
		Str("supplyBefore", receipt.SupplyBefore.String()).
		Msg("Withdraw completed")
	return released, nil
}

// allowanceRestorer returns a func that puts caller's allowance to the vault
// back to its current value. It is a no-op for assets that cannot do it.
func (v *Vault) allowanceRestorer(caller common.Address) func() {
	asset, ok := v.asset.(allowanceAsset)
	if !ok {
		return func() {}
	}
	before := asset.Allowance(caller, v.address)
	return func() {
		if err := asset.Approve(caller, v.address, before); err != nil {
			v.logger.Error().Err(err).Str("caller", caller.Hex()).Msg("Failed to restore depositor allowance")
		}
	}
}

func (v *Vault) newReceipt(kind types.OperationKind, caller common.Address, amount sdkmath.Int) types.OperationReceipt {
	return types.OperationReceipt{
		OperationID:  uuid.New().String(),
		Kind:         kind,
		Vault:        v.address.Hex(),
		Account:      caller.Hex(),
		Amount:       amount,
		Result:       sdkmath.ZeroInt(),
		PooledBefore: sdkmath.ZeroInt(),
		SupplyBefore: sdkmath.ZeroInt(),
		Timestamp:    v.clock(),
	}
}

func (v *Vault) finish(receipt *types.OperationReceipt, result sdkmath.Int, err error) {
	receipt.Duration = v.clock().Sub(receipt.Timestamp)
	if err != nil {
		receipt.Reason = FailureReason(err)
		receipt.Message = err.Error()
	} else {
		receipt.Success = true
		receipt.Result = result
	}
	v.notify(*receipt)
}
