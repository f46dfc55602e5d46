package ledger

import (
	"errors"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/savers/internal/access"
)

// Tx is a ledger transaction. Every mutation is journaled so that a failed
// Update leaves balances, supply and allowances exactly as they were.
// A Tx must not be used after the Update or View call that created it returns.
type Tx struct {
	l        *Ledger
	writable bool
	closed   bool
	journal  []func()
	events   []Event
}

// BalanceOf returns account's balance as seen by the transaction.
func (tx *Tx) BalanceOf(account common.Address) math.Int {
	return tx.l.balanceOf(account)
}

// TotalSupply returns the total supply as seen by the transaction.
func (tx *Tx) TotalSupply() math.Int {
	return tx.l.totalSupply
}

// Allowance returns the allowance as seen by the transaction.
func (tx *Tx) Allowance(owner, spender common.Address) math.Int {
	return tx.l.allowance(owner, spender)
}

// Mint increases account's balance and the total supply by amount.
func (tx *Tx) Mint(caller, account common.Address, amount math.Int) error {
	if err := tx.check(); err != nil {
		return err
	}
	if err := tx.l.roles.CheckRole(access.MinterRole, caller); err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return errors.Join(ErrZeroAddress, errors.New("ERC20: mint to the zero address"))
	}

	supply, err := checkedAdd(tx.l.totalSupply, amount)
	if err != nil {
		return err
	}
	balance, err := checkedAdd(tx.l.balanceOf(account), amount)
	if err != nil {
		return err
	}
	tx.setSupply(supply)
	tx.setBalance(account, balance)
	tx.record(EventMint, account, common.Address{}, amount, balance)
	return nil
}

// Burn decreases account's balance and the total supply by amount.
func (tx *Tx) Burn(caller, account common.Address, amount math.Int) error {
	if err := tx.check(); err != nil {
		return err
	}
	if err := tx.l.roles.CheckRole(access.MinterRole, caller); err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}

	current := tx.l.balanceOf(account)
	if current.LT(amount) {
		return errors.Join(ErrInsufficientBalance, errors.New("ERC20: burn amount exceeds balance"))
	}
	balance := current.Sub(amount)
	tx.setSupply(tx.l.totalSupply.Sub(amount))
	tx.setBalance(account, balance)
	tx.record(EventBurn, account, common.Address{}, amount.Neg(), balance)
	return nil
}

// Transfer moves amount from from to to. The total supply is untouched.
func (tx *Tx) Transfer(from, to common.Address, amount math.Int) error {
	if err := tx.check(); err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return errors.Join(ErrZeroAddress, errors.New("ERC20: transfer to the zero address"))
	}

	fromBalance := tx.l.balanceOf(from)
	if fromBalance.LT(amount) {
		return errors.Join(ErrInsufficientBalance, errors.New("ERC20: transfer amount exceeds balance"))
	}
	fromBalance = fromBalance.Sub(amount)
	tx.setBalance(from, fromBalance)

	toBalance, err := checkedAdd(tx.l.balanceOf(to), amount)
	if err != nil {
		return err
	}
	tx.setBalance(to, toBalance)
	if from == to {
		fromBalance = toBalance
	}

	tx.record(EventTransferOut, from, to, amount.Neg(), fromBalance)
	tx.record(EventTransferIn, to, from, amount, toBalance)
	return nil
}

// Approve sets spender's allowance over owner's balance.
func (tx *Tx) Approve(owner, spender common.Address, amount math.Int) error {
	if err := tx.check(); err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	if amount.GT(MaxUint256) {
		return ErrOverflow
	}
	if spender == (common.Address{}) {
		return errors.Join(ErrZeroAddress, errors.New("ERC20: approve to the zero address"))
	}
	tx.setAllowance(owner, spender, amount)
	tx.l.logger.Debug().
		Str("owner", owner.Hex()).
		Str("spender", spender.Hex()).
		Str("amount", amount.String()).
		Msg("Allowance set")
	return nil
}

// TransferFrom spends spender's allowance over from and moves amount to to.
func (tx *Tx) TransferFrom(spender, from, to common.Address, amount math.Int) error {
	if err := tx.check(); err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}

	allowance := tx.l.allowance(from, spender)
	if !allowance.Equal(MaxUint256) {
		if allowance.LT(amount) {
			return errors.Join(ErrInsufficientAllowance, errors.New("ERC20: transfer amount exceeds allowance"))
		}
		tx.setAllowance(from, spender, allowance.Sub(amount))
	}
	return tx.Transfer(from, to, amount)
}

func (tx *Tx) check() error {
	if tx.closed {
		return ErrTxClosed
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	return nil
}

func (tx *Tx) setBalance(account common.Address, balance math.Int) {
	prev, existed := tx.l.balances[account]
	tx.journal = append(tx.journal, func() {
		if existed {
			tx.l.balances[account] = prev
		} else {
			delete(tx.l.balances, account)
		}
	})
	tx.l.balances[account] = balance
}

func (tx *Tx) setSupply(supply math.Int) {
	prev := tx.l.totalSupply
	tx.journal = append(tx.journal, func() { tx.l.totalSupply = prev })
	tx.l.totalSupply = supply
}

func (tx *Tx) setAllowance(owner, spender common.Address, amount math.Int) {
	byOwner, ownerExisted := tx.l.allowances[owner]
	if !ownerExisted {
		byOwner = make(map[common.Address]math.Int)
		tx.l.allowances[owner] = byOwner
	}
	prev, existed := byOwner[spender]
	tx.journal = append(tx.journal, func() {
		switch {
		case !ownerExisted:
			delete(tx.l.allowances, owner)
		case existed:
			byOwner[spender] = prev
		default:
			delete(byOwner, spender)
		}
	})
	byOwner[spender] = amount
}

func (tx *Tx) record(kind EventKind, account, counterparty common.Address, delta, balance math.Int) {
	tx.events = append(tx.events, Event{
		Token:        tx.l.address,
		Symbol:       tx.l.symbol,
		Kind:         kind,
		Account:      account,
		Counterparty: counterparty,
		Delta:        delta,
		NewBalance:   balance,
		TotalSupply:  tx.l.totalSupply,
	})
}

func (tx *Tx) rollback() {
	for i := len(tx.journal) - 1; i >= 0; i-- {
		tx.journal[i]()
	}
	tx.journal = nil
	tx.events = nil
}
