/*

This file contains the fungible-token ledger. The same implementation backs the
vault's share token (mint and burn are gated on the minter role) and the
in-process base asset used by the simulation network.

*/

package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elys-network/savers/internal/access"
	"github.com/elys-network/savers/internal/logger"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrOverflow              = errors.New("amount overflows 256 bits")
	ErrInvalidAmount         = errors.New("amount is invalid")
	ErrZeroAddress           = errors.New("zero address")
	ErrTxNotWritable         = errors.New("transaction is read-only")
	ErrTxClosed              = errors.New("transaction is closed")
)

// MaxUint256 is the largest representable amount. An allowance of MaxUint256
// is never decremented.
var MaxUint256 = math.NewIntFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)))

// Config describes a token deployment.
type Config struct {
	Name     string
	Symbol   string
	Decimals uint8
	// Address is the token's own address, stamped on every event.
	Address common.Address
	// Admin receives the default admin role and the minter role.
	Admin common.Address
}

// Ledger is a balance book with role-gated mint and burn. All mutations run
// inside Update transactions, reads can run concurrently.
type Ledger struct {
	name     string
	symbol   string
	decimals uint8
	address  common.Address
	roles    *access.Roles

	mu          sync.RWMutex
	balances    map[common.Address]math.Int
	allowances  map[common.Address]map[common.Address]math.Int
	totalSupply math.Int
	sequence    uint64
	sinks       []EventSink

	clock  func() time.Time
	logger zerolog.Logger
}

// New creates an empty ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Symbol == "" {
		return nil, errors.New("token symbol cannot be empty")
	}
	if cfg.Admin == (common.Address{}) {
		return nil, errors.Join(ErrZeroAddress, errors.New("token admin cannot be the zero address"))
	}
	if cfg.Decimals > 77 {
		return nil, fmt.Errorf("token %s has invalid decimals: %d", cfg.Symbol, cfg.Decimals)
	}

	roles := access.New(cfg.Admin)
	if err := roles.GrantRole(cfg.Admin, access.MinterRole, cfg.Admin); err != nil {
		return nil, err
	}

	l := &Ledger{
		name:        cfg.Name,
		symbol:      cfg.Symbol,
		decimals:    cfg.Decimals,
		address:     cfg.Address,
		roles:       roles,
		balances:    make(map[common.Address]math.Int),
		allowances:  make(map[common.Address]map[common.Address]math.Int),
		totalSupply: math.ZeroInt(),
		clock:       time.Now,
		logger:      logger.GetForComponent("ledger").With().Str("symbol", cfg.Symbol).Logger(),
	}
	return l, nil
}

func (l *Ledger) Name() string            { return l.name }
func (l *Ledger) Symbol() string          { return l.symbol }
func (l *Ledger) Decimals() uint8         { return l.decimals }
func (l *Ledger) Address() common.Address { return l.address }

// Subscribe registers a sink for committed events.
func (l *Ledger) Subscribe(sink EventSink) {
	if sink == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, sink)
}

// Update runs fn in an exclusive transaction. If fn returns an error or panics
// every change it made is rolled back and no event is published.
func (l *Ledger) Update(fn func(tx *Tx) error) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{l: l, writable: true}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			tx.closed = true
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		tx.rollback()
		tx.closed = true
		return err
	}
	tx.closed = true
	l.publish(tx.events)
	return nil
}

// View runs fn against a consistent read-only view of the ledger.
func (l *Ledger) View(fn func(tx *Tx) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx := &Tx{l: l}
	defer func() { tx.closed = true }()
	return fn(tx)
}

// BalanceOf returns the balance of account, zero for unknown accounts.
func (l *Ledger) BalanceOf(account common.Address) math.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceOf(account)
}

// TotalSupply returns the sum of all balances.
func (l *Ledger) TotalSupply() math.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender common.Address) math.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowance(owner, spender)
}

// Mint creates amount new tokens for account. caller must hold the minter role.
func (l *Ledger) Mint(caller, account common.Address, amount math.Int) error {
	return l.Update(func(tx *Tx) error { return tx.Mint(caller, account, amount) })
}

// Burn destroys amount tokens held by account. caller must hold the minter role.
func (l *Ledger) Burn(caller, account common.Address, amount math.Int) error {
	return l.Update(func(tx *Tx) error { return tx.Burn(caller, account, amount) })
}

// Transfer moves amount from from to to.
func (l *Ledger) Transfer(from, to common.Address, amount math.Int) error {
	return l.Update(func(tx *Tx) error { return tx.Transfer(from, to, amount) })
}

// Approve sets the allowance of spender over owner's tokens.
func (l *Ledger) Approve(owner, spender common.Address, amount math.Int) error {
	return l.Update(func(tx *Tx) error { return tx.Approve(owner, spender, amount) })
}

// TransferFrom moves amount from from to to using spender's allowance.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount math.Int) error {
	return l.Update(func(tx *Tx) error { return tx.TransferFrom(spender, from, to, amount) })
}

// MinterRole returns the role gating Mint and Burn.
func (l *Ledger) MinterRole() access.Role { return access.MinterRole }

// HasRole reports whether account holds role on this ledger.
func (l *Ledger) HasRole(role access.Role, account common.Address) bool {
	return l.roles.HasRole(role, account)
}

// GrantRole grants role to account; caller must administer role.
func (l *Ledger) GrantRole(caller common.Address, role access.Role, account common.Address) error {
	return l.roles.GrantRole(caller, role, account)
}

// RevokeRole revokes role from account; caller must administer role.
func (l *Ledger) RevokeRole(caller common.Address, role access.Role, account common.Address) error {
	return l.roles.RevokeRole(caller, role, account)
}

// RenounceRole drops one of caller's own roles.
func (l *Ledger) RenounceRole(caller common.Address, role access.Role) error {
	return l.roles.RenounceRole(caller, role, caller)
}

func (l *Ledger) balanceOf(account common.Address) math.Int {
	if bal, ok := l.balances[account]; ok {
		return bal
	}
	return math.ZeroInt()
}

func (l *Ledger) allowance(owner, spender common.Address) math.Int {
	if a, ok := l.allowances[owner][spender]; ok {
		return a
	}
	return math.ZeroInt()
}

func (l *Ledger) publish(events []Event) {
	now := l.clock()
	for i := range events {
		l.sequence++
		events[i].Sequence = l.sequence
		events[i].Timestamp = now
		for _, sink := range l.sinks {
			sink.Emit(events[i])
		}
	}
}

func checkedAdd(a, b math.Int) (math.Int, error) {
	sum, err := a.SafeAdd(b)
	if err != nil || sum.GT(MaxUint256) {
		return math.Int{}, errors.Join(ErrOverflow, fmt.Errorf("%s + %s", a, b))
	}
	return sum, nil
}

func validateAmount(amount math.Int) error {
	if amount.IsNil() {
		return errors.Join(ErrInvalidAmount, errors.New("amount is nil"))
	}
	if amount.IsNegative() {
		return errors.Join(ErrInvalidAmount, fmt.Errorf("amount is negative: %s", amount))
	}
	return nil
}
