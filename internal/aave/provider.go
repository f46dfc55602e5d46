package aave

import (
	"context"
	"errors"
	"sync"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/elys-network/savers/internal/access"
)

// LendingPool is the subset of the money-market pool the vault talks to.
// caller is the account on whose authority the pool pulls or releases funds.
type LendingPool interface {
	Address() common.Address
	Deposit(ctx context.Context, caller, asset common.Address, amount math.Int, onBehalfOf common.Address) error
	Withdraw(ctx context.Context, caller, asset common.Address, amount math.Int, to common.Address) (math.Int, error)
}

// AddressesProvider resolves the current lending pool. Consumers must resolve
// the pool on every use since it can be replaced at any time.
type AddressesProvider interface {
	GetLendingPool() (LendingPool, error)
}

var ErrPoolNotSet = errors.New("lending pool not set")

// Provider is an upgradable AddressesProvider. The pool may only be replaced
// by holders of the default admin role.
type Provider struct {
	roles *access.Roles

	mu   sync.RWMutex
	pool LendingPool
}

// NewProvider creates a provider owned by admin, initially pointing at pool.
func NewProvider(admin common.Address, pool LendingPool) *Provider {
	return &Provider{roles: access.New(admin), pool: pool}
}

func (p *Provider) GetLendingPool() (LendingPool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pool == nil {
		return nil, ErrPoolNotSet
	}
	return p.pool, nil
}

// SetLendingPool points the provider at a new pool.
func (p *Provider) SetLendingPool(caller common.Address, pool LendingPool) error {
	if err := p.roles.CheckRole(access.DefaultAdminRole, caller); err != nil {
		return err
	}
	p.mu.Lock()
	p.pool = pool
	p.mu.Unlock()
	return nil
}
