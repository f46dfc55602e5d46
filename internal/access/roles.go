/*

This file implements the role table used to gate privileged operations such as
minting and burning shares, and re-wiring the vault's yield source.

*/

package access

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/elys-network/savers/internal/logger"
)

// Role identifies a capability. Roles are keccak256 hashes of their names, the
// default admin role is the zero hash.
type Role = common.Hash

var (
	DefaultAdminRole Role = common.Hash{}
	MinterRole            = NewRole("MINTER_ROLE")
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRenounceSelf = errors.New("can only renounce roles for self")
)

var accessLogger = logger.GetForComponent("access")

// NewRole derives a role identifier from its name.
func NewRole(name string) Role {
	return crypto.Keccak256Hash([]byte(name))
}

// Roles is a role-assignment table. The zero value is not usable, use New.
type Roles struct {
	mu      sync.RWMutex
	members map[Role]map[common.Address]bool
	admins  map[Role]Role
}

// New creates a role table with admin holding the default admin role.
func New(admin common.Address) *Roles {
	r := &Roles{
		members: make(map[Role]map[common.Address]bool),
		admins:  make(map[Role]Role),
	}
	r.grant(DefaultAdminRole, admin)
	return r
}

// HasRole reports whether account holds role.
func (r *Roles) HasRole(role Role, account common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members[role][account]
}

// CheckRole returns an ErrUnauthorized error carrying the canonical
// "AccessControl: account ... is missing role ..." message if account lacks role.
func (r *Roles) CheckRole(role Role, account common.Address) error {
	if r.HasRole(role, account) {
		return nil
	}
	return MissingRoleError(role, account)
}

// MissingRoleError formats the failure for account missing role.
func MissingRoleError(role Role, account common.Address) error {
	return errors.Join(ErrUnauthorized, fmt.Errorf("AccessControl: account %s is missing role %s",
		strings.ToLower(account.Hex()), role.Hex()))
}

// RoleAdmin returns the role whose holders may grant and revoke role.
func (r *Roles) RoleAdmin(role Role) Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admins[role]
}

// SetRoleAdmin changes the admin role of role. Only holders of the current
// admin role may do so.
func (r *Roles) SetRoleAdmin(caller common.Address, role, adminRole Role) error {
	if err := r.CheckRole(r.RoleAdmin(role), caller); err != nil {
		return err
	}
	r.mu.Lock()
	r.admins[role] = adminRole
	r.mu.Unlock()
	return nil
}

// GrantRole gives role to account if caller holds the role's admin role.
func (r *Roles) GrantRole(caller common.Address, role Role, account common.Address) error {
	if err := r.CheckRole(r.RoleAdmin(role), caller); err != nil {
		return err
	}
	if r.grant(role, account) {
		accessLogger.Info().
			Str("role", role.Hex()).
			Str("account", account.Hex()).
			Str("sender", caller.Hex()).
			Msg("Role granted")
	}
	return nil
}

// RevokeRole removes role from account if caller holds the role's admin role.
func (r *Roles) RevokeRole(caller common.Address, role Role, account common.Address) error {
	if err := r.CheckRole(r.RoleAdmin(role), caller); err != nil {
		return err
	}
	if r.revoke(role, account) {
		accessLogger.Info().
			Str("role", role.Hex()).
			Str("account", account.Hex()).
			Str("sender", caller.Hex()).
			Msg("Role revoked")
	}
	return nil
}

// RenounceRole lets an account drop one of its own roles.
func (r *Roles) RenounceRole(caller common.Address, role Role, account common.Address) error {
	if caller != account {
		return ErrRenounceSelf
	}
	r.revoke(role, account)
	return nil
}

func (r *Roles) grant(role Role, account common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	holders, ok := r.members[role]
	if !ok {
		holders = make(map[common.Address]bool)
		r.members[role] = holders
	}
	if holders[account] {
		return false
	}
	holders[account] = true
	return true
}

func (r *Roles) revoke(role Role, account common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.members[role][account] {
		return false
	}
	delete(r.members[role], account)
	return true
}
