package common

import (
	"errors"
	"sync"
)

// Role identifies a privileged capability checked at the top of gated
// operations.
type Role string

const (
	// RoleAdmin may restore blacklisted subjects, cancel auctions and
	// toggle pool availability.
	RoleAdmin Role = "ROLE_ADMIN"
	// RoleSlasher may apply punitive reputation reductions.
	RoleSlasher Role = "ROLE_SLASHER"
	// RoleLender may deposit and withdraw pool liquidity.
	RoleLender Role = "ROLE_LENDER"
)

// ErrUnauthorized marks privileged calls from principals missing the
// required role.
var ErrUnauthorized = errors.New("role: unauthorized")

// RoleView exposes the read side of the access-control map consumed by the
// native engines.
type RoleView interface {
	HasRole(role Role, addr [20]byte) bool
}

// Roles is an explicit access-control map from role to a set of principals.
// Engines hold it through the RoleView interface so tests can substitute
// permissive stubs.
type Roles struct {
	mu      sync.RWMutex
	members map[Role]map[[20]byte]struct{}
}

// NewRoles constructs an empty access-control map.
func NewRoles() *Roles {
	return &Roles{members: make(map[Role]map[[20]byte]struct{})}
}

// Grant adds the principal to the role's member set.
func (r *Roles) Grant(role Role, addr [20]byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[role]
	if !ok {
		set = make(map[[20]byte]struct{})
		r.members[role] = set
	}
	set[addr] = struct{}{}
}

// Revoke removes the principal from the role's member set.
func (r *Roles) Revoke(role Role, addr [20]byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.members[role]; ok {
		delete(set, addr)
	}
}

// HasRole reports whether the principal currently holds the role.
func (r *Roles) HasRole(role Role, addr [20]byte) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.members[role]
	if !ok {
		return false
	}
	_, member := set[addr]
	return member
}

// RequireRole returns ErrUnauthorized unless the principal holds the role.
func RequireRole(view RoleView, role Role, addr [20]byte) error {
	if view == nil || !view.HasRole(role, addr) {
		return ErrUnauthorized
	}
	return nil
}
