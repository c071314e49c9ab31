package agreement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Role names one of the three capabilities an agreement recognises. Roles do
// not form a hierarchy: each operation requires exactly one of them.
type Role uint8

const (
	RoleBorrower Role = iota + 1
	RoleExecutor
	RoleGovernor
)

func (r Role) String() string {
	switch r {
	case RoleBorrower:
		return "borrower"
	case RoleExecutor:
		return "executor"
	case RoleGovernor:
		return "governor"
	default:
		return "unknown"
	}
}

// Roles binds each capability to the address allowed to exercise it. The
// binding is fixed when the agreement is created.
type Roles struct {
	Borrower common.Address
	Executor common.Address
	Governor common.Address
}

// Holder returns the address bound to the role.
func (r Roles) Holder(role Role) common.Address {
	switch role {
	case RoleBorrower:
		return r.Borrower
	case RoleExecutor:
		return r.Executor
	case RoleGovernor:
		return r.Governor
	default:
		return common.Address{}
	}
}

// Require returns ErrUnauthorized unless caller holds the role. The zero
// address never holds a role.
func (r Roles) Require(caller common.Address, role Role) error {
	holder := r.Holder(role)
	if holder == (common.Address{}) || caller != holder {
		return fmt.Errorf("%w: caller is not the %s", ErrUnauthorized, role)
	}
	return nil
}
