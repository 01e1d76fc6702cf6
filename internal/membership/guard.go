// Package membership enforces that every board keeps at least one admin.
package membership

import (
	"errors"
	"fmt"

	"taskboard/api/internal/rbac"
)

var ErrLastAdminRequired = errors.New("board must keep at least one admin")

// Member is the slice of a membership row the guard needs.
type Member struct {
	UserID string
	Role   rbac.Role
	Active bool
}

// EffectiveRole resolves userID's role on a board. An active row decides;
// a pending row grants nothing; the owner without a row is an admin.
func EffectiveRole(ownerID string, members []Member, userID string) rbac.Role {
	for _, m := range members {
		if m.UserID != userID {
			continue
		}
		if !m.Active {
			return rbac.RoleNone
		}
		return m.Role
	}
	if userID != "" && userID == ownerID {
		return rbac.RoleAdmin
	}
	return rbac.RoleNone
}

// CountAdmins counts effective admins other than exclude.
func CountAdmins(ownerID string, members []Member, exclude string) int {
	n := 0
	ownerHasRow := false
	for _, m := range members {
		if m.UserID == ownerID {
			ownerHasRow = true
		}
		if m.UserID == exclude {
			continue
		}
		if m.Active && m.Role == rbac.RoleAdmin {
			n++
		}
	}
	if !ownerHasRow && ownerID != "" && ownerID != exclude {
		n++
	}
	return n
}

// Guard rejects changing target's role to next when target is an admin and
// no other admin would remain. next is rbac.RoleNone for removals.
func Guard(ownerID string, members []Member, target string, next rbac.Role) error {
	if next == rbac.RoleAdmin {
		return nil
	}
	if EffectiveRole(ownerID, members, target) != rbac.RoleAdmin {
		return nil
	}
	if CountAdmins(ownerID, members, target) == 0 {
		return fmt.Errorf("%w: %s is the only admin", ErrLastAdminRequired, target)
	}
	return nil
}
