// Package access decides which record actions and fields a role may use.
// Everything here is pure: no I/O and no state.
package access

import (
	"wayleave/internal/model"
	"wayleave/internal/util"
)

// Decision is the evaluated policy for one role on one form.
type Decision struct {
	role     util.Optional[model.Role]
	existing bool
}

// Evaluate returns the decision for role editing an existing record
// (existing=true) or drafting a new one.
func Evaluate(role util.Optional[model.Role], existing bool) Decision {
	return Decision{role: role, existing: existing}
}

func (d Decision) is(role model.Role) bool {
	r, ok := d.role.Get()
	return ok && r.Is(role)
}

// CanCreate reports whether the role may create new records.
func (d Decision) CanCreate() bool {
	return d.is(model.RoleAdmin) || d.is(model.RolePlanner)
}

// CanEdit reports whether the role may change an existing record at all.
func (d Decision) CanEdit() bool {
	return d.is(model.RoleAdmin) || d.is(model.RoleReviewer)
}

// CanEditField reports whether field may be edited on this form.
// Planners fill in new records only; reviewers work on existing ones.
func (d Decision) CanEditField(field string) bool {
	switch {
	case d.is(model.RoleAdmin):
		return true
	case d.is(model.RolePlanner):
		return !d.existing
	case d.is(model.RoleReviewer):
		return d.existing
	default:
		return false
	}
}

func (d Decision) CanDelete() bool {
	return d.is(model.RoleAdmin)
}

// HasRole reports whether role matches any of roles, ignoring case.
// An absent role never matches.
func HasRole(role util.Optional[model.Role], roles ...model.Role) bool {
	r, ok := role.Get()
	if !ok {
		return false
	}
	for _, candidate := range roles {
		if r.Is(candidate) {
			return true
		}
	}
	return false
}

// CanChangeRole reports whether a user currently holding target may have
// their role changed. Admins are immutable.
func CanChangeRole(target util.Optional[model.Role]) bool {
	return !HasRole(target, model.RoleAdmin)
}

// CanManageUsers reports whether role may administer other users' roles.
func CanManageUsers(role util.Optional[model.Role]) bool {
	return HasRole(role, model.RoleAdmin)
}
