package access

import (
	"testing"

	"wayleave/internal/model"
	"wayleave/internal/util"

	"github.com/stretchr/testify/assert"
)

var fields = []string{"wayleaveNumber", "uspNumber", "status", "remarks", "attachments"}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		role      util.Optional[model.Role]
		existing  bool
		canCreate bool
		canEdit   bool
		editField bool
		canDelete bool
	}{
		{"admin new", util.Some(model.RoleAdmin), false, true, true, true, true},
		{"admin existing", util.Some(model.RoleAdmin), true, true, true, true, true},
		{"planner new", util.Some(model.RolePlanner), false, true, false, true, false},
		{"planner existing", util.Some(model.RolePlanner), true, true, false, false, false},
		{"reviewer new", util.Some(model.RoleReviewer), false, false, true, false, false},
		{"reviewer existing", util.Some(model.RoleReviewer), true, false, true, true, false},
		{"unassigned new", util.None[model.Role](), false, false, false, false, false},
		{"unassigned existing", util.None[model.Role](), true, false, false, false, false},
		{"lowercase admin", util.Some(model.Role("admin")), true, true, true, true, true},
		{"unknown role", util.Some(model.Role("Auditor")), true, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.role, tt.existing)
			assert.Equal(t, tt.canCreate, d.CanCreate())
			assert.Equal(t, tt.canEdit, d.CanEdit())
			assert.Equal(t, tt.canDelete, d.CanDelete())
			for _, f := range fields {
				assert.Equal(t, tt.editField, d.CanEditField(f), f)
			}
		})
	}
}

func TestPlannerScenario(t *testing.T) {
	role := util.Some(model.RolePlanner)
	assert.True(t, Evaluate(role, false).CanCreate())
	for _, f := range fields {
		assert.False(t, Evaluate(role, true).CanEditField(f))
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	roles := []util.Optional[model.Role]{util.None[model.Role]()}
	for _, r := range model.Roles {
		roles = append(roles, util.Some(r))
	}

	for _, r := range roles {
		for _, existing := range []bool{false, true} {
			a := Evaluate(r, existing)
			// Interleave an unrelated evaluation to show there is no carried state.
			_ = Evaluate(util.Some(model.RoleAdmin), !existing).CanDelete()
			b := Evaluate(r, existing)
			assert.Equal(t, a.CanCreate(), b.CanCreate())
			assert.Equal(t, a.CanEditField("remarks"), b.CanEditField("remarks"))
			assert.Equal(t, a.CanDelete(), b.CanDelete())
		}
	}
}

func TestHasRole(t *testing.T) {
	assert.True(t, HasRole(util.Some(model.Role("CONSULTATION TEAM")), model.RoleAdmin, model.RoleReviewer))
	assert.False(t, HasRole(util.Some(model.RolePlanner), model.RoleAdmin))
	assert.False(t, HasRole(util.None[model.Role](), model.Roles...))
	assert.False(t, HasRole(util.Some(model.RoleAdmin)))
}

func TestRoleManagement(t *testing.T) {
	assert.False(t, CanChangeRole(util.Some(model.RoleAdmin)))
	assert.True(t, CanChangeRole(util.Some(model.RolePlanner)))
	assert.True(t, CanChangeRole(util.None[model.Role]()))

	assert.True(t, CanManageUsers(util.Some(model.RoleAdmin)))
	assert.False(t, CanManageUsers(util.Some(model.RoleReviewer)))
	assert.False(t, CanManageUsers(util.None[model.Role]()))
}
