package auth

import (
	"fmt"

	"wayleave/internal/backend"
	"wayleave/internal/model"
	"wayleave/internal/util"
)

// ProfileFromRow decodes a profiles row. Unknown role strings are treated as
// no role.
func ProfileFromRow(row backend.Row) (model.Profile, error) {
	id, _ := row["id"].(string)
	if id == "" {
		return model.Profile{}, fmt.Errorf("profile row has no id")
	}
	cpr, _ := row["cpr"].(string)
	name, _ := row["name"].(string)

	profile := model.Profile{ID: id, CPR: cpr, Name: name, Role: util.None[model.Role]()}
	if s, ok := row["role"].(string); ok && s != "" {
		if role, err := model.ParseRole(s); err == nil {
			profile.Role = util.Some(role)
		}
	}
	return profile, nil
}

// syntheticSession stands in for a profile that could not be read. The CPR is
// recovered from the login identifier and no role is granted.
func syntheticSession(user backend.AuthUser) model.Session {
	cpr := model.CPRFromLogin(user.Login)
	return model.Session{
		UserID:      user.ID,
		CPR:         cpr,
		DisplayName: cpr,
		Role:        util.None[model.Role](),
	}
}
