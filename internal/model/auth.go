package model

import (
	"fmt"
	"strings"

	"wayleave/internal/util"
)

type Role string

const (
	RoleAdmin    Role = "Admin"
	RolePlanner  Role = "EDD Planning"
	RoleReviewer Role = "Consultation Team"
)

// Roles lists every assignable role in display order.
var Roles = []Role{RoleAdmin, RolePlanner, RoleReviewer}

func (r Role) String() string {
	return string(r)
}

// Is compares roles case-insensitively.
func (r Role) Is(other Role) bool {
	return strings.EqualFold(strings.TrimSpace(string(r)), strings.TrimSpace(string(other)))
}

func (r Role) IsValid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// ParseRole resolves s to its canonical role, ignoring case and surrounding space.
func ParseRole(s string) (Role, error) {
	for _, role := range Roles {
		if role.Is(Role(s)) {
			return role, nil
		}
	}
	return "", fmt.Errorf("invalid role: %q", s)
}

func (r *Role) Scan(value any) error {
	if str, ok := value.(string); ok {
		*r = Role(str)
		return nil
	}
	return fmt.Errorf("cannot scan %T into Role", value)
}

// Profile is the role-bearing row kept for every provisioned identity.
// A profile without a role is awaiting assignment by an administrator.
type Profile struct {
	ID   string              `json:"id"`
	CPR  string              `json:"cpr"`
	Name string              `json:"name"`
	Role util.Optional[Role] `json:"role"`
}

// Session is the signed-in identity as seen by the rest of the client.
type Session struct {
	UserID      string              `json:"userId"`
	CPR         string              `json:"cpr"`
	DisplayName string              `json:"displayName"`
	Role        util.Optional[Role] `json:"role"`
}

func SessionFromProfile(p Profile) Session {
	name := p.Name
	if name == "" {
		name = p.CPR
	}
	return Session{
		UserID:      p.ID,
		CPR:         p.CPR,
		DisplayName: name,
		Role:        p.Role,
	}
}

// Actor renders the audit string stamped into lastUpdatedBy.
func (s Session) Actor() string {
	role := "Unassigned"
	if r, ok := s.Role.Get(); ok {
		role = r.String()
	}
	return role + " - " + s.CPR
}

const DefaultLoginDomain = "wayleave.local"

// LoginFromCPR builds the identity-service login for a CPR number.
func LoginFromCPR(cpr, domain string) string {
	if domain == "" {
		domain = DefaultLoginDomain
	}
	return strings.TrimSpace(cpr) + "@" + domain
}

// CPRFromLogin recovers the CPR number from an identity-service login.
func CPRFromLogin(login string) string {
	cpr, _, _ := strings.Cut(login, "@")
	return cpr
}
