package openfga

import (
	"context"
	"fmt"
	"strings"

	"wayleave/internal/model"
	"wayleave/internal/util"
)

// RelationAssignee links a user to the role object it holds.
const RelationAssignee = "assignee"

// Tuple is an OpenFGA relationship tuple in its string form.
type Tuple struct {
	User     string `json:"user"`     // e.g. "user:<id>"
	Relation string `json:"relation"` // e.g. "assignee"
	Object   string `json:"object"`   // e.g. "role:edd_planning"
}

// RoleObject is the OpenFGA object id of role.
func RoleObject(role model.Role) string {
	slug := strings.ToLower(strings.TrimSpace(role.String()))
	slug = strings.ReplaceAll(slug, " ", "_")
	return "role:" + slug
}

func roleTuple(userID string, role model.Role) Tuple {
	return Tuple{
		User:     fmt.Sprintf("user:%s", userID),
		Relation: RelationAssignee,
		Object:   RoleObject(role),
	}
}

// RoleTuples returns the tuples that move userID from previous to next.
func RoleTuples(userID string, previous, next util.Optional[model.Role]) (writes, deletes []Tuple) {
	prev, hadPrev := previous.Get()
	role, hasNext := next.Get()
	if hadPrev && hasNext && prev.Is(role) {
		return nil, nil
	}
	if hadPrev {
		deletes = append(deletes, roleTuple(userID, prev))
	}
	if hasNext {
		writes = append(writes, roleTuple(userID, role))
	}
	return writes, deletes
}

// RoleMirror keeps OpenFGA role assignments in step with profile roles.
type RoleMirror struct {
	client *Client
}

func NewRoleMirror(client *Client) *RoleMirror {
	return &RoleMirror{client: client}
}

func (m *RoleMirror) SyncRole(ctx context.Context, userID string, previous, next util.Optional[model.Role]) error {
	writes, deletes := RoleTuples(userID, previous, next)
	if err := m.client.Write(ctx, writes, deletes); err != nil {
		return fmt.Errorf("failed to mirror role for user %s: %w", userID, err)
	}
	return nil
}

// HasRole asks OpenFGA whether userID is assigned role.
func (m *RoleMirror) HasRole(ctx context.Context, userID string, role model.Role) (bool, error) {
	return m.client.Check(ctx, roleTuple(userID, role))
}
