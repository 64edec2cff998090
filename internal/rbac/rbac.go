// Package rbac holds the per-document role model. All decisions are pure
// functions over a role-map snapshot; callers apply the result atomically.
package rbac

import "errors"

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionShare  Action = "share"
	ActionManage Action = "manage"
)

var (
	ErrInvalidRole = errors.New("invalid role")
	ErrDenied      = errors.New("insufficient role")
	ErrLastAdmin   = errors.New("document must keep at least one admin")
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite || action == ActionShare
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func ParseRole(role string) (Role, error) {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return Role(role), nil
	default:
		return "", ErrInvalidRole
	}
}

// RoleMap is a snapshot of a document's user -> role assignments. The key set
// is exactly the document's member set.
type RoleMap map[string]Role

func (m RoleMap) Clone() RoleMap {
	out := make(RoleMap, len(m))
	for id, role := range m {
		out[id] = role
	}
	return out
}

func (m RoleMap) Members() []string {
	members := make([]string, 0, len(m))
	for id := range m {
		members = append(members, id)
	}
	return members
}

func (m RoleMap) adminCount() int {
	n := 0
	for _, role := range m {
		if role == RoleAdmin {
			n++
		}
	}
	return n
}

// CanGrant reports whether an actor with the given role may assign target.
// Editors may hand out viewer or editor; only admins may touch admin.
func CanGrant(actor, target Role) bool {
	if !Can(actor, ActionShare) {
		return false
	}
	if target == RoleAdmin && actor != RoleAdmin {
		return false
	}
	return true
}

// Grant returns a new snapshot with userID assigned role. Re-granting the
// role a user already holds returns the snapshot unchanged. Demoting the
// sole remaining admin fails with ErrLastAdmin.
func Grant(m RoleMap, actor Role, userID string, role Role) (RoleMap, error) {
	if !CanGrant(actor, role) {
		return nil, ErrDenied
	}
	current, isMember := m[userID]
	if isMember && current == role {
		return m, nil
	}
	if isMember && current == RoleAdmin {
		if actor != RoleAdmin {
			return nil, ErrDenied
		}
		if m.adminCount() == 1 {
			return nil, ErrLastAdmin
		}
	}
	out := m.Clone()
	out[userID] = role
	return out, nil
}

// Revoke returns a new snapshot with userID removed. Revoking a non-member
// is a no-op. Removing the sole remaining admin fails with ErrLastAdmin.
func Revoke(m RoleMap, actor Role, userID string) (RoleMap, error) {
	if !Can(actor, ActionManage) {
		return nil, ErrDenied
	}
	current, isMember := m[userID]
	if !isMember {
		return m, nil
	}
	if current == RoleAdmin && m.adminCount() == 1 {
		return nil, ErrLastAdmin
	}
	out := m.Clone()
	delete(out, userID)
	return out, nil
}

// ThreadAccess is the capability handed to the annotation/thread layer.
type ThreadAccess string

const (
	ThreadCommentOnly ThreadAccess = "comment"
	ThreadFullEdit    ThreadAccess = "editor"
)

// ThreadCapability derives the annotation capability from the current role.
// Callers must re-derive after any share or revoke; the result must not be
// cached independently of the role map.
func ThreadCapability(role Role) ThreadAccess {
	if Can(role, ActionWrite) {
		return ThreadFullEdit
	}
	return ThreadCommentOnly
}
