package rbac

// Role is a membership role on a workspace or organization. The empty role
// means the user holds no membership.
type Role string

const (
	RoleNone    Role = ""
	RoleViewer  Role = "viewer"
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleOwner   Role = "owner"
)

var Roles = []Role{RoleOwner, RoleManager, RoleUser, RoleViewer}

func Valid(role Role) bool {
	switch role {
	case RoleOwner, RoleManager, RoleUser, RoleViewer:
		return true
	default:
		return false
	}
}

// Normalize maps unknown input to viewer, the least privileged role.
func Normalize(role string) Role {
	if Valid(Role(role)) {
		return Role(role)
	}
	return RoleViewer
}

// Administers reports whether the role may manage a workspace's structure:
// members, invites, categories, stages, chores.
func Administers(role Role) bool {
	return role == RoleOwner || role == RoleManager
}

func In(role Role, roles ...Role) bool {
	if role == RoleNone {
		return false
	}
	for _, candidate := range roles {
		if role == candidate {
			return true
		}
	}
	return false
}
