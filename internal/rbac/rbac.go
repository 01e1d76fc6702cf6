package rbac

type Role string
type Action string

const (
	RoleNone   Role = ""
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionManage Action = "manage"
)

func rank(role Role) int {
	switch role {
	case RoleReader:
		return 1
	case RoleWriter:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether role is min or higher. RoleNone is never enough.
func AtLeast(role, min Role) bool {
	return rank(role) > 0 && rank(role) >= rank(min)
}

// Minimum is the lowest role allowed to perform action.
func Minimum(action Action) Role {
	switch action {
	case ActionRead:
		return RoleReader
	case ActionWrite:
		return RoleWriter
	default:
		return RoleAdmin
	}
}

func Can(role Role, action Action) bool {
	return AtLeast(role, Minimum(action))
}

// Parse accepts only the three board roles.
func Parse(role string) (Role, bool) {
	switch Role(role) {
	case RoleReader, RoleWriter, RoleAdmin:
		return Role(role), true
	default:
		return RoleNone, false
	}
}

func Normalize(role string) Role {
	if r, ok := Parse(role); ok {
		return r
	}
	return RoleReader
}
