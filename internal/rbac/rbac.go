package rbac

type Role string
type Action string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleWriter:
		return action == ActionRead || action == ActionWrite
	case RoleReader:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleReader, RoleWriter, RoleAdmin:
		return Role(role)
	default:
		return RoleReader
	}
}

// Valid reports whether role is one of the known group roles.
func Valid(role string) bool {
	switch Role(role) {
	case RoleReader, RoleWriter, RoleAdmin:
		return true
	}
	return false
}

func rank(role Role) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleWriter:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// Higher returns the more privileged of the two roles.
func Higher(a, b Role) Role {
	if rank(b) > rank(a) {
		return b
	}
	return a
}
