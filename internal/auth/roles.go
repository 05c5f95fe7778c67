package auth

// Operator roles, ordered from least to most privileged. The ordering is
// total: every role comparison has a defined answer.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
	RoleOwner    = "owner"
)

var roleLevels = map[string]int{
	RoleViewer:   0,
	RoleOperator: 1,
	RoleAdmin:    2,
	RoleOwner:    3,
}

// Actor identifies the authenticated caller of a mutation
type Actor struct {
	ID   int
	Name string
	Role string
}

// ValidRole reports whether role is a known role name
func ValidRole(role string) bool {
	_, ok := roleLevels[role]
	return ok
}

// HasPermission reports whether role meets or exceeds minimumRole.
// Unknown roles never grant permission.
func HasPermission(role, minimumRole string) bool {
	level, ok := roleLevels[role]
	if !ok {
		return false
	}
	min, ok := roleLevels[minimumRole]
	if !ok {
		return false
	}
	return level >= min
}
