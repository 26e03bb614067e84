package call

import "fmt"

// Role identifies which party of the call a leg belongs to
type Role uint8

const (
	RoleClient Role = iota + 1
	RoleOperator
)

// Roles lists both roles in a stable order
var Roles = [...]Role{RoleClient, RoleOperator}

// Other returns the opposite role
func (r Role) Other() Role {
	switch r {
	case RoleClient:
		return RoleOperator
	case RoleOperator:
		return RoleClient
	default:
		return r
	}
}

// Valid reports whether r is one of the two call roles
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleOperator
}

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleOperator:
		return "operator"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(r))
	}
}

// MarshalText encodes the role by name
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole parses "client" or "operator"
func ParseRole(s string) (Role, error) {
	switch s {
	case "client":
		return RoleClient, nil
	case "operator":
		return RoleOperator, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}
