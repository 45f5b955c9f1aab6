package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleMember  = "member"  // individual customer
	RolePartner = "partner" // organization account
	RoleAdmin   = "admin"   // operator
)

func IsAdmin(role string) bool { return role == RoleAdmin }
