package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"    // campaign owner; full control over their own campaigns
	RoleOperator   = "operator" // pause/resume and monitor campaigns
	RoleAnalyst    = "analyst"  // read-only funnel metrics access
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
