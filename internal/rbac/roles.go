package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RolePharmacy       = "pharmacy"
	RoleFinance        = "finance"
	RoleAdmin          = "admin"
	RoleSuperAdmin     = "super_admin"
	RolePayoutOperator = "payout_operator" // hidden role for the payout rail worker
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RolePayoutOperator }
