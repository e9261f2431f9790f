package rbac

import (
	"net/http"

	"pharmasave-core/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequirePharmacy enforces the tenancy invariant: pharmacy_id must exist in
// context. This does not validate membership; that belongs to the
// authorization layer once pharmacy onboarding persistence exists.
func RequirePharmacy() gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, err := auth.PharmacyID(c.Request.Context())
		if err != nil || pid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "pharmacy_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - super_admin bypasses all checks
// - payout_operator is a hidden role, and will be denied unless explicitly allowed
// - pharmacy tenancy is enforced via RequirePharmacy (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		// super_admin bypasses all
		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		// hidden roles are opt-in only
		if IsHiddenRole(role) {
			if _, ok := allowedSet[role]; !ok {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
