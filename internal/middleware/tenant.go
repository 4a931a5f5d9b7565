package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// systemPaths never carry tenant context
var systemPaths = []string{
	"/health",
	"/ready",
	"/metrics",
	"/swagger",
}

// TenantMiddleware resolves the tenant for analytics queries.
// X-Tenant-ID wins, then X-Vendor-ID, then a tenant claim placed on the
// context by the auth middleware.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader("X-Tenant-ID"))
		if tenantID == "" {
			tenantID = strings.TrimSpace(c.GetHeader("X-Vendor-ID"))
		}
		if tenantID == "" {
			tenantID = c.GetString("jwt_tenant_id")
		}

		if tenantID == "" && isSystemEndpoint(c.Request.URL.Path) {
			c.Next()
			return
		}

		// fail closed: every reporting query is tenant scoped
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "TENANT_REQUIRED",
					"message": "X-Tenant-ID header is required",
				},
			})
			return
		}

		c.Set("tenant_id", tenantID)
		c.Set("vendor_id", tenantID)
		c.Next()
	}
}

func isSystemEndpoint(path string) bool {
	for _, endpoint := range systemPaths {
		if strings.HasPrefix(path, endpoint) {
			return true
		}
	}
	return false
}

// GetTenantID extracts the tenant ID from gin context
func GetTenantID(c *gin.Context) string {
	return c.GetString("tenant_id")
}
