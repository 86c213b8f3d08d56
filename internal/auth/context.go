package auth

import "github.com/gin-gonic/gin"

const (
	userIDKey   = "userID"
	userRoleKey = "userRole"
)

// GetUserID returns the authenticated user's ID or empty string.
func GetUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// IsAdmin reports whether the authenticated user holds the admin role.
func IsAdmin(c *gin.Context) bool {
	return c.GetString(userRoleKey) == RoleAdmin
}
