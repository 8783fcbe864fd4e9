package httpmw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerAuth requires a matching bearer token on every request.
//
// Responses distinguish a missing or malformed Authorization header (401)
// from a present but wrong token (403). An empty configured token is a
// deployment error and fails closed with 500.
func BearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "server auth token not configured",
			})
			return
		}

		header := c.GetHeader("Authorization")
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing bearer token",
			})
			return
		}

		if provided != token {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid token",
			})
			return
		}

		c.Next()
	}
}
