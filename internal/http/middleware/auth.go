package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/chorus/internal/auth"
	"github.com/Nixie-Tech-LLC/chorus/internal/db"
	"github.com/Nixie-Tech-LLC/chorus/internal/model"
)

// retrieves *model.User from Gin context (after JWTMiddleware has run).
func GetCurrentUser(c *gin.Context) (*model.User, bool) {
	u, exists := c.Get("currentUser")
	if !exists {
		return nil, false
	}
	user, ok := u.(*model.User)
	return user, ok
}

// NodeOrJWTMiddleware authorizes either an admin bearer token or the
// node's own shared secret in X-Node-Secret; nodes may only read their
// own resources (the :id route param must match).
func NodeOrJWTMiddleware(secret string, store db.Store) gin.HandlerFunc {
	jwtCheck := JWTMiddleware(secret, store)
	return func(c *gin.Context) {
		nodeSecret := c.GetHeader("X-Node-Secret")
		if nodeSecret == "" {
			jwtCheck(c)
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid node id"})
			return
		}
		node, err := store.GetNodeByID(id)
		if err != nil || node.SecretHash == nil || !auth.CheckSecret(*node.SecretHash, nodeSecret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid node secret"})
			return
		}
		c.Set("currentNode", node)
		c.Next()
	}
}
