package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "userID"

// RequireUser resolves the acting user from a bearer token and aborts
// with 401 when there is none. Token issuance belongs to the auth
// service; this middleware only verifies and extracts the subject.
func RequireUser(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := userFromToken(c, secret)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// OptionalUser resolves the acting user when a valid token is present
// and passes through anonymously otherwise.
func OptionalUser(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := userFromToken(c, secret); userID != "" {
			c.Set(userIDKey, userID)
		}
		c.Next()
	}
}

func userFromToken(c *gin.Context, secret string) string {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	raw := strings.TrimPrefix(auth, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return ""
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// currentUserID returns the resolved user for the request, or "".
func currentUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
