package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "userID"

// Auth validates the Bearer token and stores the authenticated user id
// on the request context. Token issuance belongs to the auth
// collaborator; this layer only verifies.
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		userID, err := ParseUserID(strings.TrimPrefix(h, "Bearer "), jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// ParseUserID verifies an HMAC-signed token and returns its subject.
// Shared with the websocket upgrade path, where browsers cannot set an
// Authorization header and the token arrives as a query parameter.
func ParseUserID(tokenStr, secret string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", jwt.ErrTokenUnverifiable
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", jwt.ErrTokenInvalidClaims
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", jwt.ErrTokenRequiredClaimMissing
	}
	return sub, nil
}

// WSAuth authenticates the websocket upgrade request. Browser websocket
// clients cannot set headers, so the token travels as ?token=.
func WSAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		userID, err := ParseUserID(tokenStr, jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// MustUserID returns the authenticated user id set by Auth or WSAuth.
// A missing id means the route was wired without an auth middleware,
// which is a startup-ordering bug, so fail loudly rather than let an
// empty id masquerade as a user downstream.
func MustUserID(c *gin.Context) string {
	v, _ := c.Get(userIDKey)
	id, _ := v.(string)
	if id == "" {
		panic("middleware: MustUserID on a request without an authenticated user")
	}
	return id
}
