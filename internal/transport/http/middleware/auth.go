package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const errUnauthorized = "Unauthorized"

var hmacOnly = jwt.WithValidMethods([]string{"HS256"})

// Auth validates the Bearer JWT minted at magic-link verification and puts
// its subject into the gin context as "userID". Expiry is enforced by the
// jwt library; an empty subject is rejected here.
func Auth(jwtKey []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		var claims jwt.RegisteredClaims
		token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return jwtKey, nil
		}, hmacOnly)
		if err != nil || !token.Valid || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		c.Set("userID", claims.Subject)
		c.Next()
	}
}
