package api

import (
	"errors"
	"net/http"
	"strings"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const callerKey = "caller"

// Claims is the bearer token issued by the marketplace's auth service.
type Claims struct {
	VendorID int64  `json:"vendor_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func parseToken(secret, tokenStr string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.VendorID <= 0 {
		return nil, errors.New("token carries no vendor")
	}
	return claims, nil
}

// AuthMiddleware verifies the bearer token and stores the caller identity
func AuthMiddleware(secret string) gin.HandlerFunc {
	logger := util.GetLogger()

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must be: Bearer <token>",
				"code":  "MISSING_AUTH_HEADER",
			})
			return
		}

		claims, err := parseToken(secret, strings.TrimSpace(parts[1]))
		if err != nil {
			code := "INVALID_TOKEN"
			if errors.Is(err, jwt.ErrTokenExpired) {
				code = "TOKEN_EXPIRED"
			}
			logger.Info("Auth failed",
				zap.String("path", c.Request.URL.Path),
				zap.String("code", code),
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
				"code":  code,
			})
			return
		}

		role := claims.Role
		if role == "" {
			role = models.RoleVendor
		}
		c.Set(callerKey, models.CallerIdentity{VendorID: claims.VendorID, Role: role})
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin role
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !callerFrom(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin role required"})
			return
		}
		c.Next()
	}
}

func callerFrom(c *gin.Context) models.CallerIdentity {
	v, _ := c.Get(callerKey)
	caller, _ := v.(models.CallerIdentity)
	return caller
}
