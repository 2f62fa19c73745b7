package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/logger"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/requestdata"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/utils"
)

// IdentityClaims is the token shape issued by the surrounding platform. The
// Brain only decodes it; it never issues or refreshes tokens.
type IdentityClaims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"org_id"`
	Role           string `json:"role"`
}

type IdentityMiddleware struct {
	log    *logger.Logger
	secret []byte
}

func NewIdentityMiddleware(log *logger.Logger) *IdentityMiddleware {
	middlewareLog := log.With("Middleware", "IdentityMiddleware")
	secret := utils.GetEnv("JWT_SECRET_KEY", "", middlewareLog)
	if secret == "" {
		middlewareLog.Warn("JWT_SECRET_KEY is empty; all authenticated requests will be rejected")
	}
	return &IdentityMiddleware{log: middlewareLog, secret: []byte(secret)}
}

func (im *IdentityMiddleware) RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}

		rd, err := im.decode(tokenString)
		if err != nil {
			im.log.Debug("Token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}

		ctx := requestdata.WithRequestData(c.Request.Context(), rd)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (im *IdentityMiddleware) decode(tokenString string) (*requestdata.RequestData, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return im.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*IdentityClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	orgID, err := uuid.Parse(strings.TrimSpace(claims.OrganizationID))
	if err != nil {
		return nil, fmt.Errorf("invalid org_id: %w", err)
	}

	return &requestdata.RequestData{
		UserID:         userID,
		OrganizationID: orgID,
		Role:           strings.TrimSpace(claims.Role),
	}, nil
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
