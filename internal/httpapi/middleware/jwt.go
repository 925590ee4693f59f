// Package middleware holds the authentication and rate-limiting gin
// middlewares of the verification API.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// JWTClaims is the token claims structure.
type JWTClaims struct {
	UserID string `json:"sub"`
	JTI    string `json:"jti"` // token id, used for revocation
	jwt.RegisteredClaims
}

// JWTMiddleware validates bearer tokens and checks the Redis revocation
// blocklist.
type JWTMiddleware struct {
	secret          []byte
	redis           *redis.Client
	accessTTL       time.Duration
	issuer          string
	blocklistPrefix string
	logger          *zap.Logger
}

// NewJWTMiddleware creates the JWT middleware.
func NewJWTMiddleware(secret string, redisClient *redis.Client, accessTTL time.Duration, issuer string, logger *zap.Logger) *JWTMiddleware {
	return &JWTMiddleware{
		secret:          []byte(secret),
		redis:           redisClient,
		accessTTL:       accessTTL,
		issuer:          issuer,
		blocklistPrefix: "jwt:blocked:",
		logger:          logger,
	}
}

// Authenticate validates the bearer token and sets the user context.
func (j *JWTMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "Missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "Invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := j.parse(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "Invalid token"})
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		blocklisted, err := j.redis.Get(ctx, j.blocklistPrefix+claims.JTI).Result()
		if err != nil && err != redis.Nil {
			j.logger.Error("failed to check token blocklist", zap.Error(err))
			// Fail closed.
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "SERVICE_UNAVAILABLE", "message": "Token validation unavailable"})
			c.Abort()
			return
		}
		if blocklisted != "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "TOKEN_REVOKED", "message": "Token has been revoked"})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("jti", claims.JTI)
		c.Next()
	}
}

// GenerateAccessToken creates a signed access token for userID.
func (j *JWTMiddleware) GenerateAccessToken(userID string) (string, string, error) {
	jti := uuid.New().String()
	now := time.Now()

	claims := &JWTClaims{
		UserID: userID,
		JTI:    jti,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessTTL)),
			Issuer:    j.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secret)
	if err != nil {
		return "", "", err
	}
	return tokenString, jti, nil
}

// RevokeToken adds a token id to the blocklist for its remaining TTL.
func (j *JWTMiddleware) RevokeToken(ctx context.Context, jti string, remainingTTL time.Duration) error {
	return j.redis.Set(ctx, j.blocklistPrefix+jti, "1", remainingTTL).Err()
}

func (j *JWTMiddleware) parse(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
