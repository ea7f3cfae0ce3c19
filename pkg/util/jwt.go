package util

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tasksync/internal/model"
)

// SessionClaims carry the identity a session token was minted for.
type SessionClaims struct {
	Name string     `json:"name"`
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// GenerateJWT mints an HS256 session token for id.
func GenerateJWT(id model.Identity, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := SessionClaims{
		Name: id.Name,
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseJWT validates the token and returns the identity it carries.
func ParseJWT(tokenStr, secret string) (model.Identity, error) {
	var claims SessionClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Identity{}, err
	}
	if !token.Valid {
		return model.Identity{}, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return model.Identity{}, fmt.Errorf("%w: missing subject or role", jwt.ErrTokenMalformed)
	}

	return model.Identity{ID: claims.Subject, Name: claims.Name, Role: claims.Role}, nil
}

// ExtractToken returns the bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}
