package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mailfold/relay/internal/config"
)

// SessionClaims describe the login session presented with every token
// issuance call. Sessions are minted by the login flow, which sits outside
// this service; we only validate them here.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// Service validates session tokens presented by the mail client.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Validate parses a session token and returns its claims when the signature
// and expiry check out.
func (s *Service) Validate(tokenString string) (*SessionClaims, error) {
	var claims SessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return config.GetSessionSecret(), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("session token missing user id")
	}
	return &claims, nil
}

// Issue mints a session token. The production login flow lives elsewhere;
// this exists for local development and tests.
func (s *Service) Issue(userID string, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(config.GetSessionSecret())
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}
