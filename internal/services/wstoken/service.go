package wstoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mailfold/relay/internal/config"
	"github.com/mailfold/relay/internal/infrastructure/redis"
)

// ErrTokenConsumed is returned when a syntactically valid token has already
// been redeemed or was never issued by this process group.
var ErrTokenConsumed = errors.New("channel token already used or expired")

// Claims carried inside a signed channel token. The jti doubles as the
// single-use marker in the store.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// TokenInfo is what the store remembers about an issued, not-yet-redeemed token.
type TokenInfo struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type TokenStore interface {
	Set(ctx context.Context, jti string, info *TokenInfo) error
	Get(ctx context.Context, jti string) (*TokenInfo, error)
	Delete(ctx context.Context, jti string) error
}

type RedisStore struct {
	redisService *redis.Service
}

type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*TokenInfo
}

// Service issues and redeems single-use short-lived channel tokens. Each token
// authorizes exactly one websocket connection attempt.
type Service struct {
	store TokenStore
}

func NewService(redisService *redis.Service) *Service {
	var store TokenStore
	if redisService != nil {
		// Test Redis connection
		ctx := context.Background()
		if err := redisService.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("Redis connection failed")
			log.Warn().Msg("Falling back to in-memory channel token storage")
			store = newMemoryStore()
		} else {
			log.Info().Msg("Using Redis for channel token storage")
			store = &RedisStore{redisService: redisService}
		}
	} else {
		log.Info().Msg("Using in-memory channel token storage")
		store = newMemoryStore()
	}

	return &Service{store: store}
}

func newMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]*TokenInfo),
	}
}

// Redis store implementation
func (rs *RedisStore) Set(ctx context.Context, jti string, info *TokenInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return rs.redisService.Set(ctx, "WSToken:"+jti, string(data), config.WSTokenLifetime)
}

func (rs *RedisStore) Get(ctx context.Context, jti string) (*TokenInfo, error) {
	data, err := rs.redisService.Get(ctx, "WSToken:"+jti)
	if err != nil || data == "" {
		return nil, nil
	}

	var info TokenInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, err
	}

	if time.Now().After(info.ExpiresAt) {
		if err := rs.Delete(ctx, jti); err != nil {
			log.Warn().Err(err).Msg("Failed to delete expired channel token")
		}
		return nil, nil
	}

	return &info, nil
}

func (rs *RedisStore) Delete(ctx context.Context, jti string) error {
	return rs.redisService.Delete(ctx, "WSToken:"+jti)
}

// Memory store implementation
func (ms *MemoryStore) Set(ctx context.Context, jti string, info *TokenInfo) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.tokens[jti] = info
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, jti string) (*TokenInfo, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	info, exists := ms.tokens[jti]
	if !exists {
		return nil, nil
	}

	if time.Now().After(info.ExpiresAt) {
		return nil, nil
	}

	return info, nil
}

func (ms *MemoryStore) Delete(ctx context.Context, jti string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.tokens, jti)
	return nil
}

// Issue mints a signed channel token bound to the user and records its jti so
// it can be redeemed exactly once.
func (s *Service) Issue(ctx context.Context, userID string) (string, error) {
	now := time.Now()
	expiresAt := now.Add(config.WSTokenLifetime)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(config.GetWSTokenSecret())
	if err != nil {
		return "", fmt.Errorf("failed to sign channel token: %w", err)
	}

	info := &TokenInfo{
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	if err := s.store.Set(ctx, claims.ID, info); err != nil {
		return "", fmt.Errorf("failed to record channel token: %w", err)
	}

	return signed, nil
}

// Consume validates a channel token and invalidates it in the same step. A
// second redemption of the same token fails with ErrTokenConsumed.
func (s *Service) Consume(ctx context.Context, tokenString string) (*TokenInfo, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return config.GetWSTokenSecret(), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid channel token: %w", err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("channel token missing jti")
	}

	info, err := s.store.Get(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrTokenConsumed
	}

	if err := s.store.Delete(ctx, claims.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate channel token after redemption")
	}

	return info, nil
}
