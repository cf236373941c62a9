package config

import (
	"sync"
	"time"
)

var (
	wsTokenSecretMu sync.RWMutex
	// WSTokenSecret is the secret key used to sign channel tokens
	// In production, this should be loaded from environment variables
	WSTokenSecret = []byte(GetEnvOrDefault("WS_TOKEN_SECRET", "change-me-channel-secret"))

	// WSTokenLifetime bounds how long an issued channel token stays redeemable
	WSTokenLifetime = 60 * time.Second
)

// GetWSTokenSecret returns the current channel token secret in a thread-safe manner
func GetWSTokenSecret() []byte {
	wsTokenSecretMu.RLock()
	defer wsTokenSecretMu.RUnlock()
	return WSTokenSecret
}

// SetWSTokenSecret temporarily changes the channel token secret and returns a function to restore it
// This is primarily used for testing
func SetWSTokenSecret(secret []byte) func() {
	wsTokenSecretMu.Lock()
	previous := WSTokenSecret
	WSTokenSecret = secret
	wsTokenSecretMu.Unlock()

	return func() {
		wsTokenSecretMu.Lock()
		WSTokenSecret = previous
		wsTokenSecretMu.Unlock()
	}
}
