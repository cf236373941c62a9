package config

import "sync"

var (
	sessionSecretMu sync.RWMutex
	// SessionSecret is the secret key used to validate session tokens issued by the login flow
	SessionSecret = []byte(GetEnvOrDefault("SESSION_SECRET", "change-me-session-secret"))

	// SessionHeaderName is the header carrying the caller's session token
	SessionHeaderName = GetEnvOrDefault("SESSION_HEADER_NAME", "x-session-token")
)

// GetSessionSecret returns the current session secret in a thread-safe manner
func GetSessionSecret() []byte {
	sessionSecretMu.RLock()
	defer sessionSecretMu.RUnlock()
	return SessionSecret
}

// SetSessionSecret temporarily changes the session secret and returns a function to restore it
// This is primarily used for testing
func SetSessionSecret(secret []byte) func() {
	sessionSecretMu.Lock()
	previous := SessionSecret
	SessionSecret = secret
	sessionSecretMu.Unlock()

	return func() {
		sessionSecretMu.Lock()
		SessionSecret = previous
		sessionSecretMu.Unlock()
	}
}

// GetSessionHeaderName returns the configured session header name
func GetSessionHeaderName() string {
	return SessionHeaderName
}
