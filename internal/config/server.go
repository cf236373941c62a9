package config

// GetListenAddr returns the address the realtime backend binds to
func GetListenAddr() string {
	return GetEnvOrDefault("LISTEN_ADDR", ":8000")
}
