package config

// ProviderConfig describes one OpenAI-compatible chat completion upstream
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GetGeminiConfig returns the Gemini provider configuration. Gemini exposes an
// OpenAI-compatible surface under /v1beta/openai.
func GetGeminiConfig() ProviderConfig {
	return ProviderConfig{
		APIKey:  GetEnvOrDefault("GEMINI_API_KEY", ""),
		BaseURL: GetEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		Model:   GetEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
	}
}

// GetGroqConfig returns the Groq provider configuration
func GetGroqConfig() ProviderConfig {
	return ProviderConfig{
		APIKey:  GetEnvOrDefault("GROQ_API_KEY", ""),
		BaseURL: GetEnvOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		Model:   GetEnvOrDefault("GROQ_MODEL", "llama-3.3-70b-versatile"),
	}
}

// GetDefaultModelSelector returns the provider used when the client asks for "auto"
func GetDefaultModelSelector() string {
	return GetEnvOrDefault("AI_DEFAULT_MODEL_SELECTOR", "gemini")
}
