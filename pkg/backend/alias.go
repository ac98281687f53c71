package backend

import "os"

// aliasDefaults describes a well-known speed-tier backend's default base
// URL and the env vars that hold its credentials, mirroring the
// three-tier precedence from the teacher's WithProviderAlias: explicit
// config wins, then a provider-specific env var, then a hardcoded
// default.
type aliasDefaults struct {
	apiKeyEnv  string
	baseURLEnv string
	defaultURL string
}

var knownAliases = map[string]aliasDefaults{
	"groq":     {apiKeyEnv: "GROQ_API_KEY", baseURLEnv: "GROQ_BASE_URL", defaultURL: "https://api.groq.com/openai/v1"},
	"deepseek": {apiKeyEnv: "DEEPSEEK_API_KEY", baseURLEnv: "DEEPSEEK_BASE_URL", defaultURL: "https://api.deepseek.com"},
	"together": {apiKeyEnv: "TOGETHER_API_KEY", baseURLEnv: "TOGETHER_BASE_URL", defaultURL: "https://api.together.xyz/v1"},
	"xai":      {apiKeyEnv: "XAI_API_KEY", baseURLEnv: "XAI_BASE_URL", defaultURL: "https://api.x.ai/v1"},
	"ollama":   {baseURLEnv: "OLLAMA_BASE_URL", defaultURL: "http://localhost:11434"},
}

// ResolveAlias returns the base URL and API key for a known speed-tier
// provider alias, applying env-var overrides. explicitURL/explicitKey
// take precedence over anything auto-configured, so callers that already
// set a value in their YAML config are never second-guessed.
func ResolveAlias(alias, explicitURL, explicitKey string) (baseURL, apiKey string, ok bool) {
	d, known := knownAliases[alias]
	if !known {
		return explicitURL, explicitKey, false
	}

	baseURL = explicitURL
	apiKey = explicitKey

	if baseURL == "" {
		if d.baseURLEnv != "" {
			baseURL = firstNonEmpty(os.Getenv(d.baseURLEnv), d.defaultURL)
		} else {
			baseURL = d.defaultURL
		}
	}
	if apiKey == "" && d.apiKeyEnv != "" {
		apiKey = os.Getenv(d.apiKeyEnv)
	}

	return baseURL, apiKey, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
