// Package llm provides the generative-text clients used to write outreach copy.
// Model tiers keep call sites independent of concrete model names.
package llm

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for short notes and simple rewrites
	TierLite ModelTier = "lite"
	// TierStandard is for structured output such as in-mail drafts
	TierStandard ModelTier = "standard"
	// TierAdvanced is for matching and ranking over a full catalog
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM backend
type Provider string

// Provider constants define supported LLM backends
const (
	// ProviderGemini uses the Gemini Go SDK
	ProviderGemini Provider = "gemini"
	// ProviderGeminiREST calls the generateContent REST endpoint through the backoff client
	ProviderGeminiREST Provider = "gemini-rest"
)

// DefaultEndpoint is the REST base URL for generateContent calls.
const DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

// Config holds the model configuration for the application
type Config struct {
	Provider        Provider
	Models          map[ModelTier]string
	Fallbacks       []string // tried in order when a model is not found
	Endpoint        string
	Temperature     float32
	MaxOutputTokens int32
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGeminiREST,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Fallbacks:       []string{"gemini-2.0-flash"},
		Endpoint:        DefaultEndpoint,
		Temperature:     0.6,
		MaxOutputTokens: 2048,
	}
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// Fallback chain: try standard, then lite
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return "" // No model configured
}

// Candidates returns the tier's model followed by the fallbacks, without duplicates.
func (c *Config) Candidates(tier ModelTier) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range append([]string{c.GetModel(tier)}, c.Fallbacks...) {
		if m != "" && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := *c
	newConfig.Models = make(map[ModelTier]string, len(c.Models)+1)
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	newConfig.Models[tier] = model
	newConfig.Fallbacks = append([]string(nil), c.Fallbacks...)
	return &newConfig
}
