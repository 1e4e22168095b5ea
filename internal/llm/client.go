package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jonathan/scout-agent/internal/fetch"
)

// Client is an abstraction over LLM providers
type Client interface {
	// GenerateContent generates text content using the specified model tier
	GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GenerateJSON generates JSON content using the specified model tier
	GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GetModel returns the underlying provider model for a tier
	GetModel(tier ModelTier) string
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a new LLM client based on configuration.
// The REST provider sends every request through fc; the SDK provider retries
// under fc's policy.
func NewClient(ctx context.Context, config *Config, apiKey string, fc *fetch.Client, logger *slog.Logger) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderGemini:
		policy := fetch.DefaultPolicy()
		if fc != nil {
			policy = fc.Policy()
		}
		return NewGeminiClient(ctx, config, apiKey, policy, logger)
	default:
		return NewRESTClient(config, apiKey, fc, logger)
	}
}

// GeminiClient implements Client with the Gemini Go SDK.
// Rate-limited and unavailable responses are retried under policy.
type GeminiClient struct {
	client *genai.Client
	config *Config
	policy fetch.Policy
	sleep  fetch.Sleeper
	logger *slog.Logger
}

// NewGeminiClient creates a new Gemini SDK client
func NewGeminiClient(ctx context.Context, config *Config, apiKey string, policy fetch.Policy, logger *slog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
		policy: policy,
		sleep:  fetch.Sleep,
		logger: logger,
	}, nil
}

// GenerateContent generates text content using the specified model tier
func (c *GeminiClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return c.generate(ctx, prompt, tier, false)
}

// GenerateJSON generates JSON content using the specified model tier
func (c *GeminiClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	text, err := c.generate(ctx, prompt, tier, true)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

func (c *GeminiClient) generate(ctx context.Context, prompt string, tier ModelTier, asJSON bool) (string, error) {
	models := c.config.Candidates(tier)
	if len(models) == 0 {
		return "", fmt.Errorf("no model configured for tier %s", tier)
	}

	var lastErr error
	for _, modelName := range models {
		model := c.client.GenerativeModel(modelName)
		model.SetTemperature(c.config.Temperature)
		if c.config.MaxOutputTokens > 0 {
			model.SetMaxOutputTokens(c.config.MaxOutputTokens)
		}
		if asJSON {
			model.ResponseMIMEType = "application/json"
		}

		var resp *genai.GenerateContentResponse
		err := c.withRetry(ctx, modelName, func() (err error) {
			resp, err = model.GenerateContent(ctx, genai.Text(prompt))
			return err
		})
		if err != nil {
			if sdkStatus(err) == http.StatusNotFound {
				c.logger.Warn("llm.model_not_found", "model", modelName)
				lastErr = err
				continue
			}
			return "", &APICallError{Model: modelName, Message: "failed to generate content", Cause: err}
		}
		return extractTextFromResponse(resp)
	}
	return "", &APICallError{Message: "no available model", Cause: lastErr}
}

// withRetry runs call until it succeeds, fails permanently or exhausts the policy.
// Rate limits are bounded by RateLimitBudget, or by MaxRetries when no budget is set.
func (c *GeminiClient) withRetry(ctx context.Context, modelName string, call func() error) error {
	rateLimitBudget := c.policy.RateLimitBudget
	if rateLimitBudget <= 0 {
		rateLimitBudget = c.policy.MaxRetries
	}

	var attempt, waits int
	for {
		err := call()
		if err == nil || ctx.Err() != nil {
			return err
		}

		var wait time.Duration
		switch kind := sdkKind(err); kind {
		case fetch.KindRateLimited:
			if waits >= rateLimitBudget {
				return err
			}
			wait = c.policy.Backoff(waits)
			if c.policy.MaxRateLimitWait > 0 {
				wait = min(wait, c.policy.MaxRateLimitWait)
			}
			waits++
		case fetch.KindTransient:
			if attempt >= c.policy.MaxRetries {
				return err
			}
			wait = c.policy.Backoff(attempt)
			attempt++
		default:
			return err
		}

		c.logger.Warn("llm.retry", "model", modelName, "error", err.Error(),
			"attempt", attempt, "rate_limit_waits", waits, "wait_ms", wait.Milliseconds())
		if serr := c.sleep(ctx, wait); serr != nil {
			return serr
		}
	}
}

// sdkStatus returns the HTTP status carried by an SDK error, or 0.
func sdkStatus(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	switch status.Code(err) {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Internal:
		return http.StatusInternalServerError
	}
	return 0
}

// sdkKind classifies an SDK error the way fetch classifies HTTP statuses.
func sdkKind(err error) fetch.Kind {
	code := sdkStatus(err)
	switch {
	case code == http.StatusTooManyRequests:
		return fetch.KindRateLimited
	case code >= 500:
		return fetch.KindTransient
	}
	return fetch.KindPermanent
}

// GetModel returns the model name for a tier
func (c *GeminiClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}
