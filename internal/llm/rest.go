package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jonathan/scout-agent/internal/fetch"
)

// RESTClient calls the generateContent endpoint through the backoff client
type RESTClient struct {
	http   *fetch.Client
	config *Config
	apiKey string
	logger *slog.Logger
}

type restPart struct {
	Text string `json:"text"`
}

type restContent struct {
	Parts []restPart `json:"parts"`
}

type restGenerationConfig struct {
	Temperature      float32 `json:"temperature"`
	MaxOutputTokens  int32   `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type restRequest struct {
	Contents         []restContent        `json:"contents"`
	GenerationConfig restGenerationConfig `json:"generationConfig"`
}

type restResponse struct {
	Candidates []struct {
		Content struct {
			Parts []restPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// NewRESTClient creates a REST client. fc may be nil to use the default policy.
func NewRESTClient(config *Config, apiKey string, fc *fetch.Client, logger *slog.Logger) (*RESTClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if fc == nil {
		fc = fetch.NewClient(fetch.DefaultPolicy(), fetch.WithLogger(logger))
	}
	return &RESTClient{http: fc, config: config, apiKey: apiKey, logger: logger}, nil
}

// GenerateContent generates text content using the specified model tier
func (c *RESTClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return c.generate(ctx, prompt, tier, false)
}

// GenerateJSON generates JSON content using the specified model tier
func (c *RESTClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	text, err := c.generate(ctx, prompt, tier, true)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

// GetModel returns the model name for a tier
func (c *RESTClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close is a no-op; the backoff client owns no long-lived resources.
func (c *RESTClient) Close() error {
	return nil
}

func (c *RESTClient) generate(ctx context.Context, prompt string, tier ModelTier, asJSON bool) (string, error) {
	models := c.config.Candidates(tier)
	if len(models) == 0 {
		return "", fmt.Errorf("no model configured for tier %s", tier)
	}

	req := restRequest{
		Contents: []restContent{{Parts: []restPart{{Text: prompt}}}},
		GenerationConfig: restGenerationConfig{
			Temperature:     c.config.Temperature,
			MaxOutputTokens: c.config.MaxOutputTokens,
		},
	}
	if asJSON {
		req.GenerationConfig.ResponseMIMEType = "application/json"
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.config.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	var lastErr error
	for _, model := range models {
		target := fmt.Sprintf("%s/%s:generateContent?key=%s", endpoint, url.PathEscape(model), url.QueryEscape(c.apiKey))
		resp, err := c.http.Call(ctx, fetch.Request{Method: http.MethodPost, URL: target, Body: body})
		if err != nil {
			var ferr *fetch.Error
			if errors.As(err, &ferr) && ferr.StatusCode == http.StatusNotFound {
				c.logger.Warn("llm.model_not_found", "model", model)
				lastErr = err
				continue
			}
			return "", &APICallError{Model: model, Message: "generateContent failed", Cause: err}
		}

		text, err := extractRESTText(resp.Body)
		if err != nil {
			return "", &APICallError{Model: model, Message: "unexpected response", Cause: err}
		}
		return text, nil
	}
	return "", &APICallError{Message: "no available model", Cause: lastErr}
}

func extractRESTText(body []byte) (string, error) {
	var resp restResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	var parts []string
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}
