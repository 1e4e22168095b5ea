// Package matching calls the candidate-to-job matching service.
package matching

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jonathan/scout-agent/internal/auth"
	"github.com/jonathan/scout-agent/internal/fetch"
)

// Mode selects the matching service flow
type Mode string

// Supported modes
const (
	ModeScout  Mode = "scout"
	ModeInMail Mode = "inmail"
)

// Client posts packed envelopes to the matching service
type Client struct {
	baseURL string
	fc      *fetch.Client
	tokens  auth.TokenProvider // nil when the service is public
}

// NewClient creates a matching client for baseURL.
func NewClient(baseURL string, fc *fetch.Client, tokens auth.TokenProvider) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid matching service URL %q", baseURL)
	}
	return &Client{baseURL: baseURL, fc: fc, tokens: tokens}, nil
}

// Match sends body in the given mode and returns the raw response body.
func (c *Client) Match(ctx context.Context, mode Mode, body []byte) ([]byte, error) {
	u, _ := url.Parse(c.baseURL)
	q := u.Query()
	q.Set("mode", string(mode))
	u.RawQuery = q.Encode()

	headers := map[string]string{}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get identity token: %w", err)
		}
		headers["Authorization"] = "Bearer " + token
	}

	resp, err := c.fc.Call(ctx, fetch.Request{Method: http.MethodPost, URL: u.String(), Body: body, Headers: headers})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
