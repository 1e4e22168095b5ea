// Package auth obtains identity tokens for calling the matching service.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jonathan/scout-agent/internal/fetch"
)

// DefaultIAMEndpoint is the IAM credentials API base URL.
const DefaultIAMEndpoint = "https://iamcredentials.googleapis.com/v1"

// cloudPlatformScope is the OAuth scope needed for generateIdToken.
const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// expirySkew refreshes tokens slightly before they expire.
const expirySkew = time.Minute

// fallbackTTL is used when a token carries no exp claim.
const fallbackTTL = 10 * time.Minute

// TokenProvider returns a bearer token for the matching service.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// IDTokenProvider exchanges an OAuth access token for a service-account identity token.
// Tokens are cached until shortly before their exp claim.
type IDTokenProvider struct {
	fc             *fetch.Client
	source         oauth2.TokenSource
	serviceAccount string
	audience       string
	endpoint       string
	now            func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewIDTokenProvider creates a provider for serviceAccount with the given audience.
func NewIDTokenProvider(fc *fetch.Client, source oauth2.TokenSource, serviceAccount, audience string) *IDTokenProvider {
	return &IDTokenProvider{
		fc:             fc,
		source:         source,
		serviceAccount: serviceAccount,
		audience:       audience,
		endpoint:       DefaultIAMEndpoint,
		now:            time.Now,
	}
}

// WithEndpoint overrides the IAM endpoint.
func (p *IDTokenProvider) WithEndpoint(endpoint string) *IDTokenProvider {
	p.endpoint = endpoint
	return p
}

// DefaultSource returns application default credentials scoped for IAM.
func DefaultSource(ctx context.Context) (oauth2.TokenSource, error) {
	source, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("failed to load default credentials: %w", err)
	}
	return source, nil
}

// StaticSource wraps a fixed access token.
func StaticSource(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
}

// Token returns a cached identity token or fetches a new one.
func (p *IDTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Before(p.expiry) {
		return p.token, nil
	}

	access, err := p.source.Token()
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}

	body, err := json.Marshal(map[string]any{"audience": p.audience, "includeEmail": true})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	target := fmt.Sprintf("%s/projects/-/serviceAccounts/%s:generateIdToken", p.endpoint, url.PathEscape(p.serviceAccount))
	resp, err := p.fc.Call(ctx, fetch.Request{
		Method:  http.MethodPost,
		URL:     target,
		Body:    body,
		Headers: map[string]string{"Authorization": "Bearer " + access.AccessToken},
	})
	if err != nil {
		return "", fmt.Errorf("generateIdToken failed: %w", err)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("failed to decode generateIdToken response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("generateIdToken returned an empty token")
	}

	p.token = out.Token
	p.expiry = p.now().Add(fallbackTTL)
	if exp, ok := TokenExpiry(out.Token); ok {
		p.expiry = exp.Add(-expirySkew)
	}
	return p.token, nil
}

// TokenExpiry reads the exp claim without verifying the signature.
// The token comes straight from the issuer and is only forwarded.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Static is a TokenProvider for a fixed bearer token.
type Static string

// Token returns the fixed token.
func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}
