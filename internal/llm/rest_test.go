package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/scout-agent/internal/fetch"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testREST(t *testing.T, handler http.HandlerFunc) (*RESTClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL + "/v1beta/models"
	fc := fetch.NewClient(fetch.Policy{MaxRetries: 2, BaseDelay: time.Millisecond}, fetch.WithSleeper(noSleep))
	client, err := NewRESTClient(cfg, "test-key", fc, nil)
	require.NoError(t, err)
	return client, srv
}

func textResponse(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}}},
	})
	return string(b)
}

func TestRESTClient_GenerateJSON(t *testing.T) {
	var gotPath, gotKey string
	var gotReq restRequest
	client, _ := testREST(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotReq)
		_, _ = w.Write([]byte(textResponse("```json\n{\"subject\": \"Hi\"}\n```")))
	})

	out, err := client.GenerateJSON(context.Background(), "write an in-mail", TierStandard)
	require.NoError(t, err)

	assert.Equal(t, `{"subject": "Hi"}`, out)
	assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotReq.Contents, 1)
	assert.Equal(t, "write an in-mail", gotReq.Contents[0].Parts[0].Text)
	assert.Equal(t, "application/json", gotReq.GenerationConfig.ResponseMIMEType)
	assert.InDelta(t, 0.6, gotReq.GenerationConfig.Temperature, 0.001)
}

func TestRESTClient_RetriesOverloaded(t *testing.T) {
	var calls int32
	client, _ := testREST(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(textResponse("hello")))
	})

	out, err := client.GenerateContent(context.Background(), "p", TierLite)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRESTClient_FallsBackOnModelNotFound(t *testing.T) {
	client, _ := testREST(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "gemini-2.5-pro") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(textResponse("from fallback")))
	})

	out, err := client.GenerateContent(context.Background(), "p", TierAdvanced)
	require.NoError(t, err)
	assert.Equal(t, "from fallback", out)
}

func TestRESTClient_PermanentError(t *testing.T) {
	client, _ := testREST(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.GenerateContent(context.Background(), "p", TierLite)
	require.Error(t, err)

	var apiErr *APICallError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "gemini-2.5-flash-lite", apiErr.Model)
	assert.True(t, errors.Is(err, fetch.ErrPermanent))
	assert.NotContains(t, err.Error(), "test-key")
}

func TestRESTClient_EmptyCandidates(t *testing.T) {
	client, _ := testREST(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": []}`))
	})

	_, err := client.GenerateContent(context.Background(), "p", TierLite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
}

func TestNewRESTClient_RequiresKey(t *testing.T) {
	_, err := NewRESTClient(nil, "", nil, nil)
	assert.Error(t, err)
}

func TestNewClient_DefaultsToREST(t *testing.T) {
	client, err := NewClient(context.Background(), nil, "k", nil, nil)
	require.NoError(t, err)
	_, ok := client.(*RESTClient)
	assert.True(t, ok)
	assert.NoError(t, client.Close())
}
