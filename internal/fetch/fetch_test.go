package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func testPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxRateLimitWait: time.Minute}
}

// sequenceServer replies with the given statuses in order, repeating the last one.
func sequenceServer(t *testing.T, statuses []int, hook func(w http.ResponseWriter, n int)) (*httptest.Server, *int32) {
	t.Helper()
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(atomic.AddInt32(&count, 1)) - 1
		status := statuses[len(statuses)-1]
		if n < len(statuses) {
			status = statuses[n]
		}
		if hook != nil {
			hook(w, n)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &count
}

func TestCall_Success(t *testing.T) {
	var gotBody, gotAuth, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"positions":[]}`))
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	c := NewClient(testPolicy(), WithSleeper(rec.sleep))
	resp, err := c.Call(context.Background(), Request{
		URL:     srv.URL + "?mode=scout",
		Body:    []byte(`{"candidate":{}}`),
		Headers: map[string]string{"Authorization": "Bearer tok"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"positions":[]}`, string(resp.Body))
	assert.Equal(t, `{"candidate":{}}`, gotBody)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, 1, resp.State.Requests)
	assert.Empty(t, rec.recorded())
}

func TestCall_TransientExhaustsRetries(t *testing.T) {
	srv, count := sequenceServer(t, []int{http.StatusServiceUnavailable}, nil)

	rec := &sleepRecorder{}
	c := NewClient(testPolicy(), WithSleeper(rec.sleep))
	_, err := c.Call(context.Background(), Request{URL: srv.URL, Body: []byte(`{}`)})
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrTransient))
	assert.False(t, errors.Is(err, ErrPermanent))
	assert.Equal(t, int32(4), atomic.LoadInt32(count))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.recorded())

	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, http.StatusServiceUnavailable, ferr.StatusCode)
	assert.Equal(t, 3, ferr.State.Attempt)
	assert.Equal(t, 4, ferr.State.Requests)
	assert.True(t, ferr.Retryable())
}

func TestCall_NoRetriesMeansOneRequest(t *testing.T) {
	srv, count := sequenceServer(t, []int{http.StatusInternalServerError}, nil)

	policy := testPolicy()
	policy.MaxRetries = 0
	c := NewClient(policy, WithSleeper((&sleepRecorder{}).sleep))
	_, err := c.Call(context.Background(), Request{URL: srv.URL})

	assert.True(t, errors.Is(err, ErrTransient))
	assert.Equal(t, int32(1), atomic.LoadInt32(count))
}

func TestCall_RetryAfterHeaderHonored(t *testing.T) {
	srv, count := sequenceServer(t, []int{http.StatusTooManyRequests, http.StatusOK}, func(w http.ResponseWriter, n int) {
		if n == 0 {
			w.Header().Set("Retry-After", "5")
		}
	})

	rec := &sleepRecorder{}
	c := NewClient(testPolicy(), WithSleeper(rec.sleep))
	resp, err := c.Call(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{5000 * time.Millisecond}, rec.recorded())
	assert.Equal(t, int32(2), atomic.LoadInt32(count))
	assert.Equal(t, 0, resp.State.Attempt)
	assert.Equal(t, 1, resp.State.RateLimitWaits)
	assert.Equal(t, 5*time.Second, resp.State.Waited)
}

func TestCall_RateLimitDoesNotSpendRetries(t *testing.T) {
	srv, count := sequenceServer(t, []int{429, 429, 429, 429, 500, 200}, nil)

	policy := testPolicy()
	policy.MaxRetries = 1
	rec := &sleepRecorder{}
	c := NewClient(policy, WithSleeper(rec.sleep))
	resp, err := c.Call(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, int32(6), atomic.LoadInt32(count))
	assert.Equal(t, 1, resp.State.Attempt)
	assert.Equal(t, 4, resp.State.RateLimitWaits)
	// no hint: exponential fallback on the 429 count
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, time.Second,
	}, rec.recorded())
}

func TestCall_RateLimitBudget(t *testing.T) {
	srv, count := sequenceServer(t, []int{http.StatusTooManyRequests}, nil)

	policy := testPolicy()
	policy.RateLimitBudget = 2
	c := NewClient(policy, WithSleeper((&sleepRecorder{}).sleep))
	_, err := c.Call(context.Background(), Request{URL: srv.URL})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, int32(3), atomic.LoadInt32(count))
}

func TestCall_RateLimitWaitIsCapped(t *testing.T) {
	srv, _ := sequenceServer(t, []int{429, 200}, func(w http.ResponseWriter, n int) {
		w.Header().Set("Retry-After", "3600")
	})

	rec := &sleepRecorder{}
	c := NewClient(testPolicy(), WithSleeper(rec.sleep))
	_, err := c.Call(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{time.Minute}, rec.recorded())
}

func TestCall_HugeRetryAfterHeaderIsCapped(t *testing.T) {
	srv, _ := sequenceServer(t, []int{429, 200}, func(w http.ResponseWriter, n int) {
		if n == 0 {
			w.Header().Set("Retry-After", "10000000000")
		}
	})

	rec := &sleepRecorder{}
	c := NewClient(testPolicy(), WithSleeper(rec.sleep))
	resp, err := c.Call(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{time.Minute}, rec.recorded())
	assert.Equal(t, time.Minute, resp.State.Waited)
}

func TestCall_HugeBodyHintWithoutCap(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("quota exceeded, retry in 99999999999 seconds"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	policy := testPolicy()
	policy.MaxRateLimitWait = 0
	rec := &sleepRecorder{}
	c := NewClient(policy, WithSleeper(rec.sleep))
	_, err := c.Call(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{MaxRetryAfter}, rec.recorded())
}

func TestCall_PermanentFailsImmediately(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 422} {
		srv, count := sequenceServer(t, []int{status}, nil)

		rec := &sleepRecorder{}
		c := NewClient(testPolicy(), WithSleeper(rec.sleep))
		_, err := c.Call(context.Background(), Request{URL: srv.URL})

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPermanent), "status %d", status)
		assert.Equal(t, int32(1), atomic.LoadInt32(count))
		assert.Empty(t, rec.recorded())
	}
}

func TestCall_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	policy := testPolicy()
	policy.MaxRetries = 2
	rec := &sleepRecorder{}
	c := NewClient(policy, WithSleeper(rec.sleep))
	_, err := c.Call(context.Background(), Request{URL: url})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.Len(t, rec.recorded(), 2)
}

func TestCall_CancelDuringWait(t *testing.T) {
	srv, _ := sequenceServer(t, []int{http.StatusBadGateway}, nil)

	policy := testPolicy()
	policy.BaseDelay = time.Hour
	policy.MaxDelay = time.Hour
	c := NewClient(policy)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Call(ctx, Request{URL: srv.URL})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCall_InvalidURL(t *testing.T) {
	c := NewClient(testPolicy())
	_, err := c.Call(context.Background(), Request{URL: "not a url"})

	assert.True(t, errors.Is(err, ErrPermanent))
}

func TestCall_RedactsKeyInErrors(t *testing.T) {
	srv, _ := sequenceServer(t, []int{http.StatusForbidden}, nil)

	c := NewClient(testPolicy())
	_, err := c.Call(context.Background(), Request{URL: srv.URL + "/v1?key=secret123"})

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret123")
	assert.Contains(t, err.Error(), "REDACTED")
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
	assert.Equal(t, 10*time.Second, p.Backoff(4))
	assert.Equal(t, 10*time.Second, p.Backoff(60))
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
