package fetch

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MaxRetryAfter bounds any server hint. Larger values, including ones that
// would overflow time.Duration, are reported as MaxRetryAfter.
const MaxRetryAfter = 24 * time.Hour

var bodyHintPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)"retryDelay"\s*:\s*"(\d+(?:\.\d+)?)s"`),
	regexp.MustCompile(`(?i)retry\s+(?:in|after)\s+(\d+(?:\.\d+)?)\s*(ms|s|sec|secs|seconds?)?\b`),
}

// RetryAfter extracts the server's wait hint from a 429 response.
// The Retry-After header wins (delta-seconds or HTTP date); the body is
// searched for "retry in 5s" style phrases and "retryDelay" fields next.
func RetryAfter(header http.Header, body []byte, now time.Time) (time.Duration, bool) {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if strings.Trim(v, "0123456789") == "" {
			// all digits; ParseFloat saturates to +Inf instead of wrapping
			secs, _ := strconv.ParseFloat(v, 64)
			return clampHint(secs, time.Second), true
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := at.Sub(now); d > 0 {
				return min(d, MaxRetryAfter), true
			}
			return 0, true
		}
	}

	for _, re := range bodyHintPatterns {
		m := re.FindSubmatch(body)
		if m == nil {
			continue
		}
		n, err := strconv.ParseFloat(string(m[1]), 64)
		if (err != nil && !errors.Is(err, strconv.ErrRange)) || n < 0 {
			continue
		}
		unit := time.Second
		if len(m) > 2 && strings.EqualFold(string(m[2]), "ms") {
			unit = time.Millisecond
		}
		return clampHint(n, unit), true
	}
	return 0, false
}

// clampHint converts n units to a Duration no larger than MaxRetryAfter.
func clampHint(n float64, unit time.Duration) time.Duration {
	if n*float64(unit) >= float64(MaxRetryAfter) {
		return MaxRetryAfter
	}
	return time.Duration(n * float64(unit))
}
