package paytrace

import (
	"context"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

const defaultSafetyMargin = 60 * time.Second

var (
	tokenRefreshSuccessCounter = metrics.GetOrCreateCounter(`paytrace_token_refresh_total{result="success"}`)
	tokenRefreshFailureCounter = metrics.GetOrCreateCounter(`paytrace_token_refresh_total{result="failure"}`)
)

// TokenFunc fetches a fresh bearer token and its lifetime from the
// processor's authentication endpoint.
type TokenFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenSource memoizes a single bearer token. The slot is refreshed once the
// clock moves inside the safety margin before expiry, and the mutex is held
// across the fetch so concurrent callers share one outstanding request
// instead of issuing duplicates.
type TokenSource struct {
	fetch  TokenFunc
	margin time.Duration
	now    func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenSource builds a token cache around fetch. margin <= 0 selects the
// 60s default; now may be nil for real time.
func NewTokenSource(fetch TokenFunc, margin time.Duration, now func() time.Time) *TokenSource {
	if margin <= 0 {
		margin = defaultSafetyMargin
	}
	if now == nil {
		now = time.Now
	}
	return &TokenSource{fetch: fetch, margin: margin, now: now}
}

// Token returns a valid bearer token, refreshing the cached one if it is
// within the safety margin of its expiry. A failed refresh falls back to the
// cached token while it is still strictly valid; otherwise the fetch error
// propagates.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiry.Add(-s.margin)) {
		return s.token, nil
	}

	token, expiresIn, err := s.fetch(ctx)
	if err != nil {
		tokenRefreshFailureCounter.Inc()
		if s.token != "" && s.now().Before(s.expiry) {
			return s.token, nil
		}
		return "", err
	}

	s.token = token
	s.expiry = s.now().Add(expiresIn)
	tokenRefreshSuccessCounter.Inc()
	return s.token, nil
}
