package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/top250-crawler/internal/catalog"
)

func newTestFetcher(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	f := New(cfg, zap.NewNop())
	f.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return f
}

func TestFetchSucceedsOnFirstAttempt(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<html><body>start=%s</body></html>", r.URL.Query().Get("start"))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(Config{MaxRetries: 3})
	doc, err := f.Fetch(context.Background(), srv.URL+"/top250", url.Values{"start": {"25"}})
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())
	require.Equal(t, http.StatusOK, doc.StatusCode)
	require.Equal(t, 1, doc.Attempts)
	require.Contains(t, string(doc.Body), "start=25")
	require.Equal(t, srv.URL+"/top250?start=25", doc.URL)
	require.Equal(t, doc.URL, doc.FinalURL)
}

func TestFetchRetriesUntilExhausted(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(Config{MaxRetries: 2})
	_, err := f.Fetch(context.Background(), srv.URL, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrStatus)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 3, fetchErr.Attempts)
	require.Equal(t, int32(3), hits.Load())
}

func TestFetchRecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(Config{MaxRetries: 3})
	doc, err := f.Fetch(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, 2, doc.Attempts)
	require.Equal(t, int32(2), hits.Load())
}

func TestFetchDetectsChallengeRedirect(t *testing.T) {
	t.Parallel()

	challenge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>please verify</html>"))
	}))
	t.Cleanup(challenge.Close)

	var hits atomic.Int32
	listing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, challenge.URL+"/login", http.StatusFound)
	}))
	t.Cleanup(listing.Close)

	challengeHost := mustParseURL(t, challenge.URL).Host
	f := newTestFetcher(Config{MaxRetries: 1, ChallengeHosts: []string{challengeHost}})
	_, err := f.Fetch(context.Background(), listing.URL, nil)
	require.ErrorIs(t, err, ErrChallenge)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 2, fetchErr.Attempts)
	require.Equal(t, int32(2), hits.Load())
}

func TestFetchSendsHeadersAndPooledUserAgent(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		agents  []string
		referer string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.UserAgent())
		referer = r.Header.Get("Referer")
		mu.Unlock()
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	pool := []string{"agent-a", "agent-b"}
	f := newTestFetcher(Config{
		UserAgents: pool,
		Headers:    map[string]string{"Referer": "https://www.douban.com/"},
	})
	for i := 0; i < 4; i++ {
		_, err := f.Fetch(context.Background(), srv.URL, nil)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, agents, 4)
	for _, ua := range agents {
		require.Contains(t, pool, ua)
	}
	require.Equal(t, "https://www.douban.com/", referer)
}

func TestFetchStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	f := newTestFetcher(Config{MaxRetries: 5})
	calls := 0
	f.sleep = func(ctx context.Context, _ time.Duration) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return ctx.Err()
	}

	_, err := f.Fetch(ctx, srv.URL, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(Config{})
	_, err := f.Fetch(context.Background(), "/top250", nil)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Zero(t, fetchErr.Attempts)
}

func TestThrottleDelayWithinBounds(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(Config{MinDelay: time.Second, MaxDelay: 3 * time.Second})
	var slept []time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	f.jitter = func(int64) int64 { return 0 }
	require.NoError(t, f.throttle(context.Background(), "https://movie.douban.com/top250"))
	f.jitter = func(n int64) int64 { return n - 1 }
	require.NoError(t, f.throttle(context.Background(), "https://movie.douban.com/top250"))

	require.Equal(t, []time.Duration{time.Second, 3 * time.Second}, slept)
}

type recordingLimiter struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, rawURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, rawURL)
	return l.err
}

func TestFetchWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	limiter := &recordingLimiter{}
	f := newTestFetcher(Config{Limiter: limiter})
	_, err := f.Fetch(context.Background(), srv.URL, url.Values{"start": {"0"}})
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL + "?start=0"}, limiter.urls)

	limiter.err = context.DeadlineExceeded
	_, err = f.Fetch(context.Background(), srv.URL, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Zero(t, fetchErr.Attempts)
}

func TestNextDelayFixedWhenBoundsEqual(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(Config{MinDelay: 500 * time.Millisecond, MaxDelay: 100 * time.Millisecond})
	f.jitter = func(int64) int64 {
		t.Fatal("jitter should not be consulted for an empty range")
		return 0
	}
	require.Equal(t, 500*time.Millisecond, f.nextDelay())
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(Config{Headers: map[string]string{"Accept-Language": "zh-CN"}})
	start := time.Now()
	result := catalog.Document{URL: "https://movie.douban.com/top250"}
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, "agent-x", start, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "zh-CN", collyReq.Headers.Get("Accept-Language"))
	require.Equal(t, "agent-x", collyReq.Headers.Get("User-Agent"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://sec.douban.com/check")},
	})
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "https://movie.douban.com/top250", result.URL)
	require.Equal(t, "https://sec.douban.com/check", result.FinalURL)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
	require.Equal(t, http.StatusBadGateway, result.StatusCode)
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	got, err := buildURL("https://movie.douban.com/top250?filter=&start=0", url.Values{"start": {"50"}})
	require.NoError(t, err)
	require.Equal(t, "https://movie.douban.com/top250?filter=&start=50", got)

	got, err = buildURL("https://movie.douban.com/top250", nil)
	require.NoError(t, err)
	require.Equal(t, "https://movie.douban.com/top250", got)

	_, err = buildURL("movie.douban.com/top250", nil)
	require.Error(t, err)
}

func TestIsChallengeURL(t *testing.T) {
	t.Parallel()

	hosts := []string{"accounts.douban.com", "127.0.0.1:9999"}
	cases := []struct {
		raw  string
		want bool
	}{
		{"https://accounts.douban.com/passport/login", true},
		{"https://ACCOUNTS.douban.com/", true},
		{"https://eu.accounts.douban.com/", true},
		{"http://127.0.0.1:9999/verify", true},
		{"https://movie.douban.com/top250", false},
		{"https://notaccounts.douban.com/", false},
		{"", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, isChallengeURL(tc.raw, hosts), tc.raw)
	}
	require.False(t, isChallengeURL("https://accounts.douban.com/", nil))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, outcomeSuccess, classify(nil))
	require.Equal(t, outcomeChallenge, classify(fmt.Errorf("wrap: %w", ErrChallenge)))
	require.Equal(t, outcomeStatus, classify(fmt.Errorf("%w: 500", ErrStatus)))
	require.Equal(t, outcomeCanceled, classify(context.DeadlineExceeded))
	require.Equal(t, outcomeNetwork, classify(errors.New("connection reset")))
}

func TestSleepWithContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepWithContext(ctx, time.Hour), context.Canceled)
	require.ErrorIs(t, sleepWithContext(ctx, 0), context.Canceled)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
