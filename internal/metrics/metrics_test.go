package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://Movie.Douban.com/top250?start=25", "movie.douban.com"},
		{"no scheme", "movie.douban.com/top250", "movie.douban.com"},
		{"host with port", "127.0.0.1:8080", "127.0.0.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if crawlerPagesTotal == nil || fetchAttemptsTotal == nil || parseOutcomesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	beforePages := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("movie.douban.com", "success"))
	ObservePage("https://movie.douban.com/top250", "success", 2048)
	if got := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("movie.douban.com", "success")); got != beforePages+1 {
		t.Errorf("expected page counter %f, got %f", beforePages+1, got)
	}

	beforeAttempts := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("challenge"))
	ObserveFetchAttempt("challenge", 30*time.Millisecond)
	if got := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("challenge")); got != beforeAttempts+1 {
		t.Errorf("expected attempt counter %f, got %f", beforeAttempts+1, got)
	}

	beforeOutcomes := testutil.ToFloat64(parseOutcomesTotal.WithLabelValues("filtered", "duplicate"))
	ObserveOutcome("filtered", "duplicate")
	if got := testutil.ToFloat64(parseOutcomesTotal.WithLabelValues("filtered", "duplicate")); got != beforeOutcomes+1 {
		t.Errorf("expected outcome counter %f, got %f", beforeOutcomes+1, got)
	}

	ObserveDelay(1500 * time.Millisecond)
	ObserveRun(12, 11, time.Minute)
	if got := testutil.ToFloat64(pipelineRecordsCleaned); got != 11 {
		t.Errorf("expected cleaned gauge 11, got %f", got)
	}

	beforeHTTP := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/healthz", "200"))
	ObserveHTTPRequest("GET", "/healthz", 200, 5*time.Millisecond)
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/healthz", "200")); got != beforeHTTP+1 {
		t.Errorf("expected http counter %f, got %f", beforeHTTP+1, got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://movie.douban.com/top250", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if out := SanitizeSite(orig); out == "" {
			t.Errorf("SanitizeSite(%q) returned empty string", orig)
		}
	})
}
