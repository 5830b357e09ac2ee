package votecredit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epochPage = `<html><body>
<table>
  <tr><th>Bucket</th><th>Slots</th></tr>
  <tr><td>1</td><td><a href="/bucket/1">view</a></td></tr>
  <tr><td>3</td><td><a href="/bucket/3">view</a></td></tr>
  <tr><td>2</td><td><a href="/bucket/2">view</a></td></tr>
  <tr><td>n/a</td><td>-</td></tr>
</table>
<table><tr><td>99</td><td>ignored</td></tr></table>
</body></html>`

func bucketPage(credits ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><table><tr><th>Slot</th><th>Vote</th><th>Latency</th><th>Credits</th></tr>")
	for i, c := range credits {
		fmt.Fprintf(&b, "<tr><td>%d</td><td>v</td><td>1</td><td>%s</td></tr>", i, c)
	}
	b.WriteString("<tr><td>short</td></tr></table></body></html>")
	return b.String()
}

func TestScraperMaxBucket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vote-history/Vote1/epoch/812", r.URL.Path)
		assert.Equal(t, "watch-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(epochPage))
	}))
	defer srv.Close()

	s := NewScraper(Options{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "watch-test"}, zerolog.Nop())
	bucket, err := s.MaxBucket(context.Background(), "Vote1", 812)
	require.NoError(t, err)
	assert.Equal(t, 3, bucket)
}

func TestScraperMaxBucketEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<table><tr><th>none</th></tr></table>`))
	}))
	defer srv.Close()

	s := NewScraper(Options{BaseURL: srv.URL}, zerolog.Nop())
	_, err := s.MaxBucket(context.Background(), "Vote1", 1)
	assert.ErrorIs(t, err, ErrNoBuckets)
}

func TestScraperCredits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vote-history/Vote1/epoch/812/bucket/3", r.URL.Path)
		_, _ = w.Write([]byte(bucketPage("16", " 8 ", "x", "12.5 cr")))
	}))
	defer srv.Close()

	s := NewScraper(Options{BaseURL: srv.URL}, zerolog.Nop())
	credits, err := s.Credits(context.Background(), "Vote1", 812, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{16, 8, 12.5}, credits)
}

func TestScraperHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewScraper(Options{BaseURL: srv.URL}, zerolog.Nop())
	_, err := s.Credits(context.Background(), "Vote1", 1, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
