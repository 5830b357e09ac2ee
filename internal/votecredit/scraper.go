// Package votecredit reads per-slot vote credits from the public vote-history pages.
package votecredit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrNoBuckets reports an epoch page without any bucket rows.
var ErrNoBuckets = errors.New("votecredit: no buckets listed")

// Options configure the scraper.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

// Scraper fetches vote-history pages. It is safe for concurrent use.
type Scraper struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewScraper builds a scraper for the vote-history site.
func NewScraper(opts Options, logger zerolog.Logger) *Scraper {
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = "https://app.vx.tools"
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Scraper{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "vote_scraper").Logger(),
	}
}

// EpochURL is the bucket index of one validator's epoch.
func (s *Scraper) EpochURL(voteAddress string, epoch uint64) string {
	return fmt.Sprintf("%s/vote-history/%s/epoch/%d", s.opts.BaseURL, url.PathEscape(voteAddress), epoch)
}

// BucketURL is the per-slot credit table of one bucket.
func (s *Scraper) BucketURL(voteAddress string, epoch uint64, bucket int) string {
	return fmt.Sprintf("%s/bucket/%d", s.EpochURL(voteAddress, epoch), bucket)
}

// MaxBucket returns the newest bucket number listed for the epoch.
func (s *Scraper) MaxBucket(ctx context.Context, voteAddress string, epoch uint64) (int, error) {
	doc, err := s.get(ctx, s.EpochURL(voteAddress, epoch))
	if err != nil {
		return 0, err
	}
	return parseMaxBucket(doc)
}

// Credits returns the credit column of the bucket page in page order.
func (s *Scraper) Credits(ctx context.Context, voteAddress string, epoch uint64, bucket int) ([]float64, error) {
	doc, err := s.get(ctx, s.BucketURL(voteAddress, epoch, bucket))
	if err != nil {
		return nil, err
	}
	return parseCredits(doc), nil
}

func (s *Scraper) get(ctx context.Context, endpoint string) (*goquery.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create vote history request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vote history error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", endpoint, err)
	}
	return doc, nil
}

// parseMaxBucket scans the first table for rows whose first cell is a bucket number.
func parseMaxBucket(doc *goquery.Document) (int, error) {
	maxBucket := -1
	doc.Find("table").First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(cells.Eq(0).Text()))
		if err == nil && n > maxBucket {
			maxBucket = n
		}
	})
	if maxBucket < 0 {
		return 0, ErrNoBuckets
	}
	return maxBucket, nil
}

// parseCredits reads the fourth cell of every row of the first table.
func parseCredits(doc *goquery.Document) []float64 {
	var credits []float64
	doc.Find("table").First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}
		v, err := strconv.ParseFloat(leadingNumber(cells.Eq(3).Text()), 64)
		if err == nil {
			credits = append(credits, v)
		}
	})
	return credits
}

// leadingNumber trims text down to its leading numeric prefix, so "16 cr" reads as 16.
func leadingNumber(text string) string {
	text = strings.TrimSpace(text)
	end := 0
	for end < len(text) {
		c := text[end]
		if (c >= '0' && c <= '9') || c == '.' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	return text[:end]
}
