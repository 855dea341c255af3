// Package endpoints resolves a source selector into the ordered list of
// CDX index endpoints to query.
package endpoints

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/cdx-client/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// ErrConfig is returned for unusable source, window or sort settings, and
// when the crawl listing does not look like what we expect.
var ErrConfig = errors.New("endpoint configuration error")

// Source selects which archive to query.
type Source string

const (
	// SourceCC queries the Common Crawl indexes.
	SourceCC Source = "cc"

	// SourceIA queries the Internet Archive Wayback Machine.
	SourceIA Source = "ia"
)

// Sort orders the Common Crawl endpoint list.
type Sort string

const (
	// SortMixed walks crawls newest first. Results within a crawl are sorted
	// by URL, so overall output is mixed in time.
	SortMixed Sort = "mixed"

	// SortAscending walks crawls oldest first.
	SortAscending Sort = "ascending"
)

const (
	// DefaultCollInfoURL lists the Common Crawl indexes.
	DefaultCollInfoURL = "https://index.commoncrawl.org/collinfo.json"

	// IAEndpoint is the single Wayback Machine CDX endpoint.
	IAEndpoint = "https://web.archive.org/cdx/search/cdx"

	// MinCrawls is the fewest crawls collinfo.json may list before we assume
	// its format changed.
	MinCrawls = 30
)

var crawlIDPattern = regexp.MustCompile(`CC-MAIN-(\d{4})-(\d{2})`)

// Resolver turns source selectors into endpoint lists.
type Resolver struct {
	client      *client.Client
	collInfoURL string
	now         func() time.Time
	logger      zerolog.Logger
}

// NewResolver creates a resolver that reads the crawl listing from
// collInfoURL ("" means DefaultCollInfoURL).
func NewResolver(c *client.Client, collInfoURL string) *Resolver {
	if collInfoURL == "" {
		collInfoURL = DefaultCollInfoURL
	}
	return &Resolver{
		client:      c,
		collInfoURL: collInfoURL,
		now:         time.Now,
		logger:      log.With().Str("component", "cdx-resolver").Logger(),
	}
}

// SetClock replaces the time source (for testing).
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// Resolve returns the endpoints for source. window and sort only apply to
// SourceCC.
func (r *Resolver) Resolve(ctx context.Context, source Source, window string, order Sort) ([]string, error) {
	switch {
	case source == SourceIA:
		return []string{IAEndpoint}, nil
	case source == SourceCC:
		return r.resolveCC(ctx, window, order)
	case strings.HasPrefix(string(source), "https://"), strings.HasPrefix(string(source), "http://"):
		return []string{string(source)}, nil
	default:
		return nil, fmt.Errorf("%w: could not understand source %q", ErrConfig, source)
	}
}

func (r *Resolver) resolveCC(ctx context.Context, window string, order Sort) ([]string, error) {
	if order != SortMixed && order != SortAscending {
		return nil, fmt.Errorf("%w: unknown sort %q", ErrConfig, order)
	}

	span, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Fetch(ctx, r.collInfoURL, nil)
	if errors.Is(err, client.ErrInvalidQuery) {
		return nil, fmt.Errorf("%w: crawl listing rejected the request: %w", ErrConfig, err)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch crawl listing: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: crawl listing returned status %d", ErrConfig, resp.StatusCode)
	}

	var apis []string
	gjson.GetBytes(resp.Body, "#.cdx-api").ForEach(func(_, v gjson.Result) bool {
		apis = append(apis, v.String())
		return true
	})
	if len(apis) < MinCrawls {
		return nil, fmt.Errorf("%w: surprisingly few endpoints for common crawl index (%d)", ErrConfig, len(apis))
	}

	// newest first
	sort.Sort(sort.Reverse(sort.StringSlice(apis)))

	start := truncateDay(r.now().Add(-span))
	var out []string
	for _, api := range apis {
		m := crawlIDPattern.FindStringSubmatch(api)
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		week, _ := strconv.Atoi(m[2])
		if CrawlDate(year, week).After(start) {
			out = append(out, api)
		}
	}

	if order == SortAscending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	r.logger.Info().
		Str("window", window).
		Str("sort", string(order)).
		Int("crawls_listed", len(apis)).
		Int("endpoints", len(out)).
		Msg("Resolved common crawl endpoints")

	return out, nil
}

// ParseWindow parses a recency window such as "365d", "8w" or "2y".
func ParseWindow(window string) (time.Duration, error) {
	if len(window) < 2 {
		return 0, fmt.Errorf("%w: unknown recency window %q", ErrConfig, window)
	}

	n, err := strconv.Atoi(window[:len(window)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: unknown recency window %q", ErrConfig, window)
	}

	day := 24 * time.Hour
	switch window[len(window)-1] {
	case 'd':
		return time.Duration(n) * day, nil
	case 'w':
		return time.Duration(n) * 7 * day, nil
	case 'y':
		return time.Duration(n) * 365 * day, nil
	default:
		return 0, fmt.Errorf("%w: unknown recency window %q", ErrConfig, window)
	}
}

// CrawlDate returns the Sunday of week-of-year week in year, where weeks
// start on Monday and week 1 holds the year's first Monday. Crawl ids
// CC-MAIN-YYYY-WW are dated this way.
func CrawlDate(year, week int) time.Time {
	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	// Monday=0 .. Sunday=6
	firstWeekday := (int(jan1.Weekday()) + 6) % 7
	const sunday = 6

	var offset int
	if week == 0 {
		offset = sunday - firstWeekday
	} else {
		week0Length := (7 - firstWeekday) % 7
		offset = week0Length + 7*(week-1) + sunday
	}
	return jan1.AddDate(0, 0, offset)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
