// Package cdx queries one or more CDX index endpoints for a URL pattern.
//
// A Fetcher resolves its endpoint list once, at construction, and offers
// three ways to query it:
//
//   - Get: one unpaged request per endpoint, bounded by a result limit.
//   - Items: a lazy iterator that walks every page of every endpoint.
//   - SizeEstimate: page counts only, optionally converted to a record
//     estimate.
//
// Example:
//
//	c, _ := client.New(client.DefaultConfig())
//	f, err := cdx.NewFetcher(ctx, cdx.Config{Source: endpoints.SourceCC, CCDuration: "90d"}, c)
//	if err != nil {
//	    return err
//	}
//	it, _ := f.Items("commoncrawl.org/*", cdx.Params{Limit: 100})
//	for it.Next(ctx) {
//	    fmt.Println(it.Item().Get("url"))
//	}
//	return it.Err()
package cdx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Sternrassler/cdx-client/pkg/client"
	"github.com/Sternrassler/cdx-client/pkg/endpoints"
	"github.com/Sternrassler/cdx-client/pkg/pagination"
	"github.com/Sternrassler/cdx-client/pkg/records"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	pageParam  = client.PageParam
	limitParam = "limit"
)

// DefaultGetLimit bounds Get when the caller sets no limit.
const DefaultGetLimit = 10000

// ErrPageReserved is returned by Items when the caller sets a page.
var ErrPageReserved = errors.New("page must not be set when iterating")

// ErrInvalidLimit is returned when Params.Extra carries a limit that is not
// a non-negative integer.
var ErrInvalidLimit = errors.New("limit must be a non-negative integer")

// Config selects the endpoints a Fetcher queries.
type Config struct {
	// Source is SourceCC, SourceIA or an explicit index URL.
	Source endpoints.Source

	// CCDuration is the Common Crawl recency window, e.g. "365d".
	CCDuration string

	// CCSort orders Common Crawl endpoints.
	CCSort endpoints.Sort

	// CollInfoURL overrides the Common Crawl crawl listing.
	CollInfoURL string
}

// DefaultConfig returns the Common Crawl source over the last year, newest
// crawl first.
func DefaultConfig() Config {
	return Config{
		Source:     endpoints.SourceCC,
		CCDuration: "365d",
		CCSort:     endpoints.SortMixed,
	}
}

// Fetcher queries a fixed, ordered list of index endpoints.
// It is safe for concurrent use; iterators it returns are not.
type Fetcher struct {
	client    *client.Client
	endpoints []string
	config    Config
	logger    zerolog.Logger
}

// NewFetcher resolves cfg into an endpoint list. Empty CCDuration and
// CCSort fall back to DefaultConfig.
func NewFetcher(ctx context.Context, cfg Config, c *client.Client) (*Fetcher, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}

	defaults := DefaultConfig()
	if cfg.Source == "" {
		cfg.Source = defaults.Source
	}
	if cfg.CCDuration == "" {
		cfg.CCDuration = defaults.CCDuration
	}
	if cfg.CCSort == "" {
		cfg.CCSort = defaults.CCSort
	}

	list, err := endpoints.NewResolver(c, cfg.CollInfoURL).Resolve(ctx, cfg.Source, cfg.CCDuration, cfg.CCSort)
	if err != nil {
		return nil, err
	}

	return NewFetcherWithEndpoints(c, list, cfg)
}

// NewFetcherWithEndpoints skips resolution and queries list as given.
func NewFetcherWithEndpoints(c *client.Client, list []string, cfg Config) (*Fetcher, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no endpoints for source %q", endpoints.ErrConfig, cfg.Source)
	}

	logger := log.With().Str("component", "cdx-fetcher").Logger()
	logger.Info().
		Str("source", string(cfg.Source)).
		Int("endpoints", len(list)).
		Msg("CDX fetcher ready")

	return &Fetcher{
		client:    c,
		endpoints: append([]string(nil), list...),
		config:    cfg,
		logger:    logger,
	}, nil
}

// Endpoints returns a copy of the endpoint list in query order.
func (f *Fetcher) Endpoints() []string {
	return append([]string(nil), f.endpoints...)
}

// Get fetches at most one server page per endpoint, in endpoint order, and
// returns at most p.Limit records (DefaultGetLimit when unset). The last
// endpoint's records are truncated to fit the limit.
func (f *Fetcher) Get(ctx context.Context, pattern string, p Params) ([]records.Record, error) {
	limit, err := p.limit()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultGetLimit
	}
	budget := pagination.NewBudget(limit)
	base := p.values(pattern)

	var out []records.Record
	for _, endpoint := range f.endpoints {
		if budget.Exhausted() {
			break
		}

		params := cloneValues(base)
		params.Set(limitParam, strconv.Itoa(budget.Remaining()))

		resp, err := f.client.Fetch(ctx, endpoint, params)
		if err != nil {
			return nil, err
		}

		recs, err := decode(resp)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", endpoint, err)
		}
		out = append(out, pagination.Take(budget, recs)...)

		f.logger.Debug().
			Str("endpoint", endpoint).
			Int("records", len(recs)).
			Int("remaining", budget.Remaining()).
			Msg("Fetched endpoint")
	}

	return out, nil
}

// Items returns a lazy iterator over every page of every endpoint. A
// positive p.Limit caps the total number of records.
func (f *Fetcher) Items(pattern string, p Params) (*pagination.Iterator[records.Record], error) {
	if p.hasPage() {
		return nil, ErrPageReserved
	}
	limit, err := p.limit()
	if err != nil {
		return nil, err
	}

	pf := &pageFetcher{fetcher: f, base: p.values(pattern)}
	return pagination.NewIterator[records.Record](pf, len(f.endpoints), pagination.NewBudget(limit)), nil
}

// pageFetcher adapts a Fetcher to pagination.PageFetcher. base is never
// mutated; page and limit are merged into a copy per request.
type pageFetcher struct {
	fetcher *Fetcher
	base    url.Values
}

func (pf *pageFetcher) FetchPage(ctx context.Context, endpoint, page, limit int) ([]records.Record, bool, error) {
	params := cloneValues(pf.base)
	params.Set(pageParam, strconv.Itoa(page))
	if limit > 0 {
		params.Set(limitParam, strconv.Itoa(limit))
	}

	endpointURL := pf.fetcher.endpoints[endpoint]
	resp, err := pf.fetcher.client.Fetch(ctx, endpointURL, params)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusBadRequest {
		return nil, true, nil
	}

	recs, err := records.Decode(resp.StatusCode, resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("%s page %d: %w", endpointURL, page, err)
	}
	return recs, false, nil
}

// decode treats a 400 that reached us (only possible with a caller page) as
// an empty page.
func decode(resp *client.Response) ([]records.Record, error) {
	if resp.StatusCode == http.StatusBadRequest {
		return []records.Record{}, nil
	}
	return records.Decode(resp.StatusCode, resp.Body)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
