package cdx

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/cdx-client/pkg/client"
	"github.com/Sternrassler/cdx-client/pkg/records"
)

// LinesPerPage is the number of index lines in one full server page.
const LinesPerPage = 3000

// PagesToSamples converts a page count into an approximate record count.
// The last page is usually partial, so it is not counted; a single page is
// assumed to be half full.
func PagesToSamples(pages int) int {
	switch {
	case pages <= 0:
		return 0
	case pages == 1:
		return LinesPerPage / 2
	default:
		return (pages - 1) * LinesPerPage
	}
}

// SizeEstimate sums the page counts of every endpoint that answers 200.
// Endpoints answering any other status count as zero. An invalid query
// and transport failures are still returned. Unless asPages is set the sum
// is converted with PagesToSamples.
//
// Useful options are MatchType "host" or "domain" and PageSize 1.
func (f *Fetcher) SizeEstimate(ctx context.Context, pattern string, asPages bool, p Params) (int, error) {
	base := p.values(pattern)
	base.Set("showNumPages", "true")
	base.Del("output")

	pages := 0
	for _, endpoint := range f.endpoints {
		resp, err := f.client.Fetch(ctx, endpoint, base)
		status, err := statusOf(resp, err)
		if err != nil {
			return 0, err
		}
		if status != http.StatusOK {
			f.logger.Debug().
				Str("endpoint", endpoint).
				Int("status", status).
				Msg("Skipping endpoint in size estimate")
			continue
		}

		n, err := records.ParseNumPages(resp.Body)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", endpoint, err)
		}
		pages += n
	}

	f.logger.Debug().
		Str("url", pattern).
		Int("pages", pages).
		Bool("as_pages", asPages).
		Msg("Size estimate")

	if asPages {
		return pages, nil
	}
	return PagesToSamples(pages), nil
}

// statusOf folds a status error from the client back into a plain status
// code. Errors without a response status are returned unchanged.
func statusOf(resp *client.Response, err error) (int, error) {
	if err == nil {
		return resp.StatusCode, nil
	}
	if errors.Is(err, client.ErrInvalidQuery) || errors.Is(err, client.ErrContextCancelled) {
		return 0, err
	}
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode != 0 && httpErr.Err == nil {
		return httpErr.StatusCode, nil
	}
	return 0, err
}
