package pagination

import (
	"context"
	"iter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for paged iteration.
var (
	cdxPagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdx_pages_fetched_total",
		Help: "Pages requested by iterators by outcome",
	}, []string{"outcome"}) // "items", "empty", "exceeded", "error"

	cdxRecordsYieldedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdx_records_yielded_total",
		Help: "Records handed to iterator consumers",
	})

	cdxEndpointsExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdx_endpoints_exhausted_total",
		Help: "Endpoints walked to their last page by iterators",
	})
)

// BeforeFirstPage is the page cursor value before an endpoint's first fetch.
const BeforeFirstPage = -1

// PageFetcher fetches one page from one endpoint.
type PageFetcher[T any] interface {
	// FetchPage fetches page of the endpoint at index endpoint. limit is the
	// remaining budget (0 when unbounded). exceeded reports that page is past
	// the endpoint's last page.
	FetchPage(ctx context.Context, endpoint, page, limit int) (items []T, exceeded bool, err error)
}

// Cursor is a snapshot of an iterator's position.
type Cursor struct {
	Endpoint  int
	Page      int
	Remaining int
	Buffered  int
	Done      bool
}

// Iterator is a lazy, forward-only sequence over every page of every
// endpoint. It is not safe for concurrent use.
type Iterator[T any] struct {
	fetcher   PageFetcher[T]
	endpoints int
	budget    *Budget

	endpoint int
	page     int
	buffer   []T
	current  T
	done     bool
	err      error

	logger zerolog.Logger
}

// NewIterator creates an iterator over endpoints endpoints (indexes
// 0..endpoints-1). No request is made until the first call to Next.
func NewIterator[T any](fetcher PageFetcher[T], endpoints int, budget *Budget) *Iterator[T] {
	if budget == nil {
		budget = NewBudget(0)
	}
	return &Iterator[T]{
		fetcher:   fetcher,
		endpoints: endpoints,
		budget:    budget,
		page:      BeforeFirstPage,
		logger:    log.With().Str("component", "cdx-iterator").Logger(),
	}
}

// Next advances to the next item, fetching pages as needed. It returns
// false once the sequence is exhausted or an error occurred.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	for len(it.buffer) == 0 {
		if it.done {
			return false
		}
		it.refill(ctx)
	}

	it.current = it.buffer[0]
	var zero T
	it.buffer[0] = zero
	it.buffer = it.buffer[1:]
	cdxRecordsYieldedTotal.Inc()
	return true
}

// Item returns the item produced by the last successful Next.
func (it *Iterator[T]) Item() T {
	return it.current
}

// Err returns the error that stopped iteration, if any.
func (it *Iterator[T]) Err() error {
	return it.err
}

// All returns the remaining items as a range-over-func sequence. A
// non-nil error is yielded once, as the final pair.
func (it *Iterator[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for it.Next(ctx) {
			if !yield(it.Item(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// Cursor returns the current position.
func (it *Iterator[T]) Cursor() Cursor {
	return Cursor{
		Endpoint:  it.endpoint,
		Page:      it.page,
		Remaining: it.budget.Remaining(),
		Buffered:  len(it.buffer),
		Done:      it.done,
	}
}

// refill performs one step: it fetches the next page, or moves on to the
// next endpoint, or marks the iterator done.
func (it *Iterator[T]) refill(ctx context.Context) {
	if it.budget.Exhausted() {
		it.logger.Debug().Msg("Result limit reached")
		it.done = true
		return
	}
	if it.endpoint >= it.endpoints {
		it.logger.Debug().Int("endpoints", it.endpoints).Msg("All endpoints exhausted")
		it.done = true
		return
	}
	if err := ctx.Err(); err != nil {
		it.fail(err)
		return
	}

	it.page++
	items, exceeded, err := it.fetcher.FetchPage(ctx, it.endpoint, it.page, it.budget.Remaining())
	if err != nil {
		cdxPagesFetchedTotal.WithLabelValues("error").Inc()
		it.fail(err)
		return
	}

	if exceeded {
		cdxPagesFetchedTotal.WithLabelValues("exceeded").Inc()
		cdxEndpointsExhaustedTotal.Inc()
		it.logger.Info().
			Int("endpoint", it.endpoint).
			Int("pages", it.page).
			Msg("Moving to next endpoint")
		it.endpoint++
		it.page = BeforeFirstPage
		return
	}

	items = Take(it.budget, items)
	if len(items) == 0 {
		cdxPagesFetchedTotal.WithLabelValues("empty").Inc()
	} else {
		cdxPagesFetchedTotal.WithLabelValues("items").Inc()
	}

	it.logger.Debug().
		Int("endpoint", it.endpoint).
		Int("page", it.page).
		Int("items", len(items)).
		Msg("Fetched page")
	it.buffer = append(it.buffer, items...)
}

func (it *Iterator[T]) fail(err error) {
	it.logger.Error().
		Err(err).
		Int("endpoint", it.endpoint).
		Int("page", it.page).
		Msg("Iteration aborted")
	it.err = err
	it.done = true
	it.buffer = nil
}
