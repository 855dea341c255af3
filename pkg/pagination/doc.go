// Package pagination walks paged results across an ordered list of index
// endpoints.
//
// CDX servers number pages from 0 and answer a page number past the end
// with 400. The Iterator asks each endpoint for page 0, 1, 2, ... until
// that signal, then moves to the next endpoint, handing items out one at
// a time from an in-memory buffer filled a page at a time.
//
// Example usage:
//
//	it := pagination.NewIterator[records.Record](fetcher, len(endpoints), pagination.NewBudget(1000))
//	for it.Next(ctx) {
//		rec := it.Item()
//		...
//	}
//	if err := it.Err(); err != nil {
//		return err
//	}
//
// The iterator:
//   - Visits endpoints in list order and never returns to an earlier one
//   - Requests pages in ascending order within an endpoint
//   - Keeps going past pages with zero items
//   - Stops when every endpoint is exhausted or the Budget is spent
//   - Stops at the first error; Err reports it
package pagination
