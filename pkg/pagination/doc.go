// Package pagination walks draw/start/length listings (the DataTables
// server-side protocol served by the mutual-fund NAV listing).
//
// Example usage:
//
//	cfg := pagination.DefaultConfig("https://www.sharesansar.com/mutual-fund-navs")
//	p := pagination.New(fetcher, cfg)
//	result, err := p.FetchAll(ctx, "-1", 0)
//
// The paginator:
//   - Requests pages strictly in order, starting at start=0, draw=1
//   - Learns the total from the first page's recordsTotal
//   - Stops when start reaches the total or a page comes back empty
//   - Fails the whole listing if any page fails after retries
package pagination
