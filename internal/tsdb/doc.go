// Package tsdb is the boundary to the time-series store that receives
// published observations.
//
// The store contract is deliberately small: write one measurement, and
// report the newest (timestamp, sequence number) it holds for a site. That
// pair is the anchor every catch-up pass starts from. Implementations:
//
//   - HTTPStore: the hosted measurement API (JSON over HTTPS, basic auth)
//   - Discard: accepts everything; for gateways run without a database
//   - store.Store (separate package): a local SQLite file
package tsdb
