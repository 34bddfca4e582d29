// Package reconcile replays durable records into the store until the
// store's anchor reaches the newest record held locally.
//
// A pass reads its source in order (daily log files by date, downloaded
// card files by name), drops records the store already covers, and
// publishes the rest one by one. The first publish failure ends the pass:
// records are never published out of order, and the next pass resumes from
// whatever anchor the store then reports.
package reconcile
