// Package transport owns the serial link to the field logger.
//
// The link carries two kinds of traffic over one channel: the live record
// stream, and the interactive text menu used to fetch files from the
// device's card. Console multiplexes both through a single read buffer, so
// text consumed while waiting for a menu banner is never lost to, or
// misread by, the line reader (and vice versa).
//
// Console is not safe for concurrent use. The ingestion loop is its only
// caller.
package transport
