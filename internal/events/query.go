package events

import "time"

// QueryStart is emitted before a transport resolves a query.
type QueryStart struct {
	Query     string
	Variables int
	// Transport is "http" or "grpc".
	Transport string
}

// QueryFinish is emitted after a query has been resolved.
type QueryFinish struct {
	Query     string
	Transport string
	Errors    []error
	Fallback  bool
	Duration  time.Duration
}
