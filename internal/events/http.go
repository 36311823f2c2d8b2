package events

import (
	"net/http"
	"time"
)

// HTTPStart is published when the query endpoint receives a request.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is published once the response is written. Queries counts the
// queries the request carried: one, the length of a batch, or zero when the
// body was rejected.
type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Queries  int
	Duration time.Duration
}
