package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// GRPCClientStart is published before each attempt to call a remote
// executor. Attempt starts at 1 and grows when the transport fails over to
// another endpoint.
type GRPCClientStart struct {
	Service string
	Method  string
	Target  string
	Attempt int
}

// GRPCClientFinish is published after each attempt.
type GRPCClientFinish struct {
	Service  string
	Method   string
	Target   string
	Attempt  int
	Code     codes.Code
	Err      error
	Duration time.Duration
}
