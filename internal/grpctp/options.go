package grpctp

import (
	"time"

	"google.golang.org/grpc"
)

// Options configures a Transport. Zero values fall back to the defaults:
// two pooled connections per endpoint, a 3s deadline for calls whose
// context has none, one failover attempt and insecure credentials.
//
// Calls fail until a Provider is set.
type Options struct {
	Provider EndpointProvider

	MaxConnsPerEndpoint int
	RPCTimeout          time.Duration
	// Failover is how many other endpoints a call tries after one answers
	// codes.Unavailable. Negative disables failover.
	Failover int

	DialOptions []grpc.DialOption
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerEndpoint: 2,
		RPCTimeout:          3 * time.Second,
		Failover:            1,
	}
}

func WithProvider(p EndpointProvider) Option { return func(o *Options) { o.Provider = p } }
func WithMaxConnsPerEndpoint(n int) Option   { return func(o *Options) { o.MaxConnsPerEndpoint = n } }
func WithRPCTimeout(d time.Duration) Option  { return func(o *Options) { o.RPCTimeout = d } }
func WithFailover(n int) Option              { return func(o *Options) { o.Failover = n } }
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = opts }
}

// WithEndpoints uses a StaticEndpoints provider built from m.
func WithEndpoints(m map[string][]string) Option {
	return WithProvider(NewStaticEndpoints(m))
}
