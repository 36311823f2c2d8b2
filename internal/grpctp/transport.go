package grpctp

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	eventbus "github.com/hanpama/rexq/internal/eventbus"
	events "github.com/hanpama/rexq/internal/events"
	executor "github.com/hanpama/rexq/internal/executor"
)

// ServiceMetadataKey names the linked service on outgoing calls, so one
// upstream process can tell apart the gateways linking to it.
const ServiceMetadataKey = "x-rexq-service"

// Transport resolves queries on remote rexq executors. Endpoints come from
// the EndpointProvider; connections are pooled per endpoint.
type Transport struct {
	opts *Options

	mu     sync.RWMutex
	pools  map[string]*connPool // by endpoint
	closed atomic.Bool
}

func New(opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &Transport{
		opts:  o,
		pools: make(map[string]*connPool),
	}
}

// Executor returns an ExecuteFunc that resolves queries on service, suitable
// for executor.Link and executor.WithFallback.
func (t *Transport) Executor(service string) executor.ExecuteFunc {
	return func(ctx context.Context, query string, variables map[string]any) (*executor.Result, error) {
		return t.Call(ctx, service, query, variables)
	}
}

// Call resolves query on one endpoint of service. Endpoints are tried in
// random order; a call moves on to the next one only when the previous
// answered codes.Unavailable, at most Options.Failover times.
func (t *Transport) Call(ctx context.Context, service, query string, variables map[string]any) (*executor.Result, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.opts.Provider == nil {
		return nil, fmt.Errorf("grpctp: provider not configured")
	}
	if _, ok := ctx.Deadline(); !ok && t.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
		defer cancel()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, ServiceMetadataKey, service)

	req, err := EncodeRequest(query, variables)
	if err != nil {
		return nil, err
	}
	endpoints, err := t.opts.Provider.Endpoints(ctx, service)
	if err != nil {
		return nil, err
	}
	order := rand.Perm(len(endpoints))
	attempts := min(len(order), max(t.opts.Failover, 0)+1)

	for i := 0; ; i++ {
		var resp *structpb.Struct
		resp, err = t.invoke(ctx, service, endpoints[order[i]], i+1, req)
		if err == nil {
			return DecodeResult(resp)
		}
		if i+1 >= attempts || status.Code(err) != codes.Unavailable || ctx.Err() != nil {
			return nil, err
		}
	}
}

func (t *Transport) invoke(ctx context.Context, service, endpoint string, attempt int, req *structpb.Struct) (*structpb.Struct, error) {
	start := time.Now()
	eventbus.Publish(ctx, events.GRPCClientStart{Service: service, Method: MethodName, Target: endpoint, Attempt: attempt})

	resp := new(structpb.Struct)
	cc, err := t.getConn(ctx, endpoint)
	if err == nil {
		err = cc.Invoke(ctx, FullMethod, req, resp)
		t.returnConn(endpoint, cc)
	}

	eventbus.Publish(ctx, events.GRPCClientFinish{
		Service:  service,
		Method:   MethodName,
		Target:   endpoint,
		Attempt:  attempt,
		Code:     status.Code(err),
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Close closes every pooled connection. Later calls fail with ErrClosed.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pools {
		p.close()
	}
	t.pools = map[string]*connPool{}
	return nil
}

type connPool struct {
	endpoint string
	opts     *Options

	mu     sync.Mutex // guards conns against sends after close
	conns  chan *grpc.ClientConn
	closed bool
}

func newConnPool(endpoint string, opts *Options) *connPool {
	n := opts.MaxConnsPerEndpoint
	if n <= 0 {
		n = 2
	}
	return &connPool{
		endpoint: endpoint,
		opts:     opts,
		conns:    make(chan *grpc.ClientConn, n),
	}
}

func (p *connPool) get(ctx context.Context) (*grpc.ClientConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	select {
	case cc := <-p.conns:
		p.mu.Unlock()
		return cc, nil
	default:
	}
	p.mu.Unlock()
	return grpc.DialContext(ctx, p.endpoint, p.opts.DialOptions...)
}

// put keeps cc for reuse while the pool has room; otherwise it is closed.
func (p *connPool) put(cc *grpc.ClientConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		select {
		case p.conns <- cc:
			return
		default:
		}
	}
	_ = cc.Close()
}

func (p *connPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.conns)
	for cc := range p.conns {
		_ = cc.Close()
	}
}

func (t *Transport) getConn(ctx context.Context, endpoint string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool == nil {
		t.mu.Lock()
		if pool = t.pools[endpoint]; pool == nil {
			pool = newConnPool(endpoint, t.opts)
			t.pools[endpoint] = pool
		}
		t.mu.Unlock()
	}
	return pool.get(ctx)
}

func (t *Transport) returnConn(endpoint string, cc *grpc.ClientConn) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool == nil {
		_ = cc.Close()
		return
	}
	pool.put(cc)
}
