package grpctp

import (
	"context"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	eventbus "github.com/hanpama/rexq/internal/eventbus"
	events "github.com/hanpama/rexq/internal/events"
	executor "github.com/hanpama/rexq/internal/executor"
	reqid "github.com/hanpama/rexq/internal/reqid"
)

const (
	ServiceName = "rexq.v1.Executor"
	MethodName  = "Resolve"
	FullMethod  = "/" + ServiceName + "/" + MethodName

	// RequestIDKey is the metadata key carrying the caller's request id.
	RequestIDKey = "rexq-request-id"
)

// Resolver runs rexq queries. *executor.Engine implements it.
type Resolver interface {
	Resolve(ctx context.Context, query string, variables map[string]any) *executor.Result
}

type resolveServer interface {
	resolve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type service struct {
	r Resolver
}

// Register serves r as rexq.v1.Executor on s. Field errors travel inside the
// result; only undecodable requests fail the RPC.
func Register(s grpc.ServiceRegistrar, r Resolver) {
	s.RegisterService(&serviceDesc, &service{r: r})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*resolveServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: MethodName,
		Handler:    resolveHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rexq/v1/executor.proto",
}

func resolveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(resolveServer)
	if interceptor == nil {
		return s.resolve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.resolve(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *service) resolve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	query, vars, err := DecodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	// keep the caller's request id and pass incoming metadata on to further links
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDKey); len(ids) > 0 {
			if id, err := strconv.ParseInt(ids[0], 10, 64); err == nil {
				ctx = reqid.WithID(ctx, id)
			}
		}
		ctx = metadata.NewOutgoingContext(ctx, md.Copy())
	}
	if _, ok := reqid.FromContext(ctx); !ok {
		ctx, _ = reqid.NewContext(ctx)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{Query: query, Variables: len(vars), Transport: "grpc"})
	res := s.r.Resolve(ctx, query, vars)
	errs := make([]error, len(res.Errors))
	for i := range res.Errors {
		errs[i] = res.Errors[i]
	}
	eventbus.Publish(ctx, events.QueryFinish{
		Query:     query,
		Transport: "grpc",
		Errors:    errs,
		Fallback:  res.Fallback != nil,
		Duration:  time.Since(start),
	})

	out, err := EncodeResult(res)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
