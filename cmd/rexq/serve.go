package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	config "github.com/hanpama/rexq/internal/config"
	eventbus "github.com/hanpama/rexq/internal/eventbus"
	events "github.com/hanpama/rexq/internal/events"
	grpctp "github.com/hanpama/rexq/internal/grpctp"
	otel "github.com/hanpama/rexq/internal/otel"
	server "github.com/hanpama/rexq/internal/server"
)

var (
	flagConfig     string
	flagHTTPAddr   string
	flagGRPCAddr   string
	flagPretty     bool
	flagMaxConns   int
	flagRPCTimeout time.Duration
	flagFailover   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve rexq over HTTP and gRPC",
	Long:  "Loads the configuration, links the configured remote executors and serves queries over HTTP and, when grpc.addr is set, over gRPC for other rexq servers.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "configuration file (default: built-in defaults)")
	serveCmd.Flags().StringVar(&flagHTTPAddr, "http.addr", "", "HTTP listen address, overrides http.addr")
	serveCmd.Flags().StringVar(&flagGRPCAddr, "grpc.addr", "", "gRPC listen address, overrides grpc.addr")
	serveCmd.Flags().BoolVar(&flagPretty, "pretty", false, "pretty-print JSON responses")
	serveCmd.Flags().IntVar(&flagMaxConns, "transport.max-conns-per-endpoint", 2, "max connections per link endpoint")
	serveCmd.Flags().DurationVar(&flagRPCTimeout, "transport.rpc-timeout", 3*time.Second, "link RPC timeout")
	serveCmd.Flags().IntVar(&flagFailover, "transport.failover", 1, "other endpoints to try when one is unavailable (-1 disables)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		var err error
		if cfg, err = config.Load(flagConfig); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("http.addr") {
		cfg.HTTP.Addr = flagHTTPAddr
	}
	if cmd.Flags().Changed("grpc.addr") {
		cfg.GRPC.Addr = flagGRPCAddr
	}
	if flagPretty {
		cfg.HTTP.Pretty = true
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(cfg.Telemetry.Endpoint, cfg.Telemetry.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()
	if flagVerbose {
		defer logEvents()()
	}

	trOpts := []grpctp.Option{
		grpctp.WithEndpoints(cfg.Endpoints()),
		grpctp.WithMaxConnsPerEndpoint(flagMaxConns),
		grpctp.WithFailover(flagFailover),
	}
	if flagRPCTimeout > 0 {
		trOpts = append(trOpts, grpctp.WithRPCTimeout(flagRPCTimeout))
	}
	transport := grpctp.New(trOpts...)
	defer transport.Close()

	engine, err := newEngine(cfg, transport)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Addr != "" {
		sopts := []server.Option{server.WithTimeout(cfg.HTTP.Timeout)}
		if cfg.HTTP.Pretty {
			sopts = append(sopts, server.WithPretty())
		}
		if cfg.HTTP.MaxBodyBytes > 0 {
			sopts = append(sopts, server.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes))
		}
		if len(cfg.HTTP.CORS) > 0 {
			sopts = append(sopts, server.WithCORS(cfg.HTTP.CORS...))
		}
		if len(cfg.HTTP.MetadataHeaders) > 0 {
			sopts = append(sopts, server.WithMetadataHeaders(cfg.HTTP.MetadataHeaders...))
		}
		mux := http.NewServeMux()
		mux.Handle("/", server.New(engine, sopts...))
		srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}

		g.Go(func() error {
			log.Printf("rexq HTTP server listening on %s", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gs := grpc.NewServer()
		grpctp.Register(gs, engine)

		g.Go(func() error {
			log.Printf("rexq gRPC executor listening on %s", cfg.GRPC.Addr)
			return gs.Serve(lis)
		})
		g.Go(func() error {
			<-ctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}

// logEvents logs finished queries and link flushes until the returned
// function is called.
func logEvents() (stop func()) {
	unsubQuery := eventbus.Subscribe(func(_ context.Context, e events.QueryFinish) {
		log.Printf("%s query %q: %d errors in %s", e.Transport, e.Query, len(e.Errors), e.Duration)
	})
	unsubLink := eventbus.Subscribe(func(_ context.Context, e events.LinkFlushFinish) {
		if e.Err != nil {
			log.Printf("link %s batch %d (%d fields) failed after %s: %v", e.Link, e.BatchID, e.Fields, e.Duration, e.Err)
			return
		}
		log.Printf("link %s batch %d: %d fields in %s", e.Link, e.BatchID, e.Fields, e.Duration)
	})
	return func() {
		unsubQuery()
		unsubLink()
	}
}
