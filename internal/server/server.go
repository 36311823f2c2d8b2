package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/metadata"

	eventbus "github.com/hanpama/rexq/internal/eventbus"
	events "github.com/hanpama/rexq/internal/events"
	executor "github.com/hanpama/rexq/internal/executor"
	language "github.com/hanpama/rexq/internal/language"
	reqid "github.com/hanpama/rexq/internal/reqid"
)

// Resolver runs rexq queries. *executor.Engine implements it.
type Resolver interface {
	Resolve(ctx context.Context, query string, variables map[string]any) *executor.Result
}

// Handler is an http.Handler that serves a rexq endpoint. Results are
// written verbatim as {data, errors, fallback?}.
type Handler struct {
	resolver Resolver
	opt      Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// MetadataHeaders lists HTTP headers to forward into gRPC metadata.
	// Header names are case-insensitive. Default is none.
	MetadataHeaders []string
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithMetadataHeaders(headers ...string) Option {
	return func(o *Options) { o.MetadataHeaders = headers }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// RequestIDMetadataKey carries the request id to linked services.
const RequestIDMetadataKey = "rexq-request-id"

// New creates a rexq HTTP handler in front of r.
func New(r Resolver, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{resolver: r, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.NewContext(ctx)
	status := http.StatusOK
	queries := 0
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Queries: queries, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse("method not allowed"), h.opt.Pretty)
		return
	}

	// Map configured headers into metadata
	md := metadata.MD{}
	if len(h.opt.MetadataHeaders) > 0 {
		allowed := make(map[string]struct{}, len(h.opt.MetadataHeaders))
		for _, hdr := range h.opt.MetadataHeaders {
			allowed[strings.ToLower(hdr)] = struct{}{}
		}
		for k, v := range r.Header {
			if _, ok := allowed[strings.ToLower(k)]; ok {
				md[strings.ToLower(k)] = v
			}
		}
	}
	md[RequestIDMetadataKey] = []string{strconv.FormatInt(rid, 10)}
	ctx = metadata.NewOutgoingContext(ctx, md)

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if berr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(berr.Message), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batch != nil {
		queries = len(batch)
		out := make([]*executor.Result, len(batch))
		for i := range batch {
			out[i] = h.executeOne(ctx, batch[i])
		}
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}

	queries = 1
	writeJSON(w, status, h.executeOne(ctx, req), h.opt.Pretty)
}

func (h *Handler) executeOne(ctx context.Context, req Request) *executor.Result {
	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{Query: req.Query, Variables: len(req.Variables), Transport: "http"})
	result := h.resolver.Resolve(ctx, req.Query, req.Variables)
	errs := make([]error, len(result.Errors))
	for i := range result.Errors {
		errs[i] = result.Errors[i]
	}
	eventbus.Publish(ctx, events.QueryFinish{
		Query:     req.Query,
		Transport: "http",
		Errors:    errs,
		Fallback:  result.Fallback != nil,
		Duration:  time.Since(start),
	})
	return result
}

// ------------------ Request parsing ------------------

// Request is one query with its flat variable map.
type Request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// requestError is a malformed HTTP request; it never reaches the resolver.
type requestError struct {
	Message string
}

func parseRequest(r *http.Request, maxBody int64) (Request, []Request, *requestError) {
	if r.Method == http.MethodGet {
		return parseQueryString(r.URL.Query())
	}

	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return Request{}, nil, &requestError{Message: "failed to read body"}
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return Request{}, nil, &requestError{Message: errBodyTooLargeMessage}
	}

	ct := r.Header.Get("Content-Type")
	switch {
	case ct == "" || ct == "application/json" || strings.HasPrefix(ct, "application/json;"):
		return parseJSONBody(body)
	case ct == "application/graphql" || strings.HasPrefix(ct, "application/graphql;"):
		vars, rerr := jsonVariables(r.URL.Query().Get("variables"))
		if rerr != nil {
			return Request{}, nil, rerr
		}
		q, v, err := language.FromGraphQL(string(body), r.URL.Query().Get("operationName"), vars)
		if err != nil {
			return Request{}, nil, &requestError{Message: err.Error()}
		}
		return Request{Query: q, Variables: v}, nil, nil
	case ct == "text/plain" || strings.HasPrefix(ct, "text/plain;"):
		vars, rerr := jsonVariables(r.URL.Query().Get("variables"))
		if rerr != nil {
			return Request{}, nil, rerr
		}
		return Request{Query: string(body), Variables: vars}, nil, nil
	}
	return Request{}, nil, &requestError{Message: "unsupported Content-Type"}
}

// parseQueryString treats every parameter as a variable, so `?query=a($id)&id=1`
// binds id to "1". A `variables` parameter holding a JSON object is merged
// over the plain parameters.
func parseQueryString(params url.Values) (Request, []Request, *requestError) {
	if !params.Has("query") {
		return Request{}, nil, &requestError{Message: "missing 'query'"}
	}
	vars := make(map[string]any, len(params))
	for k, vs := range params {
		if len(vs) == 1 {
			vars[k] = vs[0]
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		vars[k] = list
	}
	if raw := params.Get("variables"); raw != "" {
		extra, rerr := jsonVariables(raw)
		if rerr != nil {
			return Request{}, nil, rerr
		}
		delete(vars, "variables")
		for k, v := range extra {
			vars[k] = v
		}
	}
	return Request{Query: params.Get("query"), Variables: vars}, nil, nil
}

func parseJSONBody(body []byte) (Request, []Request, *requestError) {
	if len(body) > 0 && body[0] == '[' {
		var arr []Request
		if err := json.Unmarshal(body, &arr); err != nil {
			return Request{}, nil, &requestError{Message: "invalid JSON"}
		}
		if len(arr) == 0 {
			return Request{}, nil, &requestError{Message: "empty batch"}
		}
		for i := range arr {
			if arr[i].Variables == nil {
				arr[i].Variables = map[string]any{}
			}
		}
		return Request{}, arr, nil
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, nil, &requestError{Message: "invalid JSON"}
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	return req, nil, nil
}

func jsonVariables(raw string) (map[string]any, *requestError) {
	vars := map[string]any{}
	if raw == "" {
		return vars, nil
	}
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return nil, &requestError{Message: "invalid 'variables' JSON"}
	}
	return vars, nil
}

// ------------------ Response formatting ------------------

func errorResponse(message string) *executor.Result {
	return &executor.Result{
		Data:   map[string]any{},
		Errors: []executor.Error{{Path: executor.QueryPath, Message: message}},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
