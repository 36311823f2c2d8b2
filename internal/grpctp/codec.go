package grpctp

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	executor "github.com/hanpama/rexq/internal/executor"
)

// Requests and results travel as google.protobuf.Struct:
//
//	request:  {query: string, variables: object}
//	response: {data: object, errors: [{path, message, stack?}], fallback?: {query, variables}}
//
// Values are normalized through JSON first, so numbers arrive as float64
// exactly as they would over the HTTP transport.

type wireRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func EncodeRequest(query string, variables map[string]any) (*structpb.Struct, error) {
	if variables == nil {
		variables = map[string]any{}
	}
	return toStruct(wireRequest{Query: query, Variables: variables})
}

func DecodeRequest(s *structpb.Struct) (string, map[string]any, error) {
	var req wireRequest
	if err := fromStruct(s, &req); err != nil {
		return "", nil, err
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	return req.Query, req.Variables, nil
}

func EncodeResult(r *executor.Result) (*structpb.Struct, error) {
	return toStruct(r)
}

func DecodeResult(s *structpb.Struct) (*executor.Result, error) {
	var r executor.Result
	if err := fromStruct(s, &r); err != nil {
		return nil, err
	}
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	if r.Errors == nil {
		r.Errors = []executor.Error{}
	}
	return &r, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("grpctp: encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("grpctp: encode: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("grpctp: encode: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	b, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("grpctp: decode: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("grpctp: decode: %w", err)
	}
	return nil
}
