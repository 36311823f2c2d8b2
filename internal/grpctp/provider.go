package grpctp

import (
	"context"
	"sync"
)

// EndpointProvider resolves a link name (e.g. "users") to the host:port
// addresses of the rexq executors serving it. It returns at least one
// endpoint or an error, and is called concurrently.
type EndpointProvider interface {
	Endpoints(ctx context.Context, service string) ([]string, error)
}

// StaticEndpoints serves endpoints from an in-memory map keyed by link name,
// typically the links section of the configuration file.
type StaticEndpoints struct {
	mu   sync.RWMutex
	data map[string][]string
}

func NewStaticEndpoints(m map[string][]string) *StaticEndpoints {
	cp := make(map[string][]string, len(m))
	for k, v := range m {
		vv := make([]string, len(v))
		copy(vv, v)
		cp[k] = vv
	}
	return &StaticEndpoints{data: cp}
}

func (s *StaticEndpoints) Endpoints(_ context.Context, service string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.data[service]
	if len(arr) == 0 {
		return nil, ErrNoEndpoints
	}
	out := make([]string, len(arr))
	copy(out, arr)
	return out, nil
}

// Set replaces the endpoints of service. An empty list removes it.
func (s *StaticEndpoints) Set(service string, endpoints []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(endpoints) == 0 {
		delete(s.data, service)
		return
	}
	s.data[service] = append([]string(nil), endpoints...)
}
