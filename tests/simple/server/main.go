// Command server is a small upstream rexq service used to try links and the
// fallback locally. Point a link at it with:
//
//	links:
//	  - name: users
//	    endpoints: ["localhost:9091"]
//	    resolvers:
//	      user: "user($id, ?)"
//	      users: "users(?)"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	executor "github.com/hanpama/rexq/internal/executor"
	grpctp "github.com/hanpama/rexq/internal/grpctp"
)

type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Age            int    `json:"age"`
	IsActive       bool   `json:"isActive"`
	OrganizationID string `json:"organizationId"`
	CreatedAt      string `json:"createdAt"`
}

type Organization struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Post struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	AuthorID string `json:"authorId"`
}

type store struct {
	mu            sync.RWMutex
	users         map[string]*User
	organizations map[string]*Organization
	posts         map[string]*Post
	nextID        int
}

func newStore() *store {
	s := &store{
		users:         make(map[string]*User),
		organizations: make(map[string]*Organization),
		posts:         make(map[string]*Post),
		nextID:        1,
	}
	s.seed()
	return s
}

func (s *store) seed() {
	now := time.Now().Format(time.RFC3339)
	for _, o := range []*Organization{
		{ID: "org-1", Name: "Tech Corp", Description: "A technology company"},
		{ID: "org-2", Name: "Design Studio", Description: "Creative design agency"},
	} {
		s.organizations[o.ID] = o
	}
	for _, u := range []*User{
		{ID: "user-1", Email: "john@example.com", Name: "John Doe", Age: 30, IsActive: true, OrganizationID: "org-1", CreatedAt: now},
		{ID: "user-2", Email: "jane@example.com", Name: "Jane Smith", Age: 28, IsActive: true, OrganizationID: "org-1", CreatedAt: now},
		{ID: "user-3", Email: "bob@example.com", Name: "Bob Wilson", Age: 35, IsActive: false, OrganizationID: "org-2", CreatedAt: now},
	} {
		s.users[u.ID] = u
	}
	for _, p := range []*Post{
		{ID: "post-1", Title: "Getting started", Content: "First post", AuthorID: "user-1"},
		{ID: "post-2", Title: "Batching", Content: "One request per tick", AuthorID: "user-1"},
		{ID: "post-3", Title: "Design notes", Content: "Whitespace matters", AuthorID: "user-3"},
	} {
		s.posts[p.ID] = p
	}
}

func (s *store) generateID(prefix string) string {
	id := fmt.Sprintf("%s-%d", prefix, s.nextID+100)
	s.nextID++
	return id
}

func (s *store) user(_ context.Context, _ any, args map[string]any, _ *executor.Info) (any, error) {
	id, _ := args["id"].(string)
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %q not found", id)
	}
	return u, nil
}

func (s *store) listUsers(_ context.Context, _ any, args map[string]any, _ *executor.Info) (any, error) {
	active, filter := args["active"].(bool)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		if filter && u.IsActive != active {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *store) search(_ context.Context, _ any, args map[string]any, _ *executor.Info) (any, error) {
	term, _ := args["term"].(string)
	term = strings.ToLower(term)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*User
	for _, u := range s.users {
		if term != "" && strings.Contains(strings.ToLower(u.Name), term) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *store) createUser(_ context.Context, _ any, args map[string]any, _ *executor.Info) (any, error) {
	email, _ := args["email"].(string)
	name, _ := args["name"].(string)
	if email == "" || name == "" {
		return nil, fmt.Errorf("email and name are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &User{
		ID:        s.generateID("user"),
		Email:     email,
		Name:      name,
		IsActive:  true,
		CreatedAt: time.Now().Format(time.RFC3339),
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *store) organization(_ context.Context, parent any, _ map[string]any, _ *executor.Info) (any, error) {
	u, ok := parent.(*User)
	if !ok {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.organizations[u.OrganizationID], nil
}

func (s *store) postsOf(_ context.Context, parent any, _ map[string]any, _ *executor.Info) (any, error) {
	u, ok := parent.(*User)
	if !ok {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Post
	for _, p := range s.posts {
		if p.AuthorID == u.ID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// resolvers lays the store out as a rexq resolver map. Users resolve their
// organization and posts through the User type.
func (s *store) resolvers() executor.Map {
	user := executor.Map{
		"organization": executor.Leaf(s.organization),
		"posts":        executor.Leaf(s.postsOf),
	}
	return executor.Map{
		"User":       user,
		"user":       executor.Chain("User", s.user),
		"users":      executor.Chain("User", s.listUsers),
		"search":     executor.Chain("User", s.search),
		"createUser": executor.Chain("User", s.createUser),
	}
}

func main() {
	addr := flag.String("addr", ":9091", "gRPC listen address")
	flag.Parse()

	engine, err := executor.New(newStore().resolvers())
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", *addr, err)
	}

	s := grpc.NewServer(
		grpc.UnaryInterceptor(loggingUnaryServerInterceptor),
	)
	grpctp.Register(s, engine)

	log.Printf("rexq users service starting on %s", *addr)
	if err := s.Serve(lis); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}

// loggingUnaryServerInterceptor logs one line per RPC with the method, the
// duration and the request and response as compact JSON.
func loggingUnaryServerInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	reqJSON := toCompactJSON(req)

	resp, err := handler(ctx, req)
	dur := time.Since(start)

	if err != nil {
		st, _ := status.FromError(err)
		log.Printf("grpc method=%s code=%s duration=%s req=%s error=%q", info.FullMethod, st.Code(), dur, reqJSON, st.Message())
		return resp, err
	}
	log.Printf("grpc method=%s duration=%s req=%s resp=%s", info.FullMethod, dur, reqJSON, toCompactJSON(resp))
	return resp, nil
}

func toCompactJSON(msg any) string {
	if m, ok := msg.(proto.Message); ok {
		b, err := protojson.Marshal(m)
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprintf("\"%T\"", msg)
}
