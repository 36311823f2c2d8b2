package language

import (
	"container/list"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Store keeps parse results keyed by normalized query text. Implementations
// decide what is retained; they must be safe for concurrent use.
type Store interface {
	Load(key string) (Result, bool)
	Store(key string, r Result)
}

// BoundedStore retains at most size entries. Once full it ignores new keys:
// the first queries seen keep their slots. A size of 0 means unbounded.
type BoundedStore struct {
	mu      sync.RWMutex
	size    int
	entries map[string]Result
}

func NewBoundedStore(size int) *BoundedStore {
	return &BoundedStore{size: size, entries: make(map[string]Result)}
}

func (s *BoundedStore) Load(key string) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.entries[key]
	return r, ok
}

func (s *BoundedStore) Store(key string, r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return
	}
	if s.size > 0 && len(s.entries) >= s.size {
		return
	}
	s.entries[key] = r
}

// Len returns the number of retained entries.
func (s *BoundedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// LRUStore retains the size most recently used entries.
type LRUStore struct {
	mu    sync.Mutex
	size  int
	order *list.List
	index map[string]*list.Element
}

type lruEntry struct {
	key    string
	result Result
}

func NewLRUStore(size int) *LRUStore {
	if size <= 0 {
		size = 1
	}
	return &LRUStore{size: size, order: list.New(), index: make(map[string]*list.Element)}
}

func (s *LRUStore) Load(key string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.index[key]
	if !ok {
		return Result{}, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*lruEntry).result, true
}

func (s *LRUStore) Store(key string, r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.index[key]; ok {
		s.order.MoveToFront(el)
		return
	}
	s.index[key] = s.order.PushFront(&lruEntry{key: key, result: r})
	for s.order.Len() > s.size {
		last := s.order.Back()
		s.order.Remove(last)
		delete(s.index, last.Value.(*lruEntry).key)
	}
}

// Len returns the number of retained entries.
func (s *LRUStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// NoStore disables caching.
type NoStore struct{}

func (NoStore) Load(string) (Result, bool) { return Result{}, false }
func (NoStore) Store(string, Result)       {}

// Parser parses queries through a Store. Concurrent parses of the same text
// share one parse.
type Parser struct {
	store  Store
	flight singleflight.Group
}

// NewParser returns a Parser backed by store. A nil store disables caching.
func NewParser(store Store) *Parser {
	if store == nil {
		store = NoStore{}
	}
	return &Parser{store: store}
}

// Parse returns the cached result for query, parsing it on a miss. Both
// successes and failures are cached.
func (p *Parser) Parse(query string) Result {
	key := Normalize(query)
	if key == "" {
		return Result{Root: &Field{}}
	}
	if r, ok := p.store.Load(key); ok {
		return r
	}
	v, _, _ := p.flight.Do(key, func() (any, error) {
		if r, ok := p.store.Load(key); ok {
			return r, nil
		}
		root, err := parseNormalized(key)
		r := Result{Root: root, Err: err}
		p.store.Store(key, r)
		return r, nil
	})
	return v.(Result)
}
