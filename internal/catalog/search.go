package catalog

import (
	"context"
	"sync"
)

// Searcher walks the pages of one query, caching every page it has fetched so
// moving back and forth never repeats a request.
type Searcher struct {
	client *Client
	query  string
	page   int
	mu     sync.Mutex
	cache  map[int]*SearchPage
}

func NewSearcher(client *Client, query string) *Searcher {
	return &Searcher{client: client, query: query, page: 1, cache: make(map[int]*SearchPage)}
}

func (s *Searcher) Query() string {
	return s.query
}

// Current returns the page the searcher is positioned on.
func (s *Searcher) Current(ctx context.Context) (*SearchPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, s.page)
}

// Goto moves to page n (clamped to 1) and returns it.
func (s *Searcher) Goto(ctx context.Context, n int) (*SearchPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n = max(1, n)
	p, err := s.load(ctx, n)
	if err != nil {
		return nil, err
	}
	s.page = n
	return p, nil
}

func (s *Searcher) Next(ctx context.Context) (*SearchPage, error) {
	s.mu.Lock()
	n := s.page + 1
	s.mu.Unlock()
	return s.Goto(ctx, n)
}

func (s *Searcher) Previous(ctx context.Context) (*SearchPage, error) {
	s.mu.Lock()
	n := s.page - 1
	s.mu.Unlock()
	return s.Goto(ctx, n)
}

// Reset starts over with a new query and drops the cache.
func (s *Searcher) Reset(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = query
	s.page = 1
	clear(s.cache)
}

func (s *Searcher) load(ctx context.Context, n int) (*SearchPage, error) {
	if p, ok := s.cache[n]; ok {
		return p, nil
	}
	p, err := s.client.Search(ctx, s.query, n)
	if err != nil {
		return nil, err
	}
	s.cache[n] = p
	return p, nil
}
