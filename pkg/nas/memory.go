package nas

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and standalone deployments
// where the site list is loaded from configuration.
type MemoryStore struct {
	mu    sync.RWMutex
	sites map[string]*Site
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sites: make(map[string]*Site)}
}

// Put adds or replaces a site, keyed by IP.
func (s *MemoryStore) Put(site *Site) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites[site.IPAddress] = site
}

func (s *MemoryStore) LookupByIP(_ context.Context, ip string) (*Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[ip]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *site
	return &copied, nil
}
