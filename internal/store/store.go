package store

import (
	"sort"
	"sync"
	"time"

	"jejubus/internal/domain"
)

type ListOptions struct {
	Route string
	BBox  *domain.BoundingBox
}

// Store holds the last successfully fetched bus snapshot for HTTP readers.
// A failed fetch never touches it, so it stays authoritative until the next success.
type Store struct {
	mu      sync.RWMutex
	buses   map[string]*domain.Bus
	byRoute map[string]map[string]struct{}

	updatedAt time.Time
}

func New() *Store {
	return &Store{
		buses:   make(map[string]*domain.Bus),
		byRoute: make(map[string]map[string]struct{}),
	}
}

// Replace swaps in a new snapshot and reports how many plates appeared and disappeared
func (s *Store) Replace(buses []*domain.Bus) (added, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*domain.Bus, len(buses))
	byRoute := make(map[string]map[string]struct{})

	for _, b := range buses {
		copy := *b
		next[b.Plate] = &copy
		if byRoute[b.RouteID] == nil {
			byRoute[b.RouteID] = make(map[string]struct{})
		}
		byRoute[b.RouteID][b.Plate] = struct{}{}

		if _, ok := s.buses[b.Plate]; !ok {
			added++
		}
	}
	for plate := range s.buses {
		if _, ok := next[plate]; !ok {
			removed++
		}
	}

	s.buses = next
	s.byRoute = byRoute
	s.updatedAt = time.Now()
	return added, removed
}

func (s *Store) Get(plate string) (*domain.Bus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buses[plate]
	if !ok {
		return nil, false
	}
	copy := *b
	return &copy, true
}

func (s *Store) List(opts ListOptions) []*domain.Bus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates map[string]struct{}
	if opts.Route != "" {
		candidates = s.byRoute[opts.Route]
	} else {
		candidates = make(map[string]struct{}, len(s.buses))
		for plate := range s.buses {
			candidates[plate] = struct{}{}
		}
	}

	result := make([]*domain.Bus, 0, len(candidates))
	for plate := range candidates {
		b := s.buses[plate]
		if opts.BBox != nil && !opts.BBox.Contains(b.Lat, b.Lon) {
			continue
		}
		copy := *b
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Plate < result[j].Plate })
	return result
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buses)
}

func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
