package store

import (
	"sort"
	"sync"
	"time"

	"jejubus/internal/domain"
)

// POIStore holds the points of interest fetched at startup
type POIStore struct {
	mu     sync.RWMutex
	pois   map[string]*domain.POI
	loaded bool

	lastUpdate time.Time
}

func NewPOIStore() *POIStore {
	return &POIStore{
		pois: make(map[string]*domain.POI),
	}
}

func (s *POIStore) UpdateAll(pois []*domain.POI) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pois = make(map[string]*domain.POI, len(pois))
	for _, p := range pois {
		copy := *p
		s.pois[p.Identity()] = &copy
	}
	s.loaded = true
	s.lastUpdate = time.Now()
}

func (s *POIStore) GetAll() []*domain.POI {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.POI, 0, len(s.pois))
	for _, p := range s.pois {
		copy := *p
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Identity() < result[j].Identity() })
	return result
}

func (s *POIStore) Get(id string) (*domain.POI, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pois[id]
	if !ok {
		return nil, false
	}
	copy := *p
	return &copy, true
}

func (s *POIStore) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

func (s *POIStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pois)
}
