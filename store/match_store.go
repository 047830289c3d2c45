package store

import (
	"errors"
	"sync"

	"debate-arena/models"
)

var (
	ErrMatchNotFound  = errors.New("match not found")
	ErrDuplicateMatch = errors.New("duplicate match id")
)

// MatchStore is the single source of truth for live matches, addressed by
// match id. Implementations are injectable so tests can substitute fakes.
type MatchStore interface {
	Create(match *models.Match) error
	Get(id string) (*models.Match, error)
	Update(match *models.Match) error
	Delete(id string)
	List() []*models.Match
	Len() int
}

// InMemoryMatchStore keeps matches in a process-local map. Nothing is
// persisted and nothing expires; matches live until Delete or process
// teardown.
type InMemoryMatchStore struct {
	mu      sync.RWMutex
	matches map[string]*models.Match
}

func NewInMemoryMatchStore() *InMemoryMatchStore {
	return &InMemoryMatchStore{
		matches: make(map[string]*models.Match),
	}
}

// Create registers a new match. Reusing a live id is a programmer error and
// fails with ErrDuplicateMatch.
func (s *InMemoryMatchStore) Create(match *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[match.ID]; ok {
		return ErrDuplicateMatch
	}
	s.matches[match.ID] = match
	return nil
}

func (s *InMemoryMatchStore) Get(id string) (*models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	match, ok := s.matches[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return match, nil
}

// Update replaces the stored record wholesale.
func (s *InMemoryMatchStore) Update(match *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[match.ID]; !ok {
		return ErrMatchNotFound
	}
	s.matches[match.ID] = match
	return nil
}

// Delete removes a match; deleting an absent id is a no-op.
func (s *InMemoryMatchStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.matches, id)
}

func (s *InMemoryMatchStore) List() []*models.Match {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*models.Match, 0, len(s.matches))
	for _, m := range s.matches {
		res = append(res, m)
	}
	return res
}

func (s *InMemoryMatchStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}
