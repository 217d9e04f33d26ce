package profile

import (
	"sync"

	"github.com/DBatOWL/xipki/ca/model"
)

// Store is the in-memory, name-keyed Profile registry ca/service looks
// issuance policies up in. Profiles are admin-managed configuration
// rather than transactional data, so unlike CA/Certificate/CRL they are
// not a repository-backed table in this core.
type Store struct {
	mu     sync.RWMutex
	byName map[string]model.Profile
}

// NewStore builds a Store preloaded with profiles, keyed by their Name.
func NewStore(profiles ...model.Profile) *Store {
	s := &Store{byName: make(map[string]model.Profile, len(profiles))}
	for _, p := range profiles {
		s.byName[p.Name] = p
	}
	return s
}

// Put installs or replaces a profile.
func (s *Store) Put(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[p.Name] = p
}

// Get looks a profile up by name.
func (s *Store) Get(name string) (model.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byName[name]
	return p, ok
}
