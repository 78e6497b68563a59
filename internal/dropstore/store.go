// Package dropstore owns drop records keyed by drop id.
package dropstore

import (
	"fmt"
	"sort"

	"github.com/transfa/linkdrop-service/internal/domain"
)

// Store holds every live drop by id. Callers serialize access; the claim
// service does so with its own lock.
type Store struct {
	drops map[string]*Drop
}

// New returns an empty drop store.
func New() *Store {
	return &Store{drops: make(map[string]*Drop)}
}

// Create registers a new drop. Ids never collide.
func (s *Store) Create(d *Drop) error {
	if _, exists := s.drops[d.ID]; exists {
		return fmt.Errorf("%s: %w", d.ID, domain.ErrDuplicateDrop)
	}
	if d.Credentials == nil {
		d.Credentials = make(map[string]struct{})
	}
	s.drops[d.ID] = d
	return nil
}

// Get returns the live record for mutation by the owning service.
func (s *Store) Get(id string) (*Drop, error) {
	d, ok := s.drops[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrDropNotFound)
	}
	return d, nil
}

// View returns a detached copy of the drop.
func (s *Store) View(id string) (*Drop, error) {
	d, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// Put writes back a drop that is already registered.
func (s *Store) Put(d *Drop) error {
	if _, ok := s.drops[d.ID]; !ok {
		return fmt.Errorf("%s: %w", d.ID, domain.ErrDropNotFound)
	}
	s.drops[d.ID] = d
	return nil
}

// Delete removes a drop that no credential references any more.
func (s *Store) Delete(id string) (*Drop, error) {
	d, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if len(d.Credentials) > 0 {
		return nil, fmt.Errorf("%s has %d credentials: %w", id, len(d.Credentials), domain.ErrDropHasCredentials)
	}
	if d.Reserved() > 0 {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrDropHasClaims)
	}
	delete(s.drops, id)
	return d, nil
}

// ByFunder lists the ids of drops created by funder.
func (s *Store) ByFunder(funder string) []string {
	var ids []string
	for id, d := range s.drops {
		if d.FunderID == funder {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// All returns every live drop, for snapshotting.
func (s *Store) All() []*Drop {
	out := make([]*Drop, 0, len(s.drops))
	for _, d := range s.drops {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore replaces the store contents.
func (s *Store) Restore(drops []*Drop) {
	s.drops = make(map[string]*Drop, len(drops))
	for _, d := range drops {
		if d.Credentials == nil {
			d.Credentials = make(map[string]struct{})
		}
		s.drops[d.ID] = d
	}
}
