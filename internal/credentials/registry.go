// Package credentials owns access-key records, their use budgets and the
// funder reverse index used for storage refunds.
package credentials

import (
	"fmt"
	"sort"

	"github.com/transfa/linkdrop-service/internal/domain"
)

// Registry indexes live credentials by public key and by funder. It is not
// safe for concurrent use; the claim service serializes access.
type Registry struct {
	keys     map[string]*domain.Credential
	byFunder map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		keys:     make(map[string]*domain.Credential),
		byFunder: make(map[string]map[string]struct{}),
	}
}

// Add registers a freshly minted credential.
func (r *Registry) Add(c *domain.Credential) error {
	if _, exists := r.keys[c.PublicKey]; exists {
		return fmt.Errorf("%s: %w", c.PublicKey, domain.ErrDuplicateCredential)
	}
	r.keys[c.PublicKey] = c
	idx, ok := r.byFunder[c.Funder]
	if !ok {
		idx = make(map[string]struct{})
		r.byFunder[c.Funder] = idx
	}
	idx[c.PublicKey] = struct{}{}
	return nil
}

// Has reports whether publicKey is registered.
func (r *Registry) Has(publicKey string) bool {
	_, ok := r.keys[publicKey]
	return ok
}

// Get returns the live record.
func (r *Registry) Get(publicKey string) (*domain.Credential, error) {
	c, ok := r.keys[publicKey]
	if !ok {
		return nil, fmt.Errorf("%s: %w", publicKey, domain.ErrCredentialNotFound)
	}
	return c, nil
}

// Authorize checks that the credential may start a claim now.
func (r *Registry) Authorize(publicKey string) (dropID string, usesRemaining uint32, err error) {
	c, err := r.Get(publicKey)
	if err != nil {
		return "", 0, err
	}
	if c.UsesRemaining == 0 {
		return "", 0, fmt.Errorf("%s: %w", publicKey, domain.ErrCredentialExhausted)
	}
	if c.InFlight != nil {
		return "", 0, fmt.Errorf("%s claim %s: %w", publicKey, c.InFlight.ClaimID, domain.ErrClaimInProgress)
	}
	return c.DropID, c.UsesRemaining, nil
}

// Consume spends one use. At zero the credential is removed from the
// registry and the funder index, and removed reports true.
func (r *Registry) Consume(publicKey string) (remaining uint32, removed bool, err error) {
	c, err := r.Get(publicKey)
	if err != nil {
		return 0, false, err
	}
	if c.UsesRemaining == 0 {
		return 0, false, fmt.Errorf("%s: %w", publicKey, domain.ErrCredentialExhausted)
	}
	c.UsesRemaining--
	c.InFlight = nil
	if c.UsesRemaining == 0 {
		r.remove(c)
		return 0, true, nil
	}
	return c.UsesRemaining, false, nil
}

// Remove deletes a credential on behalf of requester, who must be its funder.
func (r *Registry) Remove(publicKey, requester string) (*domain.Credential, error) {
	c, err := r.Get(publicKey)
	if err != nil {
		return nil, err
	}
	if c.Funder != requester {
		return nil, fmt.Errorf("%s: %w", publicKey, domain.ErrNotDropFunder)
	}
	if c.InFlight != nil {
		return nil, fmt.Errorf("%s: %w", publicKey, domain.ErrClaimInProgress)
	}
	r.remove(c)
	return c, nil
}

// MarkInFlight pins the credential to a running claim.
func (r *Registry) MarkInFlight(publicKey string, ref domain.InFlightRef) error {
	c, err := r.Get(publicKey)
	if err != nil {
		return err
	}
	c.InFlight = &ref
	return nil
}

// ForFunder lists the public keys registered by funder.
func (r *Registry) ForFunder(funder string) []string {
	idx := r.byFunder[funder]
	out := make([]string, 0, len(idx))
	for k := range idx {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// All returns every live credential ordered by public key.
func (r *Registry) All() []*domain.Credential {
	out := make([]*domain.Credential, 0, len(r.keys))
	for _, c := range r.keys {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicKey < out[j].PublicKey })
	return out
}

// Restore replaces the registry contents and rebuilds the funder index. A
// snapshot holding the same key twice is rejected and leaves the registry
// empty.
func (r *Registry) Restore(creds []*domain.Credential) error {
	r.keys = make(map[string]*domain.Credential, len(creds))
	r.byFunder = make(map[string]map[string]struct{})
	for _, c := range creds {
		if err := r.Add(c); err != nil {
			r.keys = make(map[string]*domain.Credential)
			r.byFunder = make(map[string]map[string]struct{})
			return fmt.Errorf("restore credentials: %w", err)
		}
	}
	return nil
}

func (r *Registry) remove(c *domain.Credential) {
	delete(r.keys, c.PublicKey)
	if idx, ok := r.byFunder[c.Funder]; ok {
		delete(idx, c.PublicKey)
		if len(idx) == 0 {
			delete(r.byFunder, c.Funder)
		}
	}
}
