package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/transfa/linkdrop-service/internal/credentials"
	"github.com/transfa/linkdrop-service/internal/domain"
	"github.com/transfa/linkdrop-service/internal/dropstore"
)

// Read-only views. Each one copies under the lock, so callers see the state
// as of the last committed step.

func (s *Service) GetCredential(ctx context.Context, publicKey string) (*domain.Credential, error) {
	pk, err := credentials.CanonicalKey(publicKey)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.keys.Get(pk)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

func (s *Service) CredentialsForFunder(ctx context.Context, funder string) []*domain.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.keys.ForFunder(funder)
	out := make([]*domain.Credential, 0, len(keys))
	for _, pk := range keys {
		if c, err := s.keys.Get(pk); err == nil {
			out = append(out, c.Clone())
		}
	}
	return out
}

func (s *Service) DropsForFunder(ctx context.Context, funder string) []*dropstore.Drop {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.drops.ByFunder(funder)
	out := make([]*dropstore.Drop, 0, len(ids))
	for _, id := range ids {
		if d, err := s.drops.View(id); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// GetClaim returns the receipt of an in-flight or recently finalized claim.
func (s *Service) GetClaim(ctx context.Context, claimID uuid.UUID) (*domain.ClaimReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[claimID]
	if !ok {
		c, ok = s.finished[claimID]
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", claimID, domain.ErrClaimNotFound)
	}
	return &domain.ClaimReceipt{
		ClaimID:     c.ClaimID,
		DropID:      c.DropID,
		UseNumber:   c.UseNumber,
		State:       c.State,
		Settlements: append([]domain.Settlement(nil), c.Settlements...),
	}, nil
}

// Totals returns the lifetime credits and debits of account.
func (s *Service) Totals(ctx context.Context, account string) (credited, debited decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Totals(account)
}

// InFlightClaims reports how many claims await outcomes.
func (s *Service) InFlightClaims() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}
