package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/transfa/linkdrop-service/internal/credentials"
	"github.com/transfa/linkdrop-service/internal/domain"
)

// MintCredentials registers new keys on a drop. Each key prepays its storage,
// the access-key allowance and the native cost of every use.
func (s *Service) MintCredentials(ctx context.Context, dropID, funder string, req domain.MintCredentialsRequest) ([]string, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	keys, err := canonicalKeys(req.PublicKeys)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	drop, err := s.drops.Get(dropID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if drop.FunderID != funder {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", dropID, domain.ErrNotDropFunder)
	}
	for _, pk := range keys {
		if s.keys.Has(pk) {
			s.mu.Unlock()
			return nil, fmt.Errorf("%s: %w", pk, domain.ErrDuplicateCredential)
		}
	}

	cost := s.settings.keyCost(drop).Mul(decimalFromInt(len(keys)))
	available := s.ledger.BalanceOf(funder)
	if cost.GreaterThan(available) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%d keys cost %s, funder %s has %s: %w", len(keys), cost, funder, available, domain.ErrInsufficientBalance)
	}
	if err := s.ledger.Debit(funder, cost); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.addCredentialsLocked(drop, keys)
	s.commitLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("credentials minted",
		zap.String("drop_id", dropID), zap.Int("keys", len(keys)), zap.String("cost", cost.String()))

	ev := s.event(domain.EventKeysAdded)
	ev.DropID, ev.Funder, ev.PublicKeys, ev.Amount = dropID, funder, keys, amountPtr(cost)
	s.publish(ctx, ev)
	return keys, nil
}

// DeleteCredential removes a key on behalf of its funder, crediting back the
// key storage and the prepaid cost of its unused uses.
func (s *Service) DeleteCredential(ctx context.Context, publicKey, requester string) error {
	pk, err := credentials.CanonicalKey(publicKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	cred, err := s.keys.Remove(pk, requester)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	refund := s.settings.keyStorageCost()
	var (
		drains []domain.ActionMessage
		pruned bool
	)
	drop, err := s.drops.Get(cred.DropID)
	if err != nil {
		s.logger.Error("credential referenced a missing drop", zap.String("public_key", pk), zap.String("drop_id", cred.DropID))
	} else {
		refund = refund.Add(remainingUsesCost(drop, cred.UsesRemaining))
		delete(drop.Credentials, pk)
		drains, pruned = s.pruneDropLocked(drop)
	}
	if err := s.ledger.Credit(cred.Funder, refund); err != nil {
		s.logger.Error("failed to credit key refund", zap.String("public_key", pk), zap.Error(err))
	}
	s.commitLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("credential deleted",
		zap.String("public_key", pk), zap.String("drop_id", cred.DropID),
		zap.String("refund", refund.String()), zap.Bool("drop_pruned", pruned))

	s.dispatchDrains(ctx, drains)
	s.publish(ctx, s.keysDeletedEvents(cred, refund, pruned)...)
	return nil
}

func (s *Service) keysDeletedEvents(cred *domain.Credential, refund decimal.Decimal, pruned bool) []domain.Event {
	deleted := s.event(domain.EventKeysDeleted)
	deleted.DropID, deleted.Funder, deleted.PublicKeys = cred.DropID, cred.Funder, []string{cred.PublicKey}
	if !refund.IsZero() {
		deleted.Amount = amountPtr(refund)
	}
	events := []domain.Event{deleted}
	if pruned {
		dropped := s.event(domain.EventDropDeleted)
		dropped.DropID, dropped.Funder = cred.DropID, cred.Funder
		events = append(events, dropped)
	}
	return events
}
