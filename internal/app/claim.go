package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/transfa/linkdrop-service/internal/asset"
	"github.com/transfa/linkdrop-service/internal/credentials"
	"github.com/transfa/linkdrop-service/internal/domain"
)

const claimRateLimitScope = "claim"

// followUp collects the work a locked step leaves for after the unlock.
type followUp struct {
	// actions are settlements whose outcome is tracked.
	actions []domain.ActionMessage
	// drains return residual drop units to the funder, best effort.
	drains []domain.ActionMessage
	events []domain.Event
}

func (f *followUp) merge(o followUp) {
	f.actions = append(f.actions, o.actions...)
	f.drains = append(f.drains, o.drains...)
	f.events = append(f.events, o.events...)
}

func (s *Service) run(ctx context.Context, f followUp) {
	s.dispatchAll(ctx, f.actions)
	s.dispatchDrains(ctx, f.drains)
	s.publish(ctx, f.events...)
}

// Claim redeems one use of a credential to an existing receiver account. Only
// admission errors are returned; settlement failures are refunded and show
// up in the receipt, events and balances.
func (s *Service) Claim(ctx context.Context, req domain.ClaimRequest) (*domain.ClaimReceipt, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	pk, err := credentials.CanonicalKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	receiver := strings.TrimSpace(req.Receiver)
	if err := s.admitCaller(ctx, pk, credentials.ClaimPayload(pk, receiver), req.Signature); err != nil {
		return nil, err
	}

	s.mu.Lock()
	claim, err := s.authorizeLocked(pk, receiver)
	if err != nil {
		s.mu.Unlock()
		s.metrics.Claim("authorize", "rejected")
		return nil, err
	}
	f := s.settleLocked(claim)
	s.commitLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("claim admitted",
		zap.String("claim_id", claim.ClaimID.String()), zap.String("drop_id", claim.DropID),
		zap.Uint32("use", claim.UseNumber), zap.Int("settlements", len(f.actions)))

	s.run(ctx, f)
	return s.GetClaim(ctx, claim.ClaimID)
}

// ClaimAndCreateAccount redeems one use to an account that does not exist
// yet. No asset is touched until the account factory reports success.
func (s *Service) ClaimAndCreateAccount(ctx context.Context, req domain.ClaimAndCreateRequest) (*domain.ClaimReceipt, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	pk, err := credentials.CanonicalKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	newPK, err := credentials.CanonicalKey(req.NewPublicKey)
	if err != nil {
		return nil, fmt.Errorf("new account key: %w", err)
	}
	newAccountID := strings.TrimSpace(req.NewAccountID)
	if err := s.admitCaller(ctx, pk, credentials.ClaimPayload(pk, newAccountID+"|"+newPK), req.Signature); err != nil {
		return nil, err
	}

	s.mu.Lock()
	claim, err := s.authorizeLocked(pk, newAccountID)
	if err != nil {
		s.mu.Unlock()
		s.metrics.Claim("authorize", "rejected")
		return nil, err
	}
	claim.NewAccountID = newAccountID
	claim.NewPublicKey = newPK
	claim.State = domain.ClaimStateAwaitingAccount
	claim.Deadline = s.now().Add(2 * s.settings.AccountCreateTimeout)
	s.commitLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("awaiting account creation",
		zap.String("claim_id", claim.ClaimID.String()), zap.String("new_account_id", newAccountID))

	createErr := domain.ErrExternalActionFailed
	if s.accounts != nil {
		acctCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.AccountCreateTimeout)
		createErr = s.accounts.CreateAccount(acctCtx, newAccountID, newPK)
		if errors.Is(acctCtx.Err(), context.DeadlineExceeded) && createErr != nil {
			createErr = fmt.Errorf("%v: %w", createErr, domain.ErrTimeout)
		}
		cancel()
	}
	s.onAccountCreated(ctx, claim.ClaimID, createErr)
	return s.GetClaim(ctx, claim.ClaimID)
}

func (s *Service) onAccountCreated(ctx context.Context, claimID uuid.UUID, createErr error) {
	s.mu.Lock()
	claim, ok := s.claims[claimID]
	if !ok || claim.State != domain.ClaimStateAwaitingAccount {
		s.mu.Unlock()
		s.logger.Warn("account result for a claim no longer awaiting it",
			zap.String("claim_id", claimID.String()), zap.Error(createErr))
		return
	}

	var f followUp
	if createErr != nil {
		s.logger.Warn("account creation failed; finalizing claim without transfers",
			zap.String("claim_id", claimID.String()), zap.String("new_account_id", claim.NewAccountID), zap.Error(createErr))
		s.metrics.Claim("create_account", "failed")
		f = s.failAccountLocked(claim)
	} else {
		s.metrics.Claim("create_account", "succeeded")
		f = s.settleLocked(claim)
	}
	s.commitLocked(ctx)
	s.mu.Unlock()

	s.run(ctx, f)
}

// admitCaller checks the credential signature, then charges the claim rate
// limit. Only signed attempts count against the credential, so forged ones
// cannot lock its holder out.
func (s *Service) admitCaller(ctx context.Context, pk string, payload []byte, signature string) error {
	if err := s.authorizer.Authorize(ctx, pk, payload, signature); err != nil {
		s.metrics.Claim("authorize", "bad_signature")
		return err
	}
	if s.rateLimiter == nil || s.settings.ClaimRateLimit <= 0 {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, claimRateLimitScope, pk, s.settings.ClaimRateLimit, s.settings.ClaimRateWindow)
	if err != nil {
		s.logger.Warn("claim rate limiter unavailable; allowing request", zap.String("public_key", pk), zap.Error(err))
		return nil
	}
	if count > s.settings.ClaimRateLimit {
		s.metrics.Claim("authorize", "rate_limited")
		return fmt.Errorf("%s: retry after %ds: %w", pk, retryAfter, domain.ErrRateLimited)
	}
	return nil
}

// authorizeLocked admits a claim attempt and pins the credential to it.
func (s *Service) authorizeLocked(pk, receiver string) (*domain.InFlightClaim, error) {
	dropID, remaining, err := s.keys.Authorize(pk)
	if err != nil {
		return nil, err
	}
	drop, err := s.drops.Get(dropID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	claim := &domain.InFlightClaim{
		ClaimID:   uuid.New(),
		PublicKey: pk,
		DropID:    dropID,
		UseNumber: drop.Config.UsesPerKey - remaining + 1,
		Receiver:  receiver,
		State:     domain.ClaimStateAuthorized,
		StartedAt: now,
		Deadline:  now.Add(s.settings.OutcomeTimeout),
	}
	if err := s.keys.MarkInFlight(pk, domain.InFlightRef{ClaimID: claim.ClaimID, Receiver: receiver, StartedAt: now}); err != nil {
		return nil, err
	}
	s.claims[claim.ClaimID] = claim
	s.metrics.InFlight(len(s.claims))
	return claim, nil
}

// settleLocked resolves the assets eligible on this use, reserves one unit
// of each and builds the actions that transfer them. Ineligible assets are
// skipped. With nothing to transfer the claim finalizes right away.
func (s *Service) settleLocked(claim *domain.InFlightClaim) followUp {
	claim.State = domain.ClaimStateResolving
	drop, err := s.drops.Get(claim.DropID)
	if err != nil {
		s.logger.Error("claim references a missing drop", zap.String("claim_id", claim.ClaimID.String()), zap.Error(err))
		return s.finalizeLocked(claim)
	}
	var keyID uint64
	if cred, err := s.keys.Get(claim.PublicKey); err == nil {
		keyID = cred.KeyID
	}

	cc := asset.ClaimContext{
		DropID:       drop.ID,
		KeyID:        keyID,
		UseNumber:    claim.UseNumber,
		Receiver:     claim.Receiver,
		LazyRegister: drop.Config.LazyRegister,
	}
	var f followUp
	for _, id := range drop.AssetIDs() {
		a := drop.Assets[id]
		if !a.EnoughBalance(claim.UseNumber) {
			claim.Skipped = append(claim.Skipped, id)
			continue
		}
		action, token, err := a.Claim(cc)
		if err != nil {
			s.logger.Warn("asset claim refused; skipping", zap.String("drop_id", drop.ID), zap.String("asset_id", id), zap.Error(err))
			claim.Skipped = append(claim.Skipped, id)
			continue
		}
		claim.Settlements = append(claim.Settlements, domain.Settlement{
			Token:   token,
			AssetID: id,
			Action:  action,
			Status:  domain.SettlementPending,
		})
		s.tokens[token] = claim.ClaimID
		f.actions = append(f.actions, domain.ActionMessage{
			SettlementToken: token,
			ClaimID:         claim.ClaimID,
			DropID:          drop.ID,
			Action:          action,
		})
	}

	claim.State = domain.ClaimStateSettling
	claim.Deadline = s.now().Add(s.settings.OutcomeTimeout)
	s.metrics.Claim("settle", "admitted")
	if len(claim.Settlements) == 0 {
		s.logger.Info("no eligible assets on this use; consuming it anyway",
			zap.String("claim_id", claim.ClaimID.String()), zap.Uint32("use", claim.UseNumber))
		return s.finalizeLocked(claim)
	}
	return f
}

// failAccountLocked finalizes a claim whose receiver account could not be
// created. Every asset counts as skipped.
func (s *Service) failAccountLocked(claim *domain.InFlightClaim) followUp {
	if drop, err := s.drops.Get(claim.DropID); err == nil {
		claim.Skipped = drop.AssetIDs()
	}
	return s.finalizeLocked(claim)
}
