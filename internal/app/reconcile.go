package app

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/transfa/linkdrop-service/internal/domain"
)

// ResolveOutcome applies the outcome of one dispatched action. Failed
// settlements are refunded into their asset. A token that is unknown or
// already resolved is ignored, so redelivered outcomes are harmless.
func (s *Service) ResolveOutcome(ctx context.Context, report domain.OutcomeReport) error {
	if err := s.validateRequest(report); err != nil {
		return err
	}

	s.mu.Lock()
	if ev, ok := s.resolveWithdrawalLocked(report.SettlementToken, report.Outcome); ok {
		s.commitLocked(ctx)
		s.mu.Unlock()
		s.logger.Info("withdrawal settled",
			zap.String("token", report.SettlementToken.String()), zap.String("outcome", string(report.Outcome)))
		s.publish(ctx, ev)
		return nil
	}

	claimID, ok := s.tokens[report.SettlementToken]
	if !ok {
		s.mu.Unlock()
		s.logger.Info("outcome for unknown or resolved settlement; ignoring",
			zap.String("token", report.SettlementToken.String()), zap.String("outcome", string(report.Outcome)))
		return nil
	}
	claim, ok := s.claims[claimID]
	if !ok {
		delete(s.tokens, report.SettlementToken)
		s.mu.Unlock()
		return nil
	}
	f := s.applyOutcomeLocked(claim, report.SettlementToken, report.Outcome, report.Reason)
	s.commitLocked(ctx)
	s.mu.Unlock()

	s.run(ctx, f)
	return nil
}

func (s *Service) applyOutcomeLocked(claim *domain.InFlightClaim, token uuid.UUID, outcome domain.Outcome, reason string) followUp {
	delete(s.tokens, token)
	st, ok := claim.Settlement(token)
	if !ok || st.Status != domain.SettlementPending {
		return followUp{}
	}
	// The first reported outcome moves the claim from settling to reconciling.
	claim.State = domain.ClaimStateReconciling

	if outcome == domain.OutcomeFailed {
		st.Status = domain.SettlementFailed
		st.Reason = reason
		if st.Reason == "" {
			st.Reason = domain.ReasonExternalFailure
		}
	} else {
		st.Status = domain.SettlementSucceeded
	}

	drop, err := s.drops.Get(claim.DropID)
	if err != nil {
		s.logger.Error("outcome for a claim on a missing drop", zap.String("claim_id", claim.ClaimID.String()), zap.Error(err))
	} else if a, ok := drop.Assets[st.AssetID]; ok {
		res := a.Refund(outcome, token)
		credit := res.Native.Add(s.settings.tokenIDStorageCost(res.FreedTokenIDs))
		if err := s.ledger.Credit(drop.FunderID, credit); err != nil {
			s.logger.Error("failed to credit restitution", zap.String("drop_id", drop.ID), zap.Error(err))
		}
		if outcome == domain.OutcomeFailed {
			s.metrics.Refund(string(a.Kind()))
		}
	}

	s.logger.Info("settlement resolved",
		zap.String("claim_id", claim.ClaimID.String()), zap.String("asset_id", st.AssetID),
		zap.String("status", string(st.Status)), zap.String("reason", st.Reason))
	s.metrics.Settlement(string(st.Action.Kind), string(st.Status))
	s.metrics.SettlementLatency(s.now().Sub(claim.StartedAt))

	if claim.Pending() > 0 {
		return followUp{}
	}
	return s.finalizeLocked(claim)
}

// finalizeLocked consumes exactly one use of the credential, whatever the
// settlements did, and retires the claim.
func (s *Service) finalizeLocked(claim *domain.InFlightClaim) followUp {
	claim.State = domain.ClaimStateReconciling
	var f followUp

	drop, dropErr := s.drops.Get(claim.DropID)
	if dropErr == nil {
		unused := decimal.Zero
		for _, id := range claim.Skipped {
			if a, ok := drop.Assets[id]; ok {
				unused = unused.Add(a.NativeCostPerUse(claim.UseNumber, drop.Config.LazyRegister))
			}
		}
		if err := s.ledger.Credit(drop.FunderID, unused); err != nil {
			s.logger.Error("failed to credit skipped asset cost", zap.String("drop_id", drop.ID), zap.Error(err))
		}
	}

	remaining, removed, err := s.keys.Consume(claim.PublicKey)
	if err != nil {
		s.logger.Error("failed to consume credential", zap.String("claim_id", claim.ClaimID.String()), zap.Error(err))
	}
	pruned := false
	if removed && dropErr == nil {
		if err := s.ledger.Credit(drop.FunderID, s.settings.keyStorageCost()); err != nil {
			s.logger.Error("failed to credit key storage", zap.String("drop_id", drop.ID), zap.Error(err))
		}
		delete(drop.Credentials, claim.PublicKey)
		f.drains, pruned = s.pruneDropLocked(drop)
	}

	claim.State = domain.ClaimStateFinalized
	delete(s.claims, claim.ClaimID)
	s.finished[claim.ClaimID] = claim
	s.metrics.InFlight(len(s.claims))
	s.metrics.Claim("finalize", finalizeResult(claim))

	s.logger.Info("claim finalized",
		zap.String("claim_id", claim.ClaimID.String()), zap.String("drop_id", claim.DropID),
		zap.Uint32("uses_remaining", remaining), zap.Bool("credential_removed", removed), zap.Bool("drop_pruned", pruned))

	id := claim.ClaimID
	ev := s.event(domain.EventClaimFinalized)
	ev.DropID, ev.ClaimID, ev.Receiver, ev.UseNumber = claim.DropID, &id, claim.Receiver, claim.UseNumber
	ev.PublicKeys = []string{claim.PublicKey}
	ev.Settlements = append([]domain.Settlement(nil), claim.Settlements...)
	f.events = append(f.events, ev)
	if pruned {
		dropped := s.event(domain.EventDropDeleted)
		dropped.DropID, dropped.Funder = drop.ID, drop.FunderID
		f.events = append(f.events, dropped)
	}
	return f
}

func finalizeResult(claim *domain.InFlightClaim) string {
	if len(claim.Settlements) == 0 {
		return "empty"
	}
	failed := 0
	for _, st := range claim.Settlements {
		if st.Status == domain.SettlementFailed {
			failed++
		}
	}
	switch failed {
	case 0:
		return "succeeded"
	case len(claim.Settlements):
		return "failed"
	default:
		return "partial"
	}
}

// ExpireStale treats every outcome not observed by its deadline as failed.
// It covers pending settlements, claims stuck waiting on account creation
// and payouts. It returns the number of items expired.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	var (
		f       followUp
		expired int
	)

	ids := make([]uuid.UUID, 0, len(s.claims))
	for id := range s.claims {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		claim, ok := s.claims[id]
		if !ok || now.Before(claim.Deadline) {
			continue
		}
		switch claim.State {
		case domain.ClaimStateAwaitingAccount:
			s.logger.Warn("account creation not observed in time", zap.String("claim_id", id.String()))
			f.merge(s.failAccountLocked(claim))
			expired++
		case domain.ClaimStateSettling, domain.ClaimStateReconciling:
			var pending []uuid.UUID
			for _, st := range claim.Settlements {
				if st.Status == domain.SettlementPending {
					pending = append(pending, st.Token)
				}
			}
			for _, token := range pending {
				f.merge(s.applyOutcomeLocked(claim, token, domain.OutcomeFailed, domain.ReasonTimeout))
				s.metrics.Claim("reconcile", "timeout")
				expired++
			}
		}
	}

	for token, w := range s.withdrawals {
		if now.Before(w.Deadline) {
			continue
		}
		ev, _ := s.resolveWithdrawalLocked(token, domain.OutcomeFailed)
		f.events = append(f.events, ev)
		expired++
	}

	for id, c := range s.finished {
		if now.Sub(c.StartedAt) > s.settings.ClaimRetention {
			delete(s.finished, id)
		}
	}

	if expired > 0 {
		s.commitLocked(ctx)
	}
	s.mu.Unlock()

	if expired > 0 {
		s.logger.Info("expired stale outcomes", zap.Int("expired", expired))
	}
	s.run(ctx, f)
	return expired, nil
}
