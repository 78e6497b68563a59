package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/transfa/linkdrop-service/internal/domain"
)

// dispatchAll issues tracked actions concurrently. The actions are
// independent, so one failing does not cancel the others; a dispatch error
// is reported back as a failed outcome so the reservation gets refunded.
func (s *Service) dispatchAll(ctx context.Context, msgs []domain.ActionMessage) {
	if len(msgs) == 0 {
		return
	}
	dctx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(s.settings.DispatchConcurrency)
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			if err := s.dispatch(dctx, msg); err != nil {
				s.logger.Warn("dispatch failed; refunding",
					zap.String("token", msg.SettlementToken.String()),
					zap.String("kind", string(msg.Action.Kind)), zap.Error(err))
				report := domain.OutcomeReport{
					SettlementToken: msg.SettlementToken,
					Outcome:         domain.OutcomeFailed,
					Reason:          domain.ReasonDispatchError,
				}
				if rerr := s.ResolveOutcome(dctx, report); rerr != nil {
					s.logger.Error("failed to resolve undispatched action", zap.String("token", msg.SettlementToken.String()), zap.Error(rerr))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// dispatchDrains sends residual units back to a funder. Nothing tracks their
// outcome; failures are logged with enough detail to replay them.
func (s *Service) dispatchDrains(ctx context.Context, msgs []domain.ActionMessage) {
	dctx := context.WithoutCancel(ctx)
	for _, msg := range msgs {
		if err := s.dispatch(dctx, msg); err != nil {
			s.logger.Error("failed to return residual units to funder",
				zap.String("drop_id", msg.DropID), zap.String("receiver", msg.Action.Receiver),
				zap.String("contract_id", msg.Action.ContractID), zap.String("token_id", msg.Action.TokenID),
				zap.String("amount", msg.Action.Amount.String()), zap.Error(err))
		}
	}
}

func (s *Service) dispatch(ctx context.Context, msg domain.ActionMessage) error {
	if s.dispatcher == nil {
		return fmt.Errorf("no dispatcher configured: %w", domain.ErrExternalActionFailed)
	}
	return s.dispatcher.Dispatch(ctx, msg)
}
