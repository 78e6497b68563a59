package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/transfa/linkdrop-service/internal/domain"
)

const consumerTimeout = 15 * time.Second

// OutcomeConsumer feeds executor outcome reports into the claim engine.
type OutcomeConsumer struct {
	service *Service
	logger  *zap.Logger
}

func NewOutcomeConsumer(service *Service, logger *zap.Logger) *OutcomeConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutcomeConsumer{service: service, logger: logger.With(zap.String("component", "outcome_consumer"))}
}

// HandleMessage applies one outcome report. Reports that can never apply are
// acknowledged.
func (c *OutcomeConsumer) HandleMessage(body []byte) bool {
	var report domain.OutcomeReport
	if err := json.Unmarshal(body, &report); err != nil {
		c.logger.Warn("failed to unmarshal outcome payload", zap.Error(err))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	if err := c.service.ResolveOutcome(ctx, report); err != nil {
		if permanent(err) {
			c.logger.Warn("dropping outcome report", zap.String("token", report.SettlementToken.String()), zap.Error(err))
			return true
		}
		c.logger.Error("processing error for outcome", zap.String("token", report.SettlementToken.String()), zap.Error(err))
		return false
	}
	return true
}

// DepositConsumer applies token-transfer callbacks to drop assets.
type DepositConsumer struct {
	service *Service
	logger  *zap.Logger
}

func NewDepositConsumer(service *Service, logger *zap.Logger) *DepositConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DepositConsumer{service: service, logger: logger.With(zap.String("component", "deposit_consumer"))}
}

// HandleMessage merges one asset deposit into its drop.
func (c *DepositConsumer) HandleMessage(body []byte) bool {
	var req domain.DepositRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.logger.Warn("failed to unmarshal deposit payload", zap.Error(err))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	if err := c.service.DepositAsset(ctx, req); err != nil {
		if permanent(err) {
			c.logger.Warn("deposit rejected; acknowledging",
				zap.String("drop_id", req.DropID), zap.String("asset_id", req.AssetID), zap.Error(err))
			return true
		}
		c.logger.Error("processing error for deposit", zap.String("drop_id", req.DropID), zap.Error(err))
		return false
	}
	return true
}

// HandleFunderDeposit credits a native payment confirmed by the payment
// watcher. Redelivered payments are acknowledged without a second credit.
func (c *DepositConsumer) HandleFunderDeposit(body []byte) bool {
	var dep domain.FunderDeposit
	if err := json.Unmarshal(body, &dep); err != nil {
		c.logger.Warn("failed to unmarshal funder deposit payload", zap.Error(err))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	if _, err := c.service.AddFunderBalance(ctx, dep); err != nil {
		if permanent(err) {
			c.logger.Warn("funder deposit rejected; acknowledging",
				zap.String("account", dep.Account), zap.String("payment_ref", dep.PaymentRef), zap.Error(err))
			return true
		}
		c.logger.Error("processing error for funder deposit", zap.String("payment_ref", dep.PaymentRef), zap.Error(err))
		return false
	}
	return true
}

// permanent reports whether redelivering the same message cannot succeed.
func permanent(err error) bool {
	for _, class := range []error{
		domain.ErrInvalidRequest,
		domain.ErrNotFound,
		domain.ErrUnauthorized,
		domain.ErrInsufficientBalance,
		domain.ErrDuplicateEntity,
		domain.ErrCredentialExhausted,
		domain.ErrPreconditionFailed,
	} {
		if errors.Is(err, class) {
			return true
		}
	}
	return false
}
