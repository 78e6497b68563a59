package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/transfa/linkdrop-service/internal/domain"
)

const withdrawalGas = 2 * domain.Tgas

// AddFunderBalance credits a confirmed native payment to its funder. Deposits
// come from the payment watcher, never from the funder, and each payment
// reference is credited once.
func (s *Service) AddFunderBalance(ctx context.Context, dep domain.FunderDeposit) (decimal.Decimal, error) {
	dep.Account = strings.TrimSpace(dep.Account)
	dep.PaymentRef = strings.TrimSpace(dep.PaymentRef)
	if err := s.validateRequest(dep); err != nil {
		return decimal.Zero, err
	}
	if !dep.Amount.IsPositive() {
		return decimal.Zero, domain.ErrInvalidAmount
	}

	s.mu.Lock()
	if _, seen := s.payments[dep.PaymentRef]; seen {
		s.mu.Unlock()
		return decimal.Zero, fmt.Errorf("%s: %w", dep.PaymentRef, domain.ErrDuplicatePayment)
	}
	if err := s.ledger.Credit(dep.Account, dep.Amount); err != nil {
		s.mu.Unlock()
		return decimal.Zero, err
	}
	s.payments[dep.PaymentRef] = struct{}{}
	balance := s.ledger.BalanceOf(dep.Account)
	s.commitLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("funder deposit credited",
		zap.String("account", dep.Account), zap.String("amount", dep.Amount.String()), zap.String("payment_ref", dep.PaymentRef))

	ev := s.event(domain.EventBalanceUpdated)
	ev.Funder, ev.Amount = dep.Account, amountPtr(dep.Amount)
	s.publish(ctx, ev)
	return balance, nil
}

// WithdrawFunderBalance debits amount and pays it out to account. The payout
// settles asynchronously; a failed or unobserved payout is credited back.
func (s *Service) WithdrawFunderBalance(ctx context.Context, account string, amount decimal.Decimal) (*domain.PendingWithdrawal, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, fmt.Errorf("account is required: %w", domain.ErrInvalidRequest)
	}
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	s.mu.Lock()
	if err := s.ledger.Debit(account, amount); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	w := &domain.PendingWithdrawal{
		Token:    uuid.New(),
		Account:  account,
		Amount:   amount,
		Deadline: s.now().Add(s.settings.OutcomeTimeout),
	}
	s.withdrawals[w.Token] = w
	s.commitLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("withdrawal dispatched",
		zap.String("account", account), zap.String("amount", amount.String()), zap.String("token", w.Token.String()))

	msg := domain.ActionMessage{
		SettlementToken: w.Token,
		Action: domain.Action{
			Kind:     domain.ActionNativeTransfer,
			Receiver: account,
			Amount:   amount,
			Gas:      withdrawalGas,
		},
	}
	s.dispatchAll(ctx, []domain.ActionMessage{msg})

	out := *w
	return &out, nil
}

// BalanceOf returns the confirmed balance of account.
func (s *Service) BalanceOf(ctx context.Context, account string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.BalanceOf(account)
}

// resolveWithdrawalLocked settles a payout. It reports false when token is
// not a pending withdrawal.
func (s *Service) resolveWithdrawalLocked(token uuid.UUID, outcome domain.Outcome) (domain.Event, bool) {
	w, ok := s.withdrawals[token]
	if !ok {
		return domain.Event{}, false
	}
	delete(s.withdrawals, token)
	if outcome == domain.OutcomeFailed {
		if err := s.ledger.Credit(w.Account, w.Amount); err != nil {
			s.logger.Error("failed to re-credit withdrawal", zap.String("account", w.Account), zap.Error(err))
		}
		s.metrics.Refund("withdrawal")
	}
	ev := s.event(domain.EventWithdrawSettled)
	ev.Funder, ev.Amount, ev.Outcome = w.Account, amountPtr(w.Amount), outcome
	return ev, true
}
