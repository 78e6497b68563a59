package asset

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/transfa/linkdrop-service/internal/domain"
)

// Native sends a fixed amount of native currency per use. The amount is
// prepaid into the credential at mint time, so the variant holds no pool.
type Native struct {
	AmountPerUse decimal.Decimal               `json:"amount_per_use"`
	Pending      map[uuid.UUID]decimal.Decimal `json:"pending,omitempty"`
}

// NewNative returns a native-currency asset paying amountPerUse on every use.
// The amount is prepaid by the funder when keys are minted.
func NewNative(amountPerUse decimal.Decimal) (*Native, error) {
	if !positive(amountPerUse) {
		return nil, fmt.Errorf("native amount_per_use: %w", domain.ErrInvalidAmount)
	}
	return &Native{AmountPerUse: amountPerUse, Pending: map[uuid.UUID]decimal.Decimal{}}, nil
}

func (n *Native) Kind() Kind { return KindNative }

func (n *Native) ID() string { return NativeID }

func (n *Native) EnoughBalance(uint32) bool { return true }

func (n *Native) CostEstimate(uint32) Gas {
	return gasNativeTransfer + gasResolveCallback
}

func (n *Native) NativeCostPerUse(uint32, bool) decimal.Decimal {
	return n.AmountPerUse
}

func (n *Native) Claim(cc ClaimContext) (domain.Action, uuid.UUID, error) {
	if n.Pending == nil {
		n.Pending = map[uuid.UUID]decimal.Decimal{}
	}
	token := uuid.New()
	n.Pending[token] = n.AmountPerUse
	return domain.Action{
		Kind:     domain.ActionNativeTransfer,
		Receiver: cc.Receiver,
		Amount:   n.AmountPerUse,
		Gas:      n.CostEstimate(cc.UseNumber),
	}, token, nil
}

func (n *Native) Refund(outcome domain.Outcome, token uuid.UUID) Restitution {
	amount, ok := n.Pending[token]
	if !ok {
		return Restitution{}
	}
	delete(n.Pending, token)
	if outcome == domain.OutcomeFailed {
		return Restitution{Native: amount}
	}
	return Restitution{}
}

// Deposit accepts a top-up. The funds themselves land on the funder ledger.
func (n *Native) Deposit(d Delta) (int, error) {
	if d.Kind != KindNative {
		return 0, domain.ErrAssetKindMismatch
	}
	if !positive(d.Amount) {
		return 0, domain.ErrInvalidAmount
	}
	return 0, nil
}

func (n *Native) Drain(string) []domain.Action { return nil }

func (n *Native) Reserved() int { return len(n.Pending) }

func (n *Native) Clone() Asset {
	return &Native{AmountPerUse: n.AmountPerUse, Pending: cloneReservations(n.Pending)}
}
