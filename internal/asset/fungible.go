package asset

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/transfa/linkdrop-service/internal/domain"
)

// FTReservation is the pool slice held by an unresolved fungible-token claim.
type FTReservation struct {
	Amount           decimal.Decimal `json:"amount"`
	RegistrationCost decimal.Decimal `json:"registration_cost"`
}

// FungibleToken draws a fixed amount per use from a pool funded by token
// transfers. BalanceAvail is decremented when a claim is issued and only
// restored when that claim is confirmed failed.
type FungibleToken struct {
	ContractID       string                      `json:"contract_id"`
	BalanceAvail     decimal.Decimal             `json:"balance_avail"`
	RegistrationCost decimal.Decimal             `json:"registration_cost"`
	AmountPerUse     decimal.Decimal             `json:"amount_per_use"`
	Pending          map[uuid.UUID]FTReservation `json:"pending,omitempty"`
}

// NewFungibleToken returns an empty token pool for contractID. Each use
// transfers amountPerUse; registrationCost is paid on lazy registration.
func NewFungibleToken(contractID string, amountPerUse, registrationCost decimal.Decimal) (*FungibleToken, error) {
	contractID = strings.TrimSpace(contractID)
	if contractID == "" {
		return nil, fmt.Errorf("ft contract_id is required: %w", domain.ErrInvalidRequest)
	}
	if !positive(amountPerUse) {
		return nil, fmt.Errorf("ft amount_per_use: %w", domain.ErrInvalidAmount)
	}
	if registrationCost.IsNegative() {
		return nil, fmt.Errorf("ft registration_cost: %w", domain.ErrInvalidAmount)
	}
	return &FungibleToken{
		ContractID:       contractID,
		BalanceAvail:     decimal.Zero,
		RegistrationCost: registrationCost,
		AmountPerUse:     amountPerUse,
		Pending:          map[uuid.UUID]FTReservation{},
	}, nil
}

func (f *FungibleToken) Kind() Kind { return KindFungibleToken }

func (f *FungibleToken) ID() string { return f.ContractID }

func (f *FungibleToken) EnoughBalance(uint32) bool {
	return f.BalanceAvail.GreaterThanOrEqual(f.AmountPerUse)
}

func (f *FungibleToken) CostEstimate(uint32) Gas {
	return gasStorageDeposit + gasFTTransfer + gasResolveCallback
}

func (f *FungibleToken) NativeCostPerUse(_ uint32, lazyRegister bool) decimal.Decimal {
	if lazyRegister {
		return f.RegistrationCost
	}
	return decimal.Zero
}

func (f *FungibleToken) Claim(cc ClaimContext) (domain.Action, uuid.UUID, error) {
	if !f.EnoughBalance(cc.UseNumber) {
		return domain.Action{}, uuid.Nil, fmt.Errorf("ft pool %s: %w", f.ContractID, domain.ErrInsufficientBalance)
	}
	if f.Pending == nil {
		f.Pending = map[uuid.UUID]FTReservation{}
	}

	registration := f.NativeCostPerUse(cc.UseNumber, cc.LazyRegister)
	f.BalanceAvail = f.BalanceAvail.Sub(f.AmountPerUse)
	token := uuid.New()
	f.Pending[token] = FTReservation{Amount: f.AmountPerUse, RegistrationCost: registration}

	return domain.Action{
		Kind:             domain.ActionFTTransfer,
		Receiver:         cc.Receiver,
		ContractID:       f.ContractID,
		Amount:           f.AmountPerUse,
		Gas:              f.CostEstimate(cc.UseNumber),
		RegisterStorage:  cc.LazyRegister,
		RegistrationCost: registration,
	}, token, nil
}

func (f *FungibleToken) Refund(outcome domain.Outcome, token uuid.UUID) Restitution {
	res, ok := f.Pending[token]
	if !ok {
		return Restitution{}
	}
	delete(f.Pending, token)
	if outcome != domain.OutcomeFailed {
		return Restitution{}
	}
	f.BalanceAvail = f.BalanceAvail.Add(res.Amount)
	return Restitution{Native: res.RegistrationCost}
}

func (f *FungibleToken) Deposit(d Delta) (int, error) {
	if d.Kind != KindFungibleToken {
		return 0, domain.ErrAssetKindMismatch
	}
	if !positive(d.Amount) {
		return 0, domain.ErrInvalidAmount
	}
	f.BalanceAvail = f.BalanceAvail.Add(d.Amount)
	return 0, nil
}

func (f *FungibleToken) Drain(owner string) []domain.Action {
	if !positive(f.BalanceAvail) {
		return nil
	}
	amount := f.BalanceAvail
	f.BalanceAvail = decimal.Zero
	return []domain.Action{{
		Kind:       domain.ActionFTTransfer,
		Receiver:   owner,
		ContractID: f.ContractID,
		Amount:     amount,
		Gas:        gasFTTransfer + gasResolveCallback,
	}}
}

func (f *FungibleToken) Reserved() int { return len(f.Pending) }

func (f *FungibleToken) Clone() Asset {
	out := *f
	out.Pending = cloneReservations(f.Pending)
	return &out
}
