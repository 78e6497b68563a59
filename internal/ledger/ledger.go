// Package ledger holds the prepaid native-currency balance of every funder.
// Credit and Debit are the only mutators. The ledger is not safe for
// concurrent use; the service serializes access.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/transfa/linkdrop-service/internal/domain"
)

// Account is one funder's balance with its running totals.
type Account struct {
	Balance  decimal.Decimal `json:"balance"`
	Credited decimal.Decimal `json:"credited"`
	Debited  decimal.Decimal `json:"debited"`
}

// Ledger tracks the prepaid native balance of every funder along with the
// running credit and debit totals that must reconcile with it. It is not
// safe for concurrent use.
type Ledger struct {
	accounts map[string]*Account
}

// New returns a ledger with no accounts.
func New() *Ledger {
	return &Ledger{accounts: make(map[string]*Account)}
}

// Credit adds amount to account. Zero credits are accepted and ignored.
func (l *Ledger) Credit(account string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("credit %s: %w", account, domain.ErrInvalidAmount)
	}
	if amount.IsZero() {
		return nil
	}
	acc := l.account(account)
	acc.Balance = acc.Balance.Add(amount)
	acc.Credited = acc.Credited.Add(amount)
	return nil
}

// Debit removes amount from account or fails without touching it.
func (l *Ledger) Debit(account string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("debit %s: %w", account, domain.ErrInvalidAmount)
	}
	if amount.IsZero() {
		return nil
	}
	balance := l.BalanceOf(account)
	if amount.GreaterThan(balance) {
		return fmt.Errorf("debit %s of %s with balance %s: %w", account, amount, balance, domain.ErrInsufficientBalance)
	}
	acc := l.account(account)
	acc.Balance = acc.Balance.Sub(amount)
	acc.Debited = acc.Debited.Add(amount)
	return nil
}

// BalanceOf returns the balance of account, zero when it was never credited.
func (l *Ledger) BalanceOf(account string) decimal.Decimal {
	if acc, ok := l.accounts[account]; ok {
		return acc.Balance
	}
	return decimal.Zero
}

// Totals returns the lifetime credits and debits of account.
func (l *Ledger) Totals(account string) (credited, debited decimal.Decimal) {
	if acc, ok := l.accounts[account]; ok {
		return acc.Credited, acc.Debited
	}
	return decimal.Zero, decimal.Zero
}

// Snapshot copies every account.
func (l *Ledger) Snapshot() map[string]Account {
	out := make(map[string]Account, len(l.accounts))
	for id, acc := range l.accounts {
		out[id] = *acc
	}
	return out
}

// Restore replaces the ledger contents with a snapshot.
func (l *Ledger) Restore(snapshot map[string]Account) {
	l.accounts = make(map[string]*Account, len(snapshot))
	for id, acc := range snapshot {
		acc := acc
		l.accounts[id] = &acc
	}
}

func (l *Ledger) account(id string) *Account {
	acc, ok := l.accounts[id]
	if !ok {
		acc = &Account{Balance: decimal.Zero, Credited: decimal.Zero, Debited: decimal.Zero}
		l.accounts[id] = acc
	}
	return acc
}
