/**
 * @description
 * Persistence for the claim engine. The engine state is small and always
 * mutated under one lock, so it is stored as a versioned snapshot written
 * after every committed operation and read back on start.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/transfa/linkdrop-service/internal/domain"
	"github.com/transfa/linkdrop-service/internal/dropstore"
	"github.com/transfa/linkdrop-service/internal/ledger"
)

var ErrStateNotFound = errors.New("state not found")

// State is everything the engine needs to resume, including in-flight claims.
type State struct {
	Version     int64                       `json:"version"`
	Drops       []*dropstore.Drop           `json:"drops"`
	Credentials []*domain.Credential        `json:"credentials"`
	Ledger      map[string]ledger.Account   `json:"ledger"`
	Claims      []*domain.InFlightClaim     `json:"claims"`
	Withdrawals []*domain.PendingWithdrawal `json:"withdrawals"`
	PaymentRefs []string                    `json:"payment_refs,omitempty"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// Repository defines the interface for persisting engine snapshots.
type Repository interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}
