package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a notification sent to the event log.
type EventType string

const (
	EventDropCreated     EventType = "drop.created"
	EventDropDeleted     EventType = "drop.deleted"
	EventKeysAdded       EventType = "keys.added"
	EventKeysDeleted     EventType = "keys.deleted"
	EventAssetDeposited  EventType = "asset.deposited"
	EventClaimFinalized  EventType = "claim.finalized"
	EventBalanceUpdated  EventType = "balance.updated"
	EventWithdrawSettled EventType = "withdrawal.settled"
)

// Event is the fire-and-forget payload published for indexers.
type Event struct {
	Type        EventType        `json:"type"`
	DropID      string           `json:"drop_id,omitempty"`
	Funder      string           `json:"funder,omitempty"`
	PublicKeys  []string         `json:"public_keys,omitempty"`
	ClaimID     *uuid.UUID       `json:"claim_id,omitempty"`
	Receiver    string           `json:"receiver,omitempty"`
	UseNumber   uint32           `json:"use_number,omitempty"`
	Settlements []Settlement     `json:"settlements,omitempty"`
	AssetID     string           `json:"asset_id,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Outcome     Outcome          `json:"outcome,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}
