package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClaimState is the position of a claim attempt in the settlement pipeline.
type ClaimState string

const (
	ClaimStateAuthorized      ClaimState = "authorized"
	ClaimStateAwaitingAccount ClaimState = "awaiting_account"
	ClaimStateResolving       ClaimState = "assets_resolving"
	ClaimStateSettling        ClaimState = "settling"
	ClaimStateReconciling     ClaimState = "reconciling"
	ClaimStateFinalized       ClaimState = "finalized"
)

// SettlementStatus tracks one dispatched action.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementSucceeded SettlementStatus = "succeeded"
	SettlementFailed    SettlementStatus = "failed"
)

// Failure reasons recorded on settlements.
const (
	ReasonExternalFailure = "external_action_failed"
	ReasonTimeout         = "timeout"
	ReasonDispatchError   = "dispatch_error"
	ReasonAccountCreation = "account_creation_failed"
)

// Settlement is one asset transfer belonging to a claim.
type Settlement struct {
	Token   uuid.UUID        `json:"token"`
	AssetID string           `json:"asset_id"`
	Action  Action           `json:"action"`
	Status  SettlementStatus `json:"status"`
	Reason  string           `json:"reason,omitempty"`
}

// InFlightClaim is the persisted state of a claim attempt between admission
// and finalization. Callbacks rehydrate it by claim id or settlement token.
type InFlightClaim struct {
	ClaimID      uuid.UUID    `json:"claim_id"`
	PublicKey    string       `json:"public_key"`
	DropID       string       `json:"drop_id"`
	UseNumber    uint32       `json:"use_number"`
	Receiver     string       `json:"receiver"`
	NewAccountID string       `json:"new_account_id,omitempty"`
	NewPublicKey string       `json:"new_public_key,omitempty"`
	State        ClaimState   `json:"state"`
	Settlements  []Settlement `json:"settlements"`
	// Skipped lists asset ids that were not eligible on this use.
	Skipped   []string  `json:"skipped,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
}

// Pending reports how many settlements still await an outcome.
func (c *InFlightClaim) Pending() int {
	n := 0
	for _, s := range c.Settlements {
		if s.Status == SettlementPending {
			n++
		}
	}
	return n
}

// Settlement returns the settlement registered under token.
func (c *InFlightClaim) Settlement(token uuid.UUID) (*Settlement, bool) {
	for i := range c.Settlements {
		if c.Settlements[i].Token == token {
			return &c.Settlements[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy.
func (c *InFlightClaim) Clone() *InFlightClaim {
	out := *c
	out.Settlements = append([]Settlement(nil), c.Settlements...)
	out.Skipped = append([]string(nil), c.Skipped...)
	return &out
}

// PendingWithdrawal is a funder payout awaiting its outcome.
type PendingWithdrawal struct {
	Token    uuid.UUID       `json:"token"`
	Account  string          `json:"account"`
	Amount   decimal.Decimal `json:"amount"`
	Deadline time.Time       `json:"deadline"`
}

// ClaimReceipt is returned to the caller of claim once the attempt is admitted.
type ClaimReceipt struct {
	ClaimID     uuid.UUID    `json:"claim_id"`
	DropID      string       `json:"drop_id"`
	UseNumber   uint32       `json:"use_number"`
	State       ClaimState   `json:"state"`
	Settlements []Settlement `json:"settlements"`
}
