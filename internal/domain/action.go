package domain

import (
	"encoding/json"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gas is an execution budget attached to an external action.
type Gas uint64

// Tgas is one teragas.
const Tgas Gas = 1_000_000_000_000

// MaxAttachedGas caps what a single method may attach. It matches the
// validate tag on MethodSpec.AttachedGas.
const MaxAttachedGas Gas = 300 * Tgas

// Add returns g+o, saturating at the largest Gas value instead of wrapping.
func (g Gas) Add(o Gas) Gas {
	if g > math.MaxUint64-o {
		return math.MaxUint64
	}
	return g + o
}

// ActionKind names the external call an action performs.
type ActionKind string

const (
	ActionNativeTransfer ActionKind = "native_transfer"
	ActionFTTransfer     ActionKind = "ft_transfer"
	ActionNFTTransfer    ActionKind = "nft_transfer"
	ActionFunctionCall   ActionKind = "function_call"
)

// Action is a transport-neutral description of one external call produced by
// an asset claim, a drop drain or a funder withdrawal.
type Action struct {
	Kind             ActionKind      `json:"kind"`
	Receiver         string          `json:"receiver"`
	ContractID       string          `json:"contract_id,omitempty"`
	Method           string          `json:"method,omitempty"`
	Args             json.RawMessage `json:"args,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	TokenID          string          `json:"token_id,omitempty"`
	Gas              Gas             `json:"gas"`
	RegisterStorage  bool            `json:"register_storage,omitempty"`
	RegistrationCost decimal.Decimal `json:"registration_cost"`
}

// ActionMessage is what gets handed to a dispatcher. The settlement token is
// echoed back by the executor in the outcome report.
type ActionMessage struct {
	SettlementToken uuid.UUID `json:"settlement_token"`
	ClaimID         uuid.UUID `json:"claim_id,omitempty"`
	DropID          string    `json:"drop_id,omitempty"`
	Action          Action    `json:"action"`
}

// Outcome is the terminal result of a dispatched action.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Valid reports whether o is a terminal outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed
}

// OutcomeReport is the callback payload for one settlement.
type OutcomeReport struct {
	SettlementToken uuid.UUID `json:"settlement_token" validate:"required"`
	Outcome         Outcome   `json:"outcome" validate:"required,oneof=succeeded failed"`
	Reason          string    `json:"reason,omitempty"`
}
