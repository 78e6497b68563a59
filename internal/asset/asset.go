// Package asset models the claimable asset variants of a drop behind one
// capability interface. Variant state lives inside each variant; reservations
// taken by Claim are tracked per settlement token until Refund resolves them.
//
// Assets are not safe for concurrent use. The service serializes every call.
package asset

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/transfa/linkdrop-service/internal/domain"
)

// Kind identifies an asset variant.
type Kind string

const (
	KindNative           Kind = domain.AssetKindNative
	KindFungibleToken    Kind = domain.AssetKindFungible
	KindNonFungibleToken Kind = domain.AssetKindNonFungible
	KindFunctionCall     Kind = domain.AssetKindFunction
)

// Default asset ids for variants without a contract.
const (
	NativeID       = "native"
	FunctionCallID = "fc"
)

const (
	gasResolveCallback Gas = 5 * domain.Tgas
	gasNativeTransfer  Gas = 2 * domain.Tgas
	gasStorageDeposit  Gas = 10 * domain.Tgas
	gasFTTransfer      Gas = 10 * domain.Tgas
	gasNFTTransfer     Gas = 15 * domain.Tgas
	gasDefaultCall     Gas = 20 * domain.Tgas
)

// Gas is re-exported for brevity inside the package.
type Gas = domain.Gas

// ClaimContext carries what a variant needs to build its external action.
type ClaimContext struct {
	DropID       string
	KeyID        uint64
	UseNumber    uint32
	Receiver     string
	LazyRegister bool
}

// Restitution is what a resolved reservation hands back to the funder.
type Restitution struct {
	// Native is prepaid native currency to credit back to the funder ledger.
	Native decimal.Decimal
	// FreedTokenIDs counts token ids whose storage left the drop.
	FreedTokenIDs int
}

// Delta is an incoming deposit for an existing asset.
type Delta struct {
	Kind     Kind
	Amount   decimal.Decimal
	TokenIDs []string
}

// Asset is the capability set shared by every variant.
type Asset interface {
	Kind() Kind
	ID() string
	// EnoughBalance reports whether the asset can contribute on the given use.
	EnoughBalance(use uint32) bool
	// CostEstimate is the execution budget of the action produced on use.
	CostEstimate(use uint32) Gas
	// NativeCostPerUse is the native currency the funder prepays per key for use.
	NativeCostPerUse(use uint32, lazyRegister bool) decimal.Decimal
	// Claim reserves one unit and returns the action that transfers it.
	Claim(cc ClaimContext) (domain.Action, uuid.UUID, error)
	// Refund resolves the reservation held under token. Unknown tokens are a no-op.
	Refund(outcome domain.Outcome, token uuid.UUID) Restitution
	// Deposit merges incoming units. It returns the number of new storage
	// entries so the caller can bill them.
	Deposit(d Delta) (int, error)
	// Drain empties residual units and returns the actions that send them back to owner.
	Drain(owner string) []domain.Action
	// Reserved reports the number of unresolved reservations.
	Reserved() int
	Clone() Asset
}

// FromSpec builds an asset from its declaration.
func FromSpec(spec domain.AssetSpec) (Asset, error) {
	switch Kind(spec.Kind) {
	case KindNative:
		return NewNative(spec.AmountPerUse)
	case KindFungibleToken:
		return NewFungibleToken(spec.ContractID, spec.AmountPerUse, spec.RegistrationCost)
	case KindNonFungibleToken:
		return NewNonFungibleToken(spec.ContractID)
	case KindFunctionCall:
		return NewFunctionCall(spec.ID, spec.Methods)
	default:
		return nil, fmt.Errorf("unknown asset kind %q: %w", spec.Kind, domain.ErrInvalidRequest)
	}
}

// Envelope is the tagged wire form of an Asset.
type Envelope struct {
	Kind             Kind              `json:"kind"`
	Native           *Native           `json:"native,omitempty"`
	FungibleToken    *FungibleToken    `json:"ft,omitempty"`
	NonFungibleToken *NonFungibleToken `json:"nft,omitempty"`
	FunctionCall     *FunctionCall     `json:"fc,omitempty"`
}

// Wrap puts an asset into its envelope.
func Wrap(a Asset) Envelope {
	switch v := a.(type) {
	case *Native:
		return Envelope{Kind: KindNative, Native: v}
	case *FungibleToken:
		return Envelope{Kind: KindFungibleToken, FungibleToken: v}
	case *NonFungibleToken:
		return Envelope{Kind: KindNonFungibleToken, NonFungibleToken: v}
	case *FunctionCall:
		return Envelope{Kind: KindFunctionCall, FunctionCall: v}
	}
	return Envelope{}
}

// Unwrap returns the asset held by the envelope.
func (e Envelope) Unwrap() (Asset, error) {
	var a Asset
	switch e.Kind {
	case KindNative:
		if e.Native != nil {
			a = e.Native
		}
	case KindFungibleToken:
		if e.FungibleToken != nil {
			a = e.FungibleToken
		}
	case KindNonFungibleToken:
		if e.NonFungibleToken != nil {
			a = e.NonFungibleToken
		}
	case KindFunctionCall:
		if e.FunctionCall != nil {
			a = e.FunctionCall
		}
	}
	if a == nil {
		return nil, fmt.Errorf("asset envelope kind %q has no payload", e.Kind)
	}
	return a, nil
}

// Marshal encodes an asset map keyed by asset id.
func Marshal(assets map[string]Asset) ([]byte, error) {
	out := make(map[string]Envelope, len(assets))
	for id, a := range assets {
		out[id] = Wrap(a)
	}
	return json.Marshal(out)
}

// Unmarshal decodes an asset map produced by Marshal.
func Unmarshal(data []byte) (map[string]Asset, error) {
	var raw map[string]Envelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]Asset, len(raw))
	for id, env := range raw {
		a, err := env.Unwrap()
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", id, err)
		}
		out[id] = a
	}
	return out, nil
}

func positive(d decimal.Decimal) bool {
	return d.GreaterThan(decimal.Zero)
}

func cloneReservations[V any](in map[uuid.UUID]V) map[uuid.UUID]V {
	out := make(map[uuid.UUID]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
