package domain

import "github.com/shopspring/decimal"

// Asset kinds accepted in drop requests.
const (
	AssetKindNative      = "native"
	AssetKindFungible    = "ft"
	AssetKindNonFungible = "nft"
	AssetKindFunction    = "fc"
)

// MethodSpec describes one parameterized external call made on a claim.
// Args is a JSON object template; the optional *Field names are keys that get
// filled with the receiver account, the drop id and the key id at claim time.
type MethodSpec struct {
	ReceiverID     string          `json:"receiver_id" validate:"required,min=2,max=64"`
	MethodName     string          `json:"method_name" validate:"required,max=256"`
	Args           string          `json:"args,omitempty"`
	AttachedAmount decimal.Decimal `json:"attached_amount"`
	AttachedGas    Gas             `json:"attached_gas,omitempty" validate:"max=300000000000000"`
	AccountIDField string          `json:"account_id_field,omitempty"`
	DropIDField    string          `json:"drop_id_field,omitempty"`
	KeyIDField     string          `json:"key_id_field,omitempty"`
}

// AssetSpec declares one asset of a new drop.
type AssetSpec struct {
	Kind             string          `json:"kind" validate:"required,oneof=native ft nft fc"`
	ID               string          `json:"id,omitempty" validate:"omitempty,max=64"`
	ContractID       string          `json:"contract_id,omitempty" validate:"required_if=Kind ft,required_if=Kind nft,max=64"`
	AmountPerUse     decimal.Decimal `json:"amount_per_use"`
	RegistrationCost decimal.Decimal `json:"registration_cost"`
	Methods          []*MethodSpec   `json:"methods,omitempty" validate:"required_if=Kind fc,dive"`
}

// DropConfigRequest carries the funder-chosen claim configuration.
type DropConfigRequest struct {
	UsesPerKey    uint32 `json:"uses_per_key" validate:"required,min=1,max=1000"`
	LazyRegister  bool   `json:"lazy_register"`
	KeepEmptyDrop bool   `json:"keep_empty_drop"`
}

// CreateDropRequest is the payload for create_drop.
type CreateDropRequest struct {
	DropID     string            `json:"drop_id,omitempty" validate:"omitempty,max=64"`
	Assets     []AssetSpec       `json:"assets" validate:"required,min=1,max=16,dive"`
	Config     DropConfigRequest `json:"config"`
	PublicKeys []string          `json:"public_keys,omitempty" validate:"omitempty,max=100,dive,required"`
}

// DepositRequest merges incoming units into a declared asset.
type DepositRequest struct {
	DropID    string          `json:"drop_id" validate:"required"`
	AssetID   string          `json:"asset_id" validate:"required"`
	Kind      string          `json:"kind" validate:"required,oneof=native ft nft"`
	Amount    decimal.Decimal `json:"amount"`
	TokenIDs  []string        `json:"token_ids,omitempty" validate:"omitempty,max=100,dive,required,max=256"`
	Depositor string          `json:"depositor" validate:"required"`
}

// MintCredentialsRequest registers new keys against a drop.
type MintCredentialsRequest struct {
	PublicKeys []string `json:"public_keys" validate:"required,min=1,max=100,dive,required"`
}

// ClaimRequest redeems one use of a credential to an existing account.
type ClaimRequest struct {
	PublicKey string `json:"public_key" validate:"required"`
	Receiver  string `json:"receiver" validate:"required,min=2,max=64"`
	Signature string `json:"signature" validate:"required"`
}

// ClaimAndCreateRequest redeems one use to a freshly created account.
type ClaimAndCreateRequest struct {
	PublicKey    string `json:"public_key" validate:"required"`
	NewAccountID string `json:"new_account_id" validate:"required,min=2,max=64"`
	NewPublicKey string `json:"new_public_key" validate:"required"`
	Signature    string `json:"signature" validate:"required"`
}

// FunderDeposit is a native payment the payment watcher has confirmed for a
// funder. PaymentRef identifies the payment and is credited at most once.
type FunderDeposit struct {
	Account    string          `json:"account" validate:"required,min=2,max=64"`
	Amount     decimal.Decimal `json:"amount"`
	PaymentRef string          `json:"payment_ref" validate:"required,max=128"`
}

// BalanceRequest withdraws from a funder balance.
type BalanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
}
