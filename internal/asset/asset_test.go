package asset

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfa/linkdrop-service/internal/domain"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestFungibleToken_ClaimReservesAndFailedRefundRestores(t *testing.T) {
	ft, err := NewFungibleToken("usdc.near", d(20), d(0))
	require.NoError(t, err)
	_, err = ft.Deposit(Delta{Kind: KindFungibleToken, Amount: d(100)})
	require.NoError(t, err)

	action, token, err := ft.Claim(ClaimContext{Receiver: "bob.near", UseNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionFTTransfer, action.Kind)
	assert.True(t, action.Amount.Equal(d(20)))
	assert.True(t, ft.BalanceAvail.Equal(d(80)), "pool must be decremented before dispatch")

	ft.Refund(domain.OutcomeFailed, token)
	assert.True(t, ft.BalanceAvail.Equal(d(100)))
	assert.Zero(t, ft.Reserved())
}

func TestFungibleToken_RefundIsIdempotentPerToken(t *testing.T) {
	ft, err := NewFungibleToken("usdc.near", d(20), d(0))
	require.NoError(t, err)
	_, _ = ft.Deposit(Delta{Kind: KindFungibleToken, Amount: d(40)})

	_, token, err := ft.Claim(ClaimContext{Receiver: "bob.near", UseNumber: 1})
	require.NoError(t, err)

	ft.Refund(domain.OutcomeFailed, token)
	ft.Refund(domain.OutcomeFailed, token)
	assert.True(t, ft.BalanceAvail.Equal(d(40)), "second refund must be a no-op, got %s", ft.BalanceAvail)

	// A success after a failure for the same token changes nothing either.
	ft.Refund(domain.OutcomeSucceeded, token)
	assert.True(t, ft.BalanceAvail.Equal(d(40)))
}

func TestFungibleToken_SucceededRefundCommits(t *testing.T) {
	ft, _ := NewFungibleToken("usdc.near", d(20), d(0))
	_, _ = ft.Deposit(Delta{Kind: KindFungibleToken, Amount: d(20)})

	_, token, err := ft.Claim(ClaimContext{Receiver: "bob.near", UseNumber: 1})
	require.NoError(t, err)
	ft.Refund(domain.OutcomeSucceeded, token)
	ft.Refund(domain.OutcomeFailed, token)

	assert.True(t, ft.BalanceAvail.IsZero())
	assert.False(t, ft.EnoughBalance(2))
}

func TestFungibleToken_ClaimRefusesWhenPoolShort(t *testing.T) {
	ft, _ := NewFungibleToken("usdc.near", d(20), d(0))
	_, _ = ft.Deposit(Delta{Kind: KindFungibleToken, Amount: d(19)})

	assert.False(t, ft.EnoughBalance(1))
	_, _, err := ft.Claim(ClaimContext{Receiver: "bob.near", UseNumber: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientBalance))
	assert.True(t, ft.BalanceAvail.Equal(d(19)), "pool must never go negative")
}

func TestFungibleToken_LazyRegisterCarriesRegistrationCost(t *testing.T) {
	ft, _ := NewFungibleToken("usdc.near", d(5), d(3))
	_, _ = ft.Deposit(Delta{Kind: KindFungibleToken, Amount: d(5)})

	assert.True(t, ft.NativeCostPerUse(1, true).Equal(d(3)))
	assert.True(t, ft.NativeCostPerUse(1, false).IsZero())

	action, token, err := ft.Claim(ClaimContext{Receiver: "bob.near", UseNumber: 1, LazyRegister: true})
	require.NoError(t, err)
	assert.True(t, action.RegisterStorage)
	assert.True(t, action.RegistrationCost.Equal(d(3)))

	res := ft.Refund(domain.OutcomeFailed, token)
	assert.True(t, res.Native.Equal(d(3)))
}

func TestNonFungibleToken_ClaimPopsMostRecentFirst(t *testing.T) {
	nft, err := NewNonFungibleToken("art.near")
	require.NoError(t, err)
	added, err := nft.Deposit(Delta{Kind: KindNonFungibleToken, TokenIDs: []string{"1", "2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	_, err = nft.Deposit(Delta{Kind: KindNonFungibleToken, TokenIDs: []string{"3"}})
	require.NoError(t, err)

	action, token, err := nft.Claim(ClaimContext{Receiver: "bob.near", UseNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, "3", action.TokenID)
	assert.Equal(t, []string{"1", "2"}, nft.TokenIDs)

	nft.Refund(domain.OutcomeFailed, token)
	nft.Refund(domain.OutcomeFailed, token)
	assert.Equal(t, []string{"1", "2", "3"}, nft.TokenIDs)
}

func TestNonFungibleToken_SucceededRefundFreesStorage(t *testing.T) {
	nft, _ := NewNonFungibleToken("art.near")
	_, _ = nft.Deposit(Delta{Kind: KindNonFungibleToken, TokenIDs: []string{"1"}})

	_, token, err := nft.Claim(ClaimContext{Receiver: "bob.near", UseNumber: 1})
	require.NoError(t, err)
	res := nft.Refund(domain.OutcomeSucceeded, token)
	assert.Equal(t, 1, res.FreedTokenIDs)
	assert.Empty(t, nft.TokenIDs)
	assert.False(t, nft.EnoughBalance(2))
}

func TestNonFungibleToken_DepositRejectsHeldOrReservedIDs(t *testing.T) {
	nft, _ := NewNonFungibleToken("art.near")
	_, _ = nft.Deposit(Delta{Kind: KindNonFungibleToken, TokenIDs: []string{"1", "2"}})
	_, _, err := nft.Claim(ClaimContext{Receiver: "bob.near", UseNumber: 1})
	require.NoError(t, err)

	_, err = nft.Deposit(Delta{Kind: KindNonFungibleToken, TokenIDs: []string{"9", "2"}})
	assert.True(t, errors.Is(err, domain.ErrDuplicateEntity), "reserved id must not be re-deposited")
	_, err = nft.Deposit(Delta{Kind: KindNonFungibleToken, TokenIDs: []string{"1"}})
	assert.True(t, errors.Is(err, domain.ErrDuplicateEntity))
	assert.Equal(t, []string{"1"}, nft.TokenIDs, "rejected batch must not be partially applied")
}

func TestNonFungibleToken_DrainReturnsEverythingToOwner(t *testing.T) {
	nft, _ := NewNonFungibleToken("art.near")
	_, _ = nft.Deposit(Delta{Kind: KindNonFungibleToken, TokenIDs: []string{"1", "2"}})

	actions := nft.Drain("alice.near")
	require.Len(t, actions, 2)
	assert.Equal(t, "alice.near", actions[0].Receiver)
	assert.Equal(t, "2", actions[0].TokenID)
	assert.Empty(t, nft.TokenIDs)
}

func TestFunctionCall_SelectsMethodByUseNumber(t *testing.T) {
	fc, err := NewFunctionCall("", []*domain.MethodSpec{
		{ReceiverID: "game.near", MethodName: "start"},
		nil,
		{ReceiverID: "game.near", MethodName: "finish", AttachedAmount: d(7)},
	})
	require.NoError(t, err)
	assert.Equal(t, FunctionCallID, fc.ID())
	assert.Equal(t, 3, fc.UseCount())

	assert.True(t, fc.EnoughBalance(1))
	assert.False(t, fc.EnoughBalance(2), "nil entry means no call on that use")
	assert.True(t, fc.EnoughBalance(3))
	assert.False(t, fc.EnoughBalance(4))
	assert.True(t, fc.NativeCostPerUse(3, false).Equal(d(7)))
	assert.True(t, fc.NativeCostPerUse(2, false).IsZero())
}

func TestFunctionCall_SingleMethodAppliesToEveryUse(t *testing.T) {
	fc, err := NewFunctionCall("mint", []*domain.MethodSpec{{ReceiverID: "nft.near", MethodName: "nft_mint"}})
	require.NoError(t, err)
	assert.Equal(t, 0, fc.UseCount())
	for use := uint32(1); use <= 5; use++ {
		assert.NotNil(t, fc.MethodFor(use))
	}
}

func TestFunctionCall_ClaimFillsArgsTemplate(t *testing.T) {
	fc, err := NewFunctionCall("", []*domain.MethodSpec{{
		ReceiverID:     "nft.near",
		MethodName:     "nft_mint",
		Args:           `{"metadata":{"title":"gm"}}`,
		AttachedAmount: d(2),
		AccountIDField: "receiver_id",
		DropIDField:    "drop",
		KeyIDField:     "key",
	}})
	require.NoError(t, err)

	action, token, err := fc.Claim(ClaimContext{DropID: "d1", KeyID: 4, Receiver: "bob.near", UseNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, "nft.near", action.ContractID)
	assert.Equal(t, "nft_mint", action.Method)

	var args map[string]any
	require.NoError(t, json.Unmarshal(action.Args, &args))
	assert.Equal(t, "bob.near", args["receiver_id"])
	assert.Equal(t, "d1", args["drop"])
	assert.Equal(t, "4", args["key"])
	assert.Contains(t, args, "metadata")

	res := fc.Refund(domain.OutcomeFailed, token)
	assert.True(t, res.Native.Equal(d(2)))
	assert.True(t, fc.Refund(domain.OutcomeFailed, token).Native.IsZero())
}

func TestFunctionCall_RejectsNonObjectArgs(t *testing.T) {
	_, err := NewFunctionCall("", []*domain.MethodSpec{{ReceiverID: "a.near", MethodName: "m", Args: `[1,2]`}})
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
}

func TestFunctionCall_RejectsAttachedGasAboveCap(t *testing.T) {
	_, err := NewFunctionCall("", []*domain.MethodSpec{{ReceiverID: "a.near", MethodName: "m", AttachedGas: domain.MaxAttachedGas + 1}})
	assert.True(t, errors.Is(err, domain.ErrGasBudgetExceeded))

	fc, err := NewFunctionCall("", []*domain.MethodSpec{{ReceiverID: "a.near", MethodName: "m", AttachedGas: domain.MaxAttachedGas}})
	require.NoError(t, err)
	assert.Equal(t, domain.MaxAttachedGas+gasResolveCallback, fc.CostEstimate(1))
}

func TestFunctionCall_CostEstimateSaturates(t *testing.T) {
	fc := &FunctionCall{Methods: []*domain.MethodSpec{{ReceiverID: "a.near", MethodName: "m", AttachedGas: domain.Gas(math.MaxUint64)}}}
	assert.Equal(t, domain.Gas(math.MaxUint64), fc.CostEstimate(1))
}

func TestGas_AddSaturates(t *testing.T) {
	assert.Equal(t, 7*domain.Tgas, (2 * domain.Tgas).Add(5*domain.Tgas))
	assert.Equal(t, domain.Gas(math.MaxUint64), domain.Gas(math.MaxUint64-1).Add(5))
	assert.Equal(t, domain.Gas(math.MaxUint64), domain.Gas(math.MaxUint64).Add(domain.Gas(math.MaxUint64)))
}

func TestNative_FailedRefundReturnsAmountOnce(t *testing.T) {
	n, err := NewNative(d(5))
	require.NoError(t, err)
	action, token, err := n.Claim(ClaimContext{Receiver: "bob.near", UseNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNativeTransfer, action.Kind)

	assert.True(t, n.Refund(domain.OutcomeFailed, token).Native.Equal(d(5)))
	assert.True(t, n.Refund(domain.OutcomeFailed, token).Native.IsZero())
	assert.True(t, n.Refund(domain.OutcomeFailed, uuid.New()).Native.IsZero())
}

func TestEnvelope_PreservesReservations(t *testing.T) {
	ft, _ := NewFungibleToken("usdc.near", d(20), d(0))
	_, _ = ft.Deposit(Delta{Kind: KindFungibleToken, Amount: d(100)})
	_, token, err := ft.Claim(ClaimContext{Receiver: "bob.near", UseNumber: 1})
	require.NoError(t, err)

	raw, err := Marshal(map[string]Asset{ft.ID(): ft})
	require.NoError(t, err)
	decoded, err := Unmarshal(raw)
	require.NoError(t, err)

	restored, ok := decoded["usdc.near"].(*FungibleToken)
	require.True(t, ok)
	assert.True(t, restored.BalanceAvail.Equal(d(80)))
	restored.Refund(domain.OutcomeFailed, token)
	assert.True(t, restored.BalanceAvail.Equal(d(100)), "reservation must survive a persistence round trip")
}

func TestFromSpec_RejectsUnknownKind(t *testing.T) {
	_, err := FromSpec(domain.AssetSpec{Kind: "bond"})
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
}
