package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/transfa/linkdrop-service/internal/asset"
	"github.com/transfa/linkdrop-service/internal/domain"
)

func TestOutcomeConsumer_HandleMessage(t *testing.T) {
	h := newHarness(t)
	setupD1(t, h)
	consumer := NewOutcomeConsumer(h.svc, zap.NewNop())

	receipt, err := h.svc.Claim(context.Background(), domain.ClaimRequest{PublicKey: key(1), Receiver: receiver, Signature: "sig"})
	require.NoError(t, err)
	ft := settlementFor(t, receipt, ftID)

	assert.True(t, consumer.HandleMessage([]byte("{not json")), "malformed payloads are dropped")
	assert.True(t, consumer.HandleMessage([]byte(`{"settlement_token":"`+ft.Token.String()+`","outcome":"maybe"}`)),
		"invalid reports are dropped")
	requireAmount(t, 80, ftPool(t, h, "d1"))

	body, err := json.Marshal(domain.OutcomeReport{SettlementToken: ft.Token, Outcome: domain.OutcomeFailed})
	require.NoError(t, err)
	assert.True(t, consumer.HandleMessage(body))
	requireAmount(t, 100, ftPool(t, h, "d1"))

	// Redelivery is acknowledged and changes nothing.
	assert.True(t, consumer.HandleMessage(body))
	requireAmount(t, 100, ftPool(t, h, "d1"))
}

func TestDepositConsumer_HandleMessage(t *testing.T) {
	h := newHarness(t)
	setupD1(t, h)
	consumer := NewDepositConsumer(h.svc, zap.NewNop())

	body, err := json.Marshal(domain.DepositRequest{DropID: "d1", AssetID: ftID, Kind: domain.AssetKindFungible, Amount: dec(50), Depositor: "bob.near"})
	require.NoError(t, err)
	assert.True(t, consumer.HandleMessage(body))
	requireAmount(t, 150, ftPool(t, h, "d1"))

	body, err = json.Marshal(domain.DepositRequest{DropID: "missing", AssetID: ftID, Kind: domain.AssetKindFungible, Amount: dec(50), Depositor: "bob.near"})
	require.NoError(t, err)
	assert.True(t, consumer.HandleMessage(body), "deposits to unknown drops cannot succeed on retry")

	assert.True(t, consumer.HandleMessage([]byte("[]")))
}

func TestDepositConsumer_HandleFunderDepositCreditsOncePerPayment(t *testing.T) {
	h := newHarness(t)
	consumer := NewDepositConsumer(h.svc, zap.NewNop())
	ctx := context.Background()

	body, err := json.Marshal(domain.FunderDeposit{Account: funder, Amount: dec(40), PaymentRef: "tx-7"})
	require.NoError(t, err)
	assert.True(t, consumer.HandleFunderDeposit(body))
	requireAmount(t, 40, h.svc.BalanceOf(ctx, funder))

	assert.True(t, consumer.HandleFunderDeposit(body), "redelivered payments are acknowledged")
	requireAmount(t, 40, h.svc.BalanceOf(ctx, funder))

	unreferenced, err := json.Marshal(domain.FunderDeposit{Account: funder, Amount: dec(40)})
	require.NoError(t, err)
	assert.True(t, consumer.HandleFunderDeposit(unreferenced))
	requireAmount(t, 40, h.svc.BalanceOf(ctx, funder))

	assert.True(t, consumer.HandleFunderDeposit([]byte("{")))
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"not found", domain.ErrDropNotFound, true},
		{"invalid", domain.ErrAssetKindMismatch, true},
		{"duplicate", domain.ErrDuplicateTokenID, true},
		{"precondition", domain.ErrDropHasClaims, true},
		{"timeout", domain.ErrTimeout, false},
		{"external", domain.ErrExternalActionFailed, false},
		{"unknown", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, permanent(tt.err))
		})
	}
}

type countingSweeper struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingSweeper) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return 0, s.err
}

func TestScheduler_Sweep(t *testing.T) {
	sweeper := &countingSweeper{}
	scheduler := NewScheduler(sweeper, zap.NewNop(), "@every 1m")

	scheduler.Sweep()
	sweeper.err = errors.New("boom")
	scheduler.Sweep()
	assert.Equal(t, 2, sweeper.calls)
}

func TestScheduler_StartRejectsBadSchedule(t *testing.T) {
	scheduler := NewScheduler(&countingSweeper{}, nil, "not a schedule")
	assert.Error(t, scheduler.Start())
}

func TestScheduler_StartAndStop(t *testing.T) {
	scheduler := NewScheduler(&countingSweeper{}, zap.NewNop(), "@every 1h")
	require.NoError(t, scheduler.Start())

	select {
	case <-scheduler.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_SweepsService(t *testing.T) {
	h := newHarness(t)
	setupD1(t, h)
	_, err := h.svc.Claim(context.Background(), domain.ClaimRequest{PublicKey: key(1), Receiver: receiver, Signature: "sig"})
	require.NoError(t, err)

	// The scheduler sweeps with the wall clock, so push the claim deadline back.
	h.svc.mu.Lock()
	for _, c := range h.svc.claims {
		c.Deadline = time.Now().Add(-time.Second)
	}
	h.svc.mu.Unlock()

	NewScheduler(h.svc, zap.NewNop(), "@every 1m").Sweep()
	assert.Equal(t, 0, h.svc.InFlightClaims())
	d, err := h.svc.GetDrop(context.Background(), "d1")
	require.NoError(t, err)
	requireAmount(t, 100, d.Assets[ftID].(*asset.FungibleToken).BalanceAvail)
}
