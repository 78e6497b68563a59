package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/transfa/linkdrop-service/internal/app"
	"github.com/transfa/linkdrop-service/internal/domain"
	"github.com/transfa/linkdrop-service/internal/store"
)

const (
	testSecret      = "test-secret"
	testInternalKey = "internal-key"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []domain.ActionMessage
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, msg domain.ActionMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	return nil
}

func (d *recordingDispatcher) Messages() []domain.ActionMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.ActionMessage(nil), d.msgs...)
}

type allowAuthorizer struct{}

func (allowAuthorizer) Authorize(context.Context, string, []byte, string) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *recordingDispatcher) {
	t.Helper()
	dispatcher := &recordingDispatcher{}
	svc := app.NewService(store.NewMemoryRepository(), dispatcher, nil, nil, app.Settings{
		StoragePricePerByte: decimal.NewFromInt(1),
		DropStorageBytes:    10,
		KeyStorageBytes:     10,
		TokenIDStorageBytes: 1,
		MaxGasPerClaim:      300 * domain.Tgas,
		OutcomeTimeout:      time.Minute,
	}, zap.NewNop())
	svc.SetAuthorizer(allowAuthorizer{})

	router := NewRouter(NewHandlers(svc, zap.NewNop()), RouterConfig{
		JWTSecret:      testSecret,
		InternalAPIKey: testInternalKey,
		Metrics:        http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) }),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, dispatcher
}

func tokenFor(t *testing.T, subject string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.MapClaims{"sub": subject, "exp": exp.Unix()})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func testKey(seed byte) string {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	return "ed25519:" + base58.Encode(priv.Public().(ed25519.PublicKey))
}

type client struct {
	t      *testing.T
	base   string
	bearer string
	header map[string]string
}

func (c client) do(method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	c := client{t: t, base: srv.URL}

	resp, _ := c.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = c.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFunderAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		bearer string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not-a-token", http.StatusUnauthorized},
		{"expired", tokenFor(t, "alice.near", jwt.SigningMethodHS256, time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"wrong algorithm", tokenFor(t, "alice.near", jwt.SigningMethodHS512, time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"no subject", tokenFor(t, "", jwt.SigningMethodHS256, time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"valid", tokenFor(t, "alice.near", jwt.SigningMethodHS256, time.Now().Add(time.Hour)), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := client{t: t, base: srv.URL, bearer: tt.bearer}
			resp, _ := c.do(http.MethodGet, "/balance", nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestDropLifecycleOverHTTP(t *testing.T) {
	srv, dispatcher := newTestServer(t)
	alice := client{t: t, base: srv.URL, bearer: tokenFor(t, "alice.near", jwt.SigningMethodHS256, time.Now().Add(time.Hour))}
	public := client{t: t, base: srv.URL}
	internal := client{t: t, base: srv.URL, header: map[string]string{"X-Internal-API-Key": testInternalKey}}

	resp, body := internal.do(http.MethodPost, "/internal/balance/deposits", domain.FunderDeposit{Account: "alice.near", Amount: decimal.NewFromInt(100), PaymentRef: "tx-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "100", body["balance"])

	resp, _ = internal.do(http.MethodPost, "/internal/balance/deposits", domain.FunderDeposit{Account: "alice.near", Amount: decimal.NewFromInt(100), PaymentRef: "tx-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "a payment is credited once")

	create := domain.CreateDropRequest{
		DropID: "d1",
		Assets: []domain.AssetSpec{
			{Kind: domain.AssetKindNative, AmountPerUse: decimal.NewFromInt(5)},
			{Kind: domain.AssetKindFungible, ContractID: "token.near", AmountPerUse: decimal.NewFromInt(20)},
		},
		Config:     domain.DropConfigRequest{UsesPerKey: 1},
		PublicKeys: []string{testKey(1)},
	}
	resp, _ = alice.do(http.MethodPost, "/drops", create)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = alice.do(http.MethodPost, "/drops", create)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = public.do(http.MethodGet, "/drops/d1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice.near", body["funder_id"])

	resp, _ = public.do(http.MethodGet, "/drops/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = alice.do(http.MethodDelete, "/drops/d1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "a drop with a credential cannot be deleted")

	bob := client{t: t, base: srv.URL, bearer: tokenFor(t, "bob.near", jwt.SigningMethodHS256, time.Now().Add(time.Hour))}
	resp, _ = bob.do(http.MethodPost, "/drops/d1/credentials", domain.MintCredentialsRequest{PublicKeys: []string{testKey(2)}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = alice.do(http.MethodPost, "/drops/d1/credentials", domain.MintCredentialsRequest{PublicKeys: make([]string, 0)})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = internal.do(http.MethodPost, "/internal/deposits", domain.DepositRequest{
		DropID: "d1", AssetID: "token.near", Kind: domain.AssetKindFungible, Amount: decimal.NewFromInt(100), Depositor: "bob.near",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = public.do(http.MethodPost, "/claims", domain.ClaimRequest{PublicKey: testKey(1), Receiver: "carol.near", Signature: "sig"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	claimID, _ := body["claim_id"].(string)
	require.NotEmpty(t, claimID)
	settlements := dispatcher.Messages()
	require.Len(t, settlements, 2)

	resp, _ = public.do(http.MethodPost, "/claims", domain.ClaimRequest{PublicKey: testKey(1), Receiver: "carol.near", Signature: "sig"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = public.do(http.MethodPost, "/internal/outcomes", domain.OutcomeReport{SettlementToken: settlements[0].SettlementToken, Outcome: domain.OutcomeSucceeded})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	for _, msg := range settlements {
		resp, _ = internal.do(http.MethodPost, "/internal/outcomes", domain.OutcomeReport{SettlementToken: msg.SettlementToken, Outcome: domain.OutcomeSucceeded})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	resp, body = public.do(http.MethodGet, "/claims/"+claimID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(domain.ClaimStateFinalized), body["state"])

	resp, _ = public.do(http.MethodGet, "/credentials/"+testKey(1), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = public.do(http.MethodGet, "/claims/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = alice.do(http.MethodPost, "/balance/withdraw", domain.BalanceRequest{Amount: decimal.NewFromInt(1000)})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	resp, body = internal.do(http.MethodPost, "/internal/sweep", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["expired"])
}

func TestFunderCannotCreditOwnBalance(t *testing.T) {
	srv, dispatcher := newTestServer(t)
	mallory := client{t: t, base: srv.URL, bearer: tokenFor(t, "mallory.near", jwt.SigningMethodHS256, time.Now().Add(time.Hour))}

	resp, _ := mallory.do(http.MethodPost, "/balance/deposit", map[string]string{"amount": "1000000"})
	assert.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, resp.StatusCode)

	resp, _ = mallory.do(http.MethodPost, "/internal/balance/deposits", domain.FunderDeposit{Account: "mallory.near", Amount: decimal.NewFromInt(1000000), PaymentRef: "forged"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "a funder token does not open the internal api")

	resp, body := mallory.do(http.MethodGet, "/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", body["balance"])

	resp, _ = mallory.do(http.MethodPost, "/balance/withdraw", domain.BalanceRequest{Amount: decimal.NewFromInt(1000000)})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Empty(t, dispatcher.Messages())
}

func TestMintWithoutBalance(t *testing.T) {
	srv, _ := newTestServer(t)
	dave := client{t: t, base: srv.URL, bearer: tokenFor(t, "dave.near", jwt.SigningMethodHS256, time.Now().Add(time.Hour))}
	internal := client{t: t, base: srv.URL, header: map[string]string{"X-Internal-API-Key": testInternalKey}}

	resp, _ := internal.do(http.MethodPost, "/internal/balance/deposits", domain.FunderDeposit{Account: "dave.near", Amount: decimal.NewFromInt(10), PaymentRef: "tx-2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = dave.do(http.MethodPost, "/drops", domain.CreateDropRequest{
		DropID: "d2",
		Assets: []domain.AssetSpec{{Kind: domain.AssetKindFungible, ContractID: "token.near", AmountPerUse: decimal.NewFromInt(1)}},
		Config: domain.DropConfigRequest{UsesPerKey: 1},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = dave.do(http.MethodPost, "/drops/d2/credentials", domain.MintCredentialsRequest{PublicKeys: []string{testKey(3)}})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/claims", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrDropNotFound, http.StatusNotFound},
		{domain.ErrNotDropFunder, http.StatusForbidden},
		{domain.ErrBadSignature, http.StatusForbidden},
		{domain.ErrInsufficientBalance, http.StatusPaymentRequired},
		{domain.ErrDuplicateCredential, http.StatusConflict},
		{domain.ErrDropHasCredentials, http.StatusConflict},
		{domain.ErrCredentialExhausted, http.StatusGone},
		{domain.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("create account: %w", domain.ErrTimeout), http.StatusGatewayTimeout},
		{domain.ErrExternalActionFailed, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
