/**
 * @description
 * This file contains the HTTP handlers for the linkdrop service. Handlers parse
 * incoming requests, call the claim engine and map its error classes onto HTTP
 * status codes.
 *
 * @dependencies
 * - internal/app, internal/domain: service logic, request types and error classes.
 * - go.uber.org/zap: structured request outcome logging.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/transfa/linkdrop-service/internal/app"
	"github.com/transfa/linkdrop-service/internal/domain"
)

const maxBodyBytes = 1 << 20

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service *app.Service
	logger  *zap.Logger
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{service: service, logger: logger.With(zap.String("component", "api"))}
}

type balanceResponse struct {
	Account string          `json:"account"`
	Balance decimal.Decimal `json:"balance"`
}

type mintResponse struct {
	DropID     string   `json:"drop_id"`
	PublicKeys []string `json:"public_keys"`
}

// CreateDropHandler handles create_drop for the authenticated funder.
func (h *Handlers) CreateDropHandler(w http.ResponseWriter, r *http.Request) {
	funder, ok := h.funder(w, r)
	if !ok {
		return
	}
	var req domain.CreateDropRequest
	if !h.decode(w, r, "create_drop", &req) {
		return
	}
	drop, err := h.service.CreateDrop(r.Context(), funder, req)
	if err != nil {
		h.fail(w, "create_drop", err, zap.String("funder", funder))
		return
	}
	h.writeJSON(w, http.StatusCreated, drop)
}

func (h *Handlers) GetDropHandler(w http.ResponseWriter, r *http.Request) {
	drop, err := h.service.GetDrop(r.Context(), chi.URLParam(r, "dropID"))
	if err != nil {
		h.fail(w, "get_drop", err)
		return
	}
	h.writeJSON(w, http.StatusOK, drop)
}

func (h *Handlers) ListDropsHandler(w http.ResponseWriter, r *http.Request) {
	funder, ok := h.funder(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.service.DropsForFunder(r.Context(), funder))
}

// DeleteDropHandler removes a drop with no remaining credentials.
func (h *Handlers) DeleteDropHandler(w http.ResponseWriter, r *http.Request) {
	funder, ok := h.funder(w, r)
	if !ok {
		return
	}
	dropID := chi.URLParam(r, "dropID")
	if err := h.service.DeleteDrop(r.Context(), dropID, funder); err != nil {
		h.fail(w, "delete_drop", err, zap.String("drop_id", dropID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) MintCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	funder, ok := h.funder(w, r)
	if !ok {
		return
	}
	dropID := chi.URLParam(r, "dropID")
	var req domain.MintCredentialsRequest
	if !h.decode(w, r, "mint_credentials", &req) {
		return
	}
	keys, err := h.service.MintCredentials(r.Context(), dropID, funder, req)
	if err != nil {
		h.fail(w, "mint_credentials", err, zap.String("drop_id", dropID))
		return
	}
	h.writeJSON(w, http.StatusCreated, mintResponse{DropID: dropID, PublicKeys: keys})
}

func (h *Handlers) GetCredentialHandler(w http.ResponseWriter, r *http.Request) {
	cred, err := h.service.GetCredential(r.Context(), chi.URLParam(r, "publicKey"))
	if err != nil {
		h.fail(w, "get_credential", err)
		return
	}
	h.writeJSON(w, http.StatusOK, cred)
}

func (h *Handlers) ListCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	funder, ok := h.funder(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.service.CredentialsForFunder(r.Context(), funder))
}

func (h *Handlers) DeleteCredentialHandler(w http.ResponseWriter, r *http.Request) {
	funder, ok := h.funder(w, r)
	if !ok {
		return
	}
	publicKey := chi.URLParam(r, "publicKey")
	if err := h.service.DeleteCredential(r.Context(), publicKey, funder); err != nil {
		h.fail(w, "delete_credential", err, zap.String("public_key", publicKey))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClaimHandler redeems one use of a credential. The response is 202 while
// settlements are still pending and 200 once the claim has finalized.
func (h *Handlers) ClaimHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ClaimRequest
	if !h.decode(w, r, "claim", &req) {
		return
	}
	receipt, err := h.service.Claim(r.Context(), req)
	if err != nil {
		h.fail(w, "claim", err, zap.String("receiver", req.Receiver))
		return
	}
	h.writeReceipt(w, receipt)
}

func (h *Handlers) ClaimAndCreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ClaimAndCreateRequest
	if !h.decode(w, r, "claim_and_create", &req) {
		return
	}
	receipt, err := h.service.ClaimAndCreateAccount(r.Context(), req)
	if err != nil {
		h.fail(w, "claim_and_create", err, zap.String("new_account_id", req.NewAccountID))
		return
	}
	h.writeReceipt(w, receipt)
}

func (h *Handlers) GetClaimHandler(w http.ResponseWriter, r *http.Request) {
	claimID, err := uuid.Parse(chi.URLParam(r, "claimID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid claim id")
		return
	}
	receipt, err := h.service.GetClaim(r.Context(), claimID)
	if err != nil {
		h.fail(w, "get_claim", err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

func (h *Handlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	funder, ok := h.funder(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, balanceResponse{Account: funder, Balance: h.service.BalanceOf(r.Context(), funder)})
}

// FunderDepositHandler credits a native payment confirmed by the payment
// watcher. It is mounted on the internal API only.
func (h *Handlers) FunderDepositHandler(w http.ResponseWriter, r *http.Request) {
	var dep domain.FunderDeposit
	if !h.decode(w, r, "add_funder_balance", &dep) {
		return
	}
	balance, err := h.service.AddFunderBalance(r.Context(), dep)
	if err != nil {
		h.fail(w, "add_funder_balance", err, zap.String("account", dep.Account), zap.String("payment_ref", dep.PaymentRef))
		return
	}
	h.writeJSON(w, http.StatusOK, balanceResponse{Account: dep.Account, Balance: balance})
}

// WithdrawBalanceHandler debits the funder and dispatches the payout. The
// payout result arrives later as an outcome.
func (h *Handlers) WithdrawBalanceHandler(w http.ResponseWriter, r *http.Request) {
	funder, ok := h.funder(w, r)
	if !ok {
		return
	}
	var req domain.BalanceRequest
	if !h.decode(w, r, "withdraw_funder_balance", &req) {
		return
	}
	pending, err := h.service.WithdrawFunderBalance(r.Context(), funder, req.Amount)
	if err != nil {
		h.fail(w, "withdraw_funder_balance", err, zap.String("funder", funder))
		return
	}
	h.writeJSON(w, http.StatusAccepted, pending)
}

func (h *Handlers) ResolveOutcomeHandler(w http.ResponseWriter, r *http.Request) {
	var report domain.OutcomeReport
	if !h.decode(w, r, "resolve_outcome", &report) {
		return
	}
	if err := h.service.ResolveOutcome(r.Context(), report); err != nil {
		h.fail(w, "resolve_outcome", err, zap.String("token", report.SettlementToken.String()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) DepositAssetHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.DepositRequest
	if !h.decode(w, r, "deposit_asset", &req) {
		return
	}
	if err := h.service.DepositAsset(r.Context(), req); err != nil {
		h.fail(w, "deposit_asset", err, zap.String("drop_id", req.DropID), zap.String("asset_id", req.AssetID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SweepHandler runs one expiry pass on demand.
func (h *Handlers) SweepHandler(w http.ResponseWriter, r *http.Request) {
	expired, err := h.service.ExpireStale(r.Context(), time.Now().UTC())
	if err != nil {
		h.fail(w, "expire_stale", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"expired": expired})
}

func (h *Handlers) funder(w http.ResponseWriter, r *http.Request) (string, bool) {
	funder, ok := GetFunderID(r.Context())
	if !ok || funder == "" {
		h.writeError(w, http.StatusUnauthorized, "Could not get funder from context")
		return "", false
	}
	return funder, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, endpoint string, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		h.logger.Warn("request rejected", zap.String("endpoint", endpoint), zap.String("reason", "invalid_json"), zap.Error(err))
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handlers) writeReceipt(w http.ResponseWriter, receipt *domain.ClaimReceipt) {
	status := http.StatusAccepted
	if receipt.State == domain.ClaimStateFinalized {
		status = http.StatusOK
	}
	h.writeJSON(w, status, receipt)
}

// fail logs err and writes the response for its error class.
func (h *Handlers) fail(w http.ResponseWriter, endpoint string, err error, fields ...zap.Field) {
	status := statusFor(err)
	fields = append(fields, zap.String("endpoint", endpoint), zap.Int("status", status), zap.Error(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Info("request rejected", fields...)
	}
	h.writeError(w, status, err.Error())
}

// statusFor maps an error class onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrDuplicateEntity), errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCredentialExhausted):
		return http.StatusGone
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrExternalActionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
