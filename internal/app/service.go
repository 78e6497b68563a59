/**
 * @description
 * This file contains the core of the linkdrop service. The `Service` struct owns the
 * drop store, the credential registry and the funder ledger, and coordinates claims
 * whose asset transfers settle asynchronously through external executors.
 *
 * Key features:
 * - Every state mutation runs under one lock, so each operation or outcome callback is
 *   a single atomic step. Dispatching, account creation and event publishing happen
 *   outside the lock.
 * - In-flight claims are explicit records keyed by claim id and settlement token, and
 *   are persisted with the rest of the engine state after every committed step.
 * - Events are published to RabbitMQ fire-and-forget.
 *
 * @dependencies
 * - github.com/go-playground/validator/v10: request validation.
 * - github.com/shopspring/decimal: native currency amounts.
 * - go.uber.org/zap: structured logging.
 * - internal/store, pkg/rabbitmq: persistence and event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/transfa/linkdrop-service/internal/config"
	"github.com/transfa/linkdrop-service/internal/credentials"
	"github.com/transfa/linkdrop-service/internal/domain"
	"github.com/transfa/linkdrop-service/internal/dropstore"
	"github.com/transfa/linkdrop-service/internal/ledger"
	"github.com/transfa/linkdrop-service/internal/metrics"
	"github.com/transfa/linkdrop-service/internal/store"
	"github.com/transfa/linkdrop-service/pkg/rabbitmq"
)

const (
	defaultDispatchConcurrency = 8
	defaultClaimRetention      = time.Hour
	publishTimeout             = 5 * time.Second
	persistTimeout             = 15 * time.Second
)

// Dispatcher hands an external action to whatever executes it. The outcome is
// reported back later through ResolveOutcome with the same settlement token.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.ActionMessage) error
}

// AccountFactory creates receiver accounts for claim-and-create.
type AccountFactory interface {
	CreateAccount(ctx context.Context, newAccountID, publicKey string) error
}

// Authorizer proves that the caller holds the private half of a credential.
type Authorizer interface {
	Authorize(ctx context.Context, publicKey string, payload []byte, signature string) error
}

// ClaimRateLimiter counts signed claim attempts per credential.
type ClaimRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Settings is the cost model and timing policy of the engine.
type Settings struct {
	StoragePricePerByte  decimal.Decimal
	AccessKeyAllowance   decimal.Decimal
	DropStorageBytes     int64
	KeyStorageBytes      int64
	AssetStorageBytes    int64
	TokenIDStorageBytes  int64
	MaxGasPerClaim       domain.Gas
	OutcomeTimeout       time.Duration
	AccountCreateTimeout time.Duration
	ClaimRateLimit       int
	ClaimRateWindow      time.Duration
	ClaimRetention       time.Duration
	DispatchConcurrency  int
	EventsExchange       string
}

// SettingsFromConfig maps loaded configuration onto engine settings.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		StoragePricePerByte:  cfg.StoragePricePerByte,
		AccessKeyAllowance:   cfg.AccessKeyAllowance,
		DropStorageBytes:     cfg.DropStorageBytes,
		KeyStorageBytes:      cfg.KeyStorageBytes,
		AssetStorageBytes:    cfg.AssetStorageBytes,
		TokenIDStorageBytes:  cfg.TokenIDStorageBytes,
		MaxGasPerClaim:       domain.Gas(cfg.MaxGasPerClaim),
		OutcomeTimeout:       cfg.OutcomeTimeout,
		AccountCreateTimeout: cfg.AccountCreateTimeout,
		ClaimRateLimit:       cfg.ClaimRateLimit,
		ClaimRateWindow:      cfg.ClaimRateWindow,
		ClaimRetention:       defaultClaimRetention,
		DispatchConcurrency:  defaultDispatchConcurrency,
		EventsExchange:       cfg.EventsExchange,
	}
}

// Service provides the drop, credential, balance and claim operations.
type Service struct {
	mu sync.Mutex

	settings Settings
	drops    *dropstore.Store
	keys     *credentials.Registry
	ledger   *ledger.Ledger

	// claims holds every claim that has not finalized, tokens maps settlement
	// tokens back to their claim, finished keeps finalized claims for lookups.
	claims      map[uuid.UUID]*domain.InFlightClaim
	tokens      map[uuid.UUID]uuid.UUID
	finished    map[uuid.UUID]*domain.InFlightClaim
	withdrawals map[uuid.UUID]*domain.PendingWithdrawal
	// payments holds every funder payment reference already credited.
	payments    map[string]struct{}

	repo        store.Repository
	dispatcher  Dispatcher
	accounts    AccountFactory
	authorizer  Authorizer
	producer    rabbitmq.Publisher
	rateLimiter ClaimRateLimiter
	metrics     metrics.Recorder
	logger      *zap.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// NewService creates a new linkdrop service instance.
func NewService(repo store.Repository, dispatcher Dispatcher, accounts AccountFactory, producer rabbitmq.Publisher, settings Settings, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.DispatchConcurrency <= 0 {
		settings.DispatchConcurrency = defaultDispatchConcurrency
	}
	if settings.ClaimRetention <= 0 {
		settings.ClaimRetention = defaultClaimRetention
	}
	if settings.OutcomeTimeout <= 0 {
		settings.OutcomeTimeout = 10 * time.Minute
	}
	if settings.AccountCreateTimeout <= 0 {
		settings.AccountCreateTimeout = 30 * time.Second
	}
	return &Service{
		settings:    settings,
		drops:       dropstore.New(),
		keys:        credentials.NewRegistry(),
		ledger:      ledger.New(),
		claims:      make(map[uuid.UUID]*domain.InFlightClaim),
		tokens:      make(map[uuid.UUID]uuid.UUID),
		finished:    make(map[uuid.UUID]*domain.InFlightClaim),
		withdrawals: make(map[uuid.UUID]*domain.PendingWithdrawal),
		payments:    make(map[string]struct{}),
		repo:        repo,
		dispatcher:  dispatcher,
		accounts:    accounts,
		authorizer:  credentials.SignatureAuthorizer{},
		producer:    producer,
		metrics:     metrics.NoopRecorder{},
		logger:      logger.With(zap.String("component", "linkdrop_service")),
		validate:    validator.New(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetAuthorizer replaces the signature check used for claims.
func (s *Service) SetAuthorizer(a Authorizer) {
	if a != nil {
		s.authorizer = a
	}
}

func (s *Service) SetMetrics(r metrics.Recorder) {
	if r != nil {
		s.metrics = r
	}
}

// SetClaimRateLimiter enables per-credential claim throttling.
func (s *Service) SetClaimRateLimiter(limiter ClaimRateLimiter) {
	s.rateLimiter = limiter
}

// Restore loads the last persisted snapshot. A missing snapshot leaves the
// engine empty.
func (s *Service) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	state, err := s.repo.Load(ctx)
	if errors.Is(err, store.ErrStateNotFound) {
		s.logger.Info("no persisted state; starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.keys.Restore(state.Credentials); err != nil {
		return err
	}
	s.drops.Restore(state.Drops)
	s.ledger.Restore(state.Ledger)
	s.claims = make(map[uuid.UUID]*domain.InFlightClaim, len(state.Claims))
	s.tokens = make(map[uuid.UUID]uuid.UUID)
	for _, c := range state.Claims {
		s.claims[c.ClaimID] = c
		for _, st := range c.Settlements {
			if st.Status == domain.SettlementPending {
				s.tokens[st.Token] = c.ClaimID
			}
		}
	}
	s.withdrawals = make(map[uuid.UUID]*domain.PendingWithdrawal, len(state.Withdrawals))
	for _, w := range state.Withdrawals {
		s.withdrawals[w.Token] = w
	}
	s.payments = make(map[string]struct{}, len(state.PaymentRefs))
	for _, ref := range state.PaymentRefs {
		s.payments[ref] = struct{}{}
	}
	s.metrics.InFlight(len(s.claims))

	s.logger.Info("state restored",
		zap.Int64("version", state.Version),
		zap.Int("drops", len(state.Drops)),
		zap.Int("credentials", len(state.Credentials)),
		zap.Int("claims_in_flight", len(state.Claims)),
		zap.Int("withdrawals", len(state.Withdrawals)))
	return nil
}

// commitLocked persists the engine state. In-memory state stays authoritative
// when the write fails.
func (s *Service) commitLocked(ctx context.Context) {
	if s.repo == nil {
		return
	}
	state := &store.State{
		Drops:       s.drops.All(),
		Credentials: s.keys.All(),
		Ledger:      s.ledger.Snapshot(),
		Claims:      make([]*domain.InFlightClaim, 0, len(s.claims)),
		Withdrawals: make([]*domain.PendingWithdrawal, 0, len(s.withdrawals)),
		PaymentRefs: make([]string, 0, len(s.payments)),
		UpdatedAt:   s.now(),
	}
	for _, c := range s.claims {
		state.Claims = append(state.Claims, c)
	}
	for _, w := range s.withdrawals {
		state.Withdrawals = append(state.Withdrawals, w)
	}
	for ref := range s.payments {
		state.PaymentRefs = append(state.PaymentRefs, ref)
	}
	sort.Strings(state.PaymentRefs)

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.repo.Save(saveCtx, state); err != nil {
		s.logger.Error("failed to persist state", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, events ...domain.Event) {
	if s.producer == nil {
		return
	}
	for _, ev := range events {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		if err := s.producer.Publish(pubCtx, s.settings.EventsExchange, string(ev.Type), ev); err != nil {
			s.logger.Warn("failed to publish event", zap.String("event", string(ev.Type)), zap.Error(err))
		}
		cancel()
	}
}

func (s *Service) event(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: s.now()}
}

func (s *Service) validateRequest(req interface{}) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), domain.ErrInvalidRequest)
	}
	return nil
}

func amountPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
