package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/transfa/linkdrop-service/internal/asset"
	"github.com/transfa/linkdrop-service/internal/credentials"
	"github.com/transfa/linkdrop-service/internal/domain"
	"github.com/transfa/linkdrop-service/internal/dropstore"
)

// CreateDrop registers a drop for funder and mints any keys sent along with it.
// The drop storage and the keys are paid from the confirmed funder balance;
// nothing is written when that is not enough.
func (s *Service) CreateDrop(ctx context.Context, funder string, req domain.CreateDropRequest) (*dropstore.Drop, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	funder = strings.TrimSpace(funder)
	if funder == "" {
		return nil, fmt.Errorf("funder account is required: %w", domain.ErrUnauthorized)
	}
	assets, err := buildAssets(req.Assets, req.Config.UsesPerKey)
	if err != nil {
		return nil, err
	}
	keys, err := canonicalKeys(req.PublicKeys)
	if err != nil {
		return nil, err
	}

	dropID := strings.TrimSpace(req.DropID)
	if dropID == "" {
		dropID = uuid.NewString()
	}
	drop := &dropstore.Drop{
		ID:       dropID,
		FunderID: funder,
		Assets:   assets,
		Config: dropstore.Config{
			UsesPerKey:    req.Config.UsesPerKey,
			LazyRegister:  req.Config.LazyRegister,
			KeepEmptyDrop: req.Config.KeepEmptyDrop,
		},
		Credentials: make(map[string]struct{}),
		CreatedAt:   s.now(),
	}
	if err := s.checkGasBudget(drop); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, err := s.drops.Get(dropID); err == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", dropID, domain.ErrDuplicateDrop)
	}
	for _, pk := range keys {
		if s.keys.Has(pk) {
			s.mu.Unlock()
			return nil, fmt.Errorf("%s: %w", pk, domain.ErrDuplicateCredential)
		}
	}

	cost := s.settings.dropStorageCost(len(assets))
	if len(keys) > 0 {
		cost = cost.Add(s.settings.keyCost(drop).Mul(decimalFromInt(len(keys))))
	}
	available := s.ledger.BalanceOf(funder)
	if cost.GreaterThan(available) {
		s.mu.Unlock()
		s.logger.Info("create drop refused",
			zap.String("drop_id", dropID), zap.String("funder", funder),
			zap.String("cost", cost.String()), zap.String("available", available.String()))
		return nil, fmt.Errorf("drop %s costs %s, funder %s has %s: %w", dropID, cost, funder, available, domain.ErrInsufficientBalance)
	}

	if err := s.ledger.Debit(funder, cost); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.drops.Create(drop); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.addCredentialsLocked(drop, keys)
	s.commitLocked(ctx)
	view := drop.Clone()
	s.mu.Unlock()

	s.logger.Info("drop created",
		zap.String("drop_id", dropID), zap.String("funder", funder),
		zap.Int("assets", len(assets)), zap.Int("keys", len(keys)), zap.String("cost", cost.String()))

	created := s.event(domain.EventDropCreated)
	created.DropID, created.Funder, created.Amount = dropID, funder, amountPtr(cost)
	events := []domain.Event{created}
	if len(keys) > 0 {
		added := s.event(domain.EventKeysAdded)
		added.DropID, added.Funder, added.PublicKeys = dropID, funder, keys
		events = append(events, added)
	}
	s.publish(ctx, events...)
	return view, nil
}

// GetDrop returns a consistent copy of the drop.
func (s *Service) GetDrop(ctx context.Context, dropID string) (*dropstore.Drop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops.View(dropID)
}

// DepositAsset merges incoming units into an asset the drop declared. Native
// top-ups land on the funder balance. NFT ids are billed for storage against
// the funder, never the depositor.
func (s *Service) DepositAsset(ctx context.Context, req domain.DepositRequest) error {
	if err := s.validateRequest(req); err != nil {
		return err
	}

	s.mu.Lock()
	drop, err := s.drops.Get(req.DropID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	current, ok := drop.Assets[req.AssetID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", req.DropID, req.AssetID, domain.ErrAssetNotDeclared)
	}
	if current.Kind() != asset.Kind(req.Kind) {
		s.mu.Unlock()
		return fmt.Errorf("%s is %s, deposit is %s: %w", req.AssetID, current.Kind(), req.Kind, domain.ErrAssetKindMismatch)
	}

	// Deposit into a copy so a refused bill leaves the asset untouched.
	next := current.Clone()
	added, err := next.Deposit(asset.Delta{Kind: asset.Kind(req.Kind), Amount: req.Amount, TokenIDs: req.TokenIDs})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	storage := s.settings.tokenIDStorageCost(added)
	if err := s.ledger.Debit(drop.FunderID, storage); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("storage for %d token ids: %w", added, err)
	}
	if next.Kind() == asset.KindNative {
		if err := s.ledger.Credit(drop.FunderID, req.Amount); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	drop.Assets[req.AssetID] = next
	s.commitLocked(ctx)
	funder := drop.FunderID
	s.mu.Unlock()

	s.logger.Info("asset deposited",
		zap.String("drop_id", req.DropID), zap.String("asset_id", req.AssetID),
		zap.String("kind", req.Kind), zap.String("depositor", req.Depositor),
		zap.Int("token_ids", added), zap.String("storage_cost", storage.String()))

	ev := s.event(domain.EventAssetDeposited)
	ev.DropID, ev.Funder, ev.AssetID = req.DropID, funder, req.AssetID
	if !req.Amount.IsZero() {
		ev.Amount = amountPtr(req.Amount)
	}
	s.publish(ctx, ev)
	return nil
}

// DeleteDrop removes a drop that no credential references. Residual token
// units are sent back to the funder and the drop storage is credited back.
func (s *Service) DeleteDrop(ctx context.Context, dropID, requester string) error {
	s.mu.Lock()
	drop, err := s.drops.Get(dropID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if drop.FunderID != requester {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", dropID, domain.ErrNotDropFunder)
	}
	if _, err := s.drops.Delete(dropID); err != nil {
		s.mu.Unlock()
		return err
	}
	drains := s.releaseDropLocked(drop)
	s.commitLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("drop deleted", zap.String("drop_id", dropID), zap.Int("drained_actions", len(drains)))
	s.dispatchDrains(ctx, drains)

	ev := s.event(domain.EventDropDeleted)
	ev.DropID, ev.Funder = dropID, drop.FunderID
	s.publish(ctx, ev)
	return nil
}

// releaseDropLocked empties a drop that was just removed from the store and
// credits its storage back to the funder.
func (s *Service) releaseDropLocked(d *dropstore.Drop) []domain.ActionMessage {
	refund := s.settings.dropStorageCost(len(d.Assets))
	var msgs []domain.ActionMessage
	for _, id := range d.AssetIDs() {
		a := d.Assets[id]
		actions := a.Drain(d.FunderID)
		if a.Kind() == asset.KindNonFungibleToken {
			refund = refund.Add(s.settings.tokenIDStorageCost(len(actions)))
		}
		for _, action := range actions {
			msgs = append(msgs, domain.ActionMessage{SettlementToken: uuid.New(), DropID: d.ID, Action: action})
		}
	}
	if err := s.ledger.Credit(d.FunderID, refund); err != nil {
		s.logger.Error("failed to credit drop storage", zap.String("drop_id", d.ID), zap.Error(err))
	}
	return msgs
}

// pruneDropLocked deletes a drop left without credentials unless the funder
// asked to keep it.
func (s *Service) pruneDropLocked(d *dropstore.Drop) ([]domain.ActionMessage, bool) {
	if d.Config.KeepEmptyDrop || len(d.Credentials) > 0 {
		return nil, false
	}
	if _, err := s.drops.Delete(d.ID); err != nil {
		s.logger.Debug("drop not pruned", zap.String("drop_id", d.ID), zap.Error(err))
		return nil, false
	}
	return s.releaseDropLocked(d), true
}

func (s *Service) addCredentialsLocked(d *dropstore.Drop, keys []string) {
	for _, pk := range keys {
		cred := &domain.Credential{
			PublicKey:     pk,
			DropID:        d.ID,
			KeyID:         d.NextKeyID,
			Funder:        d.FunderID,
			UsesRemaining: d.Config.UsesPerKey,
			CreatedAt:     s.now(),
		}
		if err := s.keys.Add(cred); err != nil {
			s.logger.Error("credential not registered", zap.String("public_key", pk), zap.Error(err))
			continue
		}
		d.NextKeyID++
		d.Credentials[pk] = struct{}{}
	}
}

func (s *Service) checkGasBudget(d *dropstore.Drop) error {
	limit := s.settings.MaxGasPerClaim
	if limit == 0 {
		return nil
	}
	for use := uint32(1); use <= d.Config.UsesPerKey; use++ {
		var total domain.Gas
		for _, a := range d.Assets {
			total = total.Add(a.CostEstimate(use))
		}
		if total > limit {
			return fmt.Errorf("use %d needs %d gas, limit is %d: %w", use, total, limit, domain.ErrGasBudgetExceeded)
		}
	}
	return nil
}

func buildAssets(specs []domain.AssetSpec, usesPerKey uint32) (map[string]asset.Asset, error) {
	out := make(map[string]asset.Asset, len(specs))
	for i, spec := range specs {
		a, err := asset.FromSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("asset %d: %w", i, err)
		}
		if fc, ok := a.(*asset.FunctionCall); ok {
			if n := fc.UseCount(); n != 0 && n != int(usesPerKey) {
				return nil, fmt.Errorf("function call %s has %d methods for %d uses: %w", fc.ID(), n, usesPerKey, domain.ErrInvalidRequest)
			}
		}
		if _, dup := out[a.ID()]; dup {
			return nil, fmt.Errorf("asset %s declared twice: %w", a.ID(), domain.ErrDuplicateEntity)
		}
		out[a.ID()] = a
	}
	return out, nil
}

func canonicalKeys(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		pk, err := credentials.CanonicalKey(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[pk]; dup {
			return nil, fmt.Errorf("%s listed twice: %w", pk, domain.ErrDuplicateCredential)
		}
		seen[pk] = struct{}{}
		out = append(out, pk)
	}
	return out, nil
}
