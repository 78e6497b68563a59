package asset

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/transfa/linkdrop-service/internal/domain"
)

// NonFungibleToken hands out one token id per use, most recently deposited first.
type NonFungibleToken struct {
	ContractID string               `json:"contract_id"`
	TokenIDs   []string             `json:"token_ids"`
	Pending    map[uuid.UUID]string `json:"pending,omitempty"`
}

// NewNonFungibleToken returns an empty token-id stack for contractID.
func NewNonFungibleToken(contractID string) (*NonFungibleToken, error) {
	contractID = strings.TrimSpace(contractID)
	if contractID == "" {
		return nil, fmt.Errorf("nft contract_id is required: %w", domain.ErrInvalidRequest)
	}
	return &NonFungibleToken{
		ContractID: contractID,
		TokenIDs:   []string{},
		Pending:    map[uuid.UUID]string{},
	}, nil
}

func (n *NonFungibleToken) Kind() Kind { return KindNonFungibleToken }

func (n *NonFungibleToken) ID() string { return n.ContractID }

func (n *NonFungibleToken) EnoughBalance(uint32) bool { return len(n.TokenIDs) > 0 }

func (n *NonFungibleToken) CostEstimate(uint32) Gas {
	return gasNFTTransfer + gasResolveCallback
}

func (n *NonFungibleToken) NativeCostPerUse(uint32, bool) decimal.Decimal {
	return decimal.Zero
}

func (n *NonFungibleToken) Claim(cc ClaimContext) (domain.Action, uuid.UUID, error) {
	last := len(n.TokenIDs) - 1
	if last < 0 {
		return domain.Action{}, uuid.Nil, fmt.Errorf("nft pool %s is empty: %w", n.ContractID, domain.ErrInsufficientBalance)
	}
	if n.Pending == nil {
		n.Pending = map[uuid.UUID]string{}
	}

	tokenID := n.TokenIDs[last]
	n.TokenIDs = n.TokenIDs[:last]
	token := uuid.New()
	n.Pending[token] = tokenID

	return domain.Action{
		Kind:       domain.ActionNFTTransfer,
		Receiver:   cc.Receiver,
		ContractID: n.ContractID,
		TokenID:    tokenID,
		Gas:        n.CostEstimate(cc.UseNumber),
	}, token, nil
}

func (n *NonFungibleToken) Refund(outcome domain.Outcome, token uuid.UUID) Restitution {
	tokenID, ok := n.Pending[token]
	if !ok {
		return Restitution{}
	}
	delete(n.Pending, token)
	if outcome == domain.OutcomeFailed {
		if !n.holds(tokenID) {
			n.TokenIDs = append(n.TokenIDs, tokenID)
		}
		return Restitution{}
	}
	return Restitution{FreedTokenIDs: 1}
}

// Deposit appends token ids. The whole batch is rejected if any id is
// already held or reserved by the drop.
func (n *NonFungibleToken) Deposit(d Delta) (int, error) {
	if d.Kind != KindNonFungibleToken {
		return 0, domain.ErrAssetKindMismatch
	}
	if len(d.TokenIDs) == 0 {
		return 0, fmt.Errorf("nft deposit without token ids: %w", domain.ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(d.TokenIDs))
	for _, id := range d.TokenIDs {
		if _, dup := seen[id]; dup || n.holds(id) || n.reserves(id) {
			return 0, fmt.Errorf("%s/%s: %w", n.ContractID, id, domain.ErrDuplicateTokenID)
		}
		seen[id] = struct{}{}
	}
	n.TokenIDs = append(n.TokenIDs, d.TokenIDs...)
	return len(d.TokenIDs), nil
}

func (n *NonFungibleToken) Drain(owner string) []domain.Action {
	actions := make([]domain.Action, 0, len(n.TokenIDs))
	for i := len(n.TokenIDs) - 1; i >= 0; i-- {
		actions = append(actions, domain.Action{
			Kind:       domain.ActionNFTTransfer,
			Receiver:   owner,
			ContractID: n.ContractID,
			TokenID:    n.TokenIDs[i],
			Gas:        gasNFTTransfer,
		})
	}
	n.TokenIDs = []string{}
	return actions
}

func (n *NonFungibleToken) Reserved() int { return len(n.Pending) }

func (n *NonFungibleToken) Clone() Asset {
	return &NonFungibleToken{
		ContractID: n.ContractID,
		TokenIDs:   append([]string{}, n.TokenIDs...),
		Pending:    cloneReservations(n.Pending),
	}
}

func (n *NonFungibleToken) holds(id string) bool {
	for _, held := range n.TokenIDs {
		if held == id {
			return true
		}
	}
	return false
}

func (n *NonFungibleToken) reserves(id string) bool {
	for _, reserved := range n.Pending {
		if reserved == id {
			return true
		}
	}
	return false
}
