package asset

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/transfa/linkdrop-service/internal/domain"
)

// FunctionCall performs a parameterized external call on a claim. A single
// method applies to every use; otherwise Methods is indexed by use number,
// and a nil entry means that use makes no call.
type FunctionCall struct {
	AssetID string                        `json:"asset_id"`
	Methods []*domain.MethodSpec          `json:"methods"`
	Pending map[uuid.UUID]decimal.Decimal `json:"pending,omitempty"`
}

// NewFunctionCall validates the method table. Each method attaches at most
// domain.MaxAttachedGas.
func NewFunctionCall(id string, methods []*domain.MethodSpec) (*FunctionCall, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = FunctionCallID
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("function call asset needs at least one method: %w", domain.ErrInvalidRequest)
	}
	active := 0
	for i, m := range methods {
		if m == nil {
			continue
		}
		active++
		if strings.TrimSpace(m.ReceiverID) == "" || strings.TrimSpace(m.MethodName) == "" {
			return nil, fmt.Errorf("method %d: receiver_id and method_name are required: %w", i+1, domain.ErrInvalidRequest)
		}
		if m.AttachedAmount.IsNegative() {
			return nil, fmt.Errorf("method %d attached_amount: %w", i+1, domain.ErrInvalidAmount)
		}
		if m.AttachedGas > domain.MaxAttachedGas {
			return nil, fmt.Errorf("method %d attached_gas %d exceeds %d: %w", i+1, m.AttachedGas, domain.MaxAttachedGas, domain.ErrGasBudgetExceeded)
		}
		if _, err := templateArgs(m.Args); err != nil {
			return nil, fmt.Errorf("method %d args: %w", i+1, err)
		}
	}
	if active == 0 {
		return nil, fmt.Errorf("function call asset has no callable method: %w", domain.ErrInvalidRequest)
	}
	return &FunctionCall{AssetID: id, Methods: methods, Pending: map[uuid.UUID]decimal.Decimal{}}, nil
}

func (f *FunctionCall) Kind() Kind { return KindFunctionCall }

func (f *FunctionCall) ID() string { return f.AssetID }

// UseCount is the number of uses the method table covers; 0 means every use.
func (f *FunctionCall) UseCount() int {
	if len(f.Methods) == 1 {
		return 0
	}
	return len(f.Methods)
}

// MethodFor selects the method spec for a 1-based use number.
func (f *FunctionCall) MethodFor(use uint32) *domain.MethodSpec {
	if len(f.Methods) == 1 {
		return f.Methods[0]
	}
	if use == 0 || int(use) > len(f.Methods) {
		return nil
	}
	return f.Methods[use-1]
}

func (f *FunctionCall) EnoughBalance(use uint32) bool {
	return f.MethodFor(use) != nil
}

func (f *FunctionCall) CostEstimate(use uint32) Gas {
	m := f.MethodFor(use)
	if m == nil {
		return 0
	}
	gas := m.AttachedGas
	if gas == 0 {
		gas = gasDefaultCall
	}
	return gas.Add(gasResolveCallback)
}

func (f *FunctionCall) NativeCostPerUse(use uint32, _ bool) decimal.Decimal {
	if m := f.MethodFor(use); m != nil {
		return m.AttachedAmount
	}
	return decimal.Zero
}

func (f *FunctionCall) Claim(cc ClaimContext) (domain.Action, uuid.UUID, error) {
	m := f.MethodFor(cc.UseNumber)
	if m == nil {
		return domain.Action{}, uuid.Nil, fmt.Errorf("no method for use %d: %w", cc.UseNumber, domain.ErrInsufficientBalance)
	}

	args, err := templateArgs(m.Args)
	if err != nil {
		return domain.Action{}, uuid.Nil, err
	}
	if m.AccountIDField != "" {
		args[m.AccountIDField] = cc.Receiver
	}
	if m.DropIDField != "" {
		args[m.DropIDField] = cc.DropID
	}
	if m.KeyIDField != "" {
		args[m.KeyIDField] = strconv.FormatUint(cc.KeyID, 10)
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return domain.Action{}, uuid.Nil, fmt.Errorf("encode args: %w", err)
	}

	if f.Pending == nil {
		f.Pending = map[uuid.UUID]decimal.Decimal{}
	}
	token := uuid.New()
	f.Pending[token] = m.AttachedAmount

	return domain.Action{
		Kind:       domain.ActionFunctionCall,
		Receiver:   cc.Receiver,
		ContractID: m.ReceiverID,
		Method:     m.MethodName,
		Args:       encoded,
		Amount:     m.AttachedAmount,
		Gas:        f.CostEstimate(cc.UseNumber),
	}, token, nil
}

func (f *FunctionCall) Refund(outcome domain.Outcome, token uuid.UUID) Restitution {
	attached, ok := f.Pending[token]
	if !ok {
		return Restitution{}
	}
	delete(f.Pending, token)
	if outcome == domain.OutcomeFailed {
		return Restitution{Native: attached}
	}
	return Restitution{}
}

func (f *FunctionCall) Deposit(Delta) (int, error) {
	return 0, domain.ErrAssetKindMismatch
}

func (f *FunctionCall) Drain(string) []domain.Action { return nil }

func (f *FunctionCall) Reserved() int { return len(f.Pending) }

func (f *FunctionCall) Clone() Asset {
	methods := make([]*domain.MethodSpec, len(f.Methods))
	for i, m := range f.Methods {
		if m != nil {
			cp := *m
			methods[i] = &cp
		}
	}
	return &FunctionCall{AssetID: f.AssetID, Methods: methods, Pending: cloneReservations(f.Pending)}
}

func templateArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("args must be a JSON object: %w", domain.ErrInvalidRequest)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
