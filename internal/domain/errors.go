package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the service wraps exactly one of these
// so transports can map failures with errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrCredentialExhausted  = errors.New("credential exhausted")
	ErrDuplicateEntity      = errors.New("duplicate entity")
	ErrExternalActionFailed = errors.New("external action failed")
	ErrTimeout              = errors.New("outcome not observed in time")
	ErrPreconditionFailed   = errors.New("precondition failed")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrRateLimited          = errors.New("rate limited")
)

var (
	ErrDropNotFound       = fmt.Errorf("drop %w", ErrNotFound)
	ErrCredentialNotFound = fmt.Errorf("credential %w", ErrNotFound)
	ErrAssetNotDeclared   = fmt.Errorf("asset not declared on drop: %w", ErrNotFound)
	ErrClaimNotFound      = fmt.Errorf("claim %w", ErrNotFound)

	ErrDuplicateDrop       = fmt.Errorf("drop already exists: %w", ErrDuplicateEntity)
	ErrDuplicateCredential = fmt.Errorf("credential already registered: %w", ErrDuplicateEntity)
	ErrDuplicateTokenID    = fmt.Errorf("token id already held by drop: %w", ErrDuplicateEntity)
	ErrDuplicatePayment    = fmt.Errorf("payment already credited: %w", ErrDuplicateEntity)

	ErrNotDropFunder = fmt.Errorf("requester is not the drop funder: %w", ErrUnauthorized)
	ErrBadSignature  = fmt.Errorf("credential signature rejected: %w", ErrUnauthorized)

	ErrDropHasCredentials = fmt.Errorf("drop still has credentials: %w", ErrPreconditionFailed)
	ErrDropHasClaims      = fmt.Errorf("drop has claims in flight: %w", ErrPreconditionFailed)
	ErrClaimInProgress    = fmt.Errorf("credential has a claim in flight: %w", ErrPreconditionFailed)

	ErrAssetKindMismatch = fmt.Errorf("deposit does not match asset kind: %w", ErrInvalidRequest)
	ErrGasBudgetExceeded = fmt.Errorf("per-use execution budget exceeded: %w", ErrInvalidRequest)
	ErrInvalidPublicKey  = fmt.Errorf("malformed public key: %w", ErrInvalidRequest)
	ErrInvalidAmount     = fmt.Errorf("amount must be positive: %w", ErrInvalidRequest)
)
