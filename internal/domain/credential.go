package domain

import (
	"time"

	"github.com/google/uuid"
)

// Credential is a registered access key gating claims against one drop.
type Credential struct {
	PublicKey     string       `json:"public_key"`
	DropID        string       `json:"drop_id"`
	KeyID         uint64       `json:"key_id"`
	Funder        string       `json:"funder"`
	UsesRemaining uint32       `json:"uses_remaining"`
	InFlight      *InFlightRef `json:"in_flight,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// InFlightRef marks a credential whose current use is being settled.
type InFlightRef struct {
	ClaimID   uuid.UUID `json:"claim_id"`
	Receiver  string    `json:"receiver"`
	StartedAt time.Time `json:"started_at"`
}

// Clone returns a deep copy.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	if c.InFlight != nil {
		ref := *c.InFlight
		out.InFlight = &ref
	}
	return &out
}
