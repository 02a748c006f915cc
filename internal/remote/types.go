package remote

import (
	"encoding/json"

	"github.com/mesapos/mesaposgo/internal/models"
)

// PushStatus is the remote store's verdict on a submitted mutation
type PushStatus string

const (
	PushOK       PushStatus = "ok"
	PushConflict PushStatus = "conflict"
	PushRejected PushStatus = "rejected"
)

// Rejection reasons the dispatcher branches on
const (
	ReasonAlreadyExists = "already_exists"
)

// MutationRequest is one mutation submitted to the cloud mutation endpoint.
// IdempotencyKey is the mutation entry's id; a repeated submission with the
// same key has no additional effect after the first successful application.
type MutationRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	BusinessID     string            `json:"business_id"`
	EntityType     models.EntityType `json:"entity_type"`
	EntityID       string            `json:"entity_id"`
	Operation      models.Operation  `json:"operation"`
	Payload        models.JSONB      `json:"payload"`
	BaseVersion    int64             `json:"base_version"`
}

// MutationResponse is the remote store's answer to a mutation submission
type MutationResponse struct {
	Status PushStatus `json:"status"`

	// Set on ok (also on ok-replays of an already-applied idempotency key)
	NewVersion int64 `json:"new_version,omitempty"`

	// Set on conflict
	CurrentVersion int64           `json:"current_version,omitempty"`
	CurrentValue   json.RawMessage `json:"current_value,omitempty"`

	// Set on rejected
	Reason string `json:"reason,omitempty"`
}

// Change is one remote-authoritative delta returned by the pull endpoint
type Change struct {
	EntityType models.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Deleted    bool              `json:"deleted,omitempty"`
	Value      json.RawMessage   `json:"value"`
	Version    int64             `json:"version"`
}

// ChangesResponse is a page of deltas after a cursor
type ChangesResponse struct {
	Changes    []Change `json:"changes"`
	NextCursor int64    `json:"next_cursor"`
}
