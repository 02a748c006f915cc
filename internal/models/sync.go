package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB type for PostgreSQL JSONB fields
type JSONB map[string]interface{}

// Scan implements sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONB)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to unmarshal JSONB value: %v", value)
	}

	result := make(JSONB)
	err := json.Unmarshal(bytes, &result)
	*j = result
	return err
}

// Value implements driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(j)
}

// EntityType identifies which business table a mutation or pulled change targets
type EntityType string

const (
	EntityTypeOrder         EntityType = "order"
	EntityTypeOrderItem     EntityType = "order_item"
	EntityTypeInventoryItem EntityType = "inventory_item"
	EntityTypeMenuItem      EntityType = "menu_item"
	EntityTypeLoyaltyEntry  EntityType = "loyalty_ledger_entry"
)

// Operation is the kind of change a mutation carries
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// MutationStatus is the lifecycle state of a queued mutation
type MutationStatus string

const (
	MutationPending         MutationStatus = "pending"
	MutationInFlight        MutationStatus = "in_flight"
	MutationFailedPermanent MutationStatus = "failed_permanent"
)

// MutationEntry is one pending outbound change in the durable queue.
// The row is inserted in the same transaction as the business write that
// produced it, and deleted once the remote store acknowledges the mutation.
type MutationEntry struct {
	ID            string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	BusinessID    string         `gorm:"type:varchar(36);not null;index" json:"business_id"`
	EntityType    EntityType     `gorm:"type:varchar(50);not null;index:idx_entity_fifo" json:"entity_type"`
	EntityID      string         `gorm:"type:varchar(255);not null;index:idx_entity_fifo" json:"entity_id"`
	Operation     Operation      `gorm:"type:varchar(20);not null" json:"operation"`
	Payload       JSONB          `gorm:"type:jsonb" json:"payload"`
	BaseVersion   int64          `gorm:"not null" json:"base_version"`
	Status        MutationStatus `gorm:"type:varchar(20);default:'pending';index:idx_dispatch" json:"status"`
	AttemptCount  int            `gorm:"default:0" json:"attempt_count"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	NextAttemptAt time.Time      `gorm:"not null;index:idx_dispatch" json:"next_attempt_at"`
	ErrorMessage  *string        `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_entity_fifo" json:"created_at"`
}

// TableName matches the queue table the terminal app has always used
func (MutationEntry) TableName() string {
	return "sync_queue"
}

// IdempotencyOutcome is the terminal result recorded for a mutation id
type IdempotencyOutcome string

const (
	OutcomeSettled  IdempotencyOutcome = "settled"
	OutcomeRejected IdempotencyOutcome = "rejected"
)

// IdempotencyRecord maps a mutation id to its terminal outcome. It survives
// the mutation entry itself so a retried submission whose first success
// acknowledgment was lost can be recognized without resubmitting.
type IdempotencyRecord struct {
	MutationID string             `gorm:"type:varchar(36);primaryKey" json:"mutation_id"`
	Outcome    IdempotencyOutcome `gorm:"type:varchar(20);not null" json:"outcome"`
	NewVersion int64              `json:"new_version"`
	RecordedAt time.Time          `gorm:"not null;index" json:"recorded_at"`
}

// TableName specifies the table name
func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}

// ReconciliationCursor is the last remote version successfully pulled for an
// entity type. Persisted so a restart resumes instead of re-pulling everything.
type ReconciliationCursor struct {
	BusinessID string     `gorm:"type:varchar(36);primaryKey" json:"business_id"`
	EntityType EntityType `gorm:"type:varchar(50);primaryKey" json:"entity_type"`
	Cursor     int64      `gorm:"default:0" json:"cursor"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName specifies the table name
func (ReconciliationCursor) TableName() string {
	return "reconciliation_cursors"
}

// SyncFailure records a mutation that will never be retried automatically.
// Surfaced to the operator for manual reconciliation (a "resync" action).
type SyncFailure struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	MutationID    string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"mutation_id"`
	BusinessID    string     `gorm:"type:varchar(36);not null;index" json:"business_id"`
	EntityType    EntityType `gorm:"type:varchar(50);not null;index:idx_failure_entity" json:"entity_type"`
	EntityID      string     `gorm:"type:varchar(255);not null;index:idx_failure_entity" json:"entity_id"`
	Operation     Operation  `gorm:"type:varchar(20);not null" json:"operation"`
	Payload       JSONB      `gorm:"type:jsonb" json:"payload"`
	Reason        string     `gorm:"type:text" json:"reason"`
	RemoteVersion int64      `json:"remote_version"`
	RemoteValue   JSONB      `gorm:"type:jsonb" json:"remote_value"`
	Resolved      bool       `gorm:"default:false;index" json:"resolved"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TableName specifies the table name
func (SyncFailure) TableName() string {
	return "sync_failures"
}
